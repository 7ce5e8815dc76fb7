package transport

// Event names as emitted by the transport session.
const (
	EventContactsUpsert          = "contacts.upsert"
	EventContactsUpdate          = "contacts.update"
	EventContactsSet             = "contacts.set"
	EventChatsUpsert             = "chats.upsert"
	EventChatsUpdate             = "chats.update"
	EventChatsSet                = "chats.set"
	EventChatsDelete             = "chats.delete"
	EventHistorySet              = "messaging-history.set"
	EventMessagesUpsert          = "messages.upsert"
	EventMessagesUpdate          = "messages.update"
	EventMessagesDelete          = "messages.delete"
	EventGroupParticipantsUpdate = "group-participants.update"
)

// Event is implemented by every inbound event payload.
type Event interface {
	EventName() string
}

// Contact is an address book entry as reported by the transport.
type Contact struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Notify       string `json:"notify,omitempty"`
	VerifiedName string `json:"verifiedName,omitempty"`
	PushName     string `json:"pushName,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Alias        string `json:"lid,omitempty"`
	AliasJID     string `json:"lidJid,omitempty"`
	AliasUser    string `json:"lidUser,omitempty"`
	IsMyContact  *bool  `json:"isMyContact,omitempty"`
	IsMe         *bool  `json:"isMe,omitempty"`
}

// Chat is a conversation entry as reported by the transport.
type Chat struct {
	ID                    string `json:"id"`
	Name                  string `json:"name,omitempty"`
	Subject               string `json:"subject,omitempty"`
	Notify                string `json:"notify,omitempty"`
	UnreadCount           *int   `json:"unreadCount,omitempty"`
	ConversationTimestamp int64  `json:"conversationTimestamp,omitempty"`
	EphemeralExpiration   int64  `json:"ephemeralExpiration,omitempty"`
	IsMyContact           bool   `json:"isMyContact,omitempty"`
}

// MessageUpdate multiplexes edits, stars, pins, poll votes, revokes and
// status merges on a single shape.
type MessageUpdate struct {
	Key    Key           `json:"key"`
	Update UpdateContent `json:"update"`
}

type UpdateContent struct {
	Message          *Message `json:"message,omitempty"`
	Starred          *bool    `json:"starred,omitempty"`
	MessageTimestamp int64    `json:"messageTimestamp,omitempty"`
	PushName         string   `json:"pushName,omitempty"`
	Status           int      `json:"status,omitempty"`
}

type Participant struct {
	ID       string `json:"id"`
	Alias    string `json:"lid,omitempty"`
	AliasJID string `json:"lidJid,omitempty"`
}

// ContactsUpsert carries contacts.upsert and contacts.update.
type ContactsUpsert struct {
	Contacts []Contact `json:"contacts"`
}

type ContactsSet struct {
	Contacts []Contact `json:"contacts"`
}

// ChatsUpsert carries chats.upsert and chats.update.
type ChatsUpsert struct {
	Chats []Chat `json:"chats"`
}

type ChatsSet struct {
	Chats []Chat `json:"chats"`
}

type ChatsDelete struct {
	IDs []string `json:"ids"`
}

// HistorySet is a bulk history replay.
type HistorySet struct {
	Contacts []Contact    `json:"contacts,omitempty"`
	Chats    []Chat       `json:"chats,omitempty"`
	Messages []WebMessage `json:"messages,omitempty"`
}

type MessagesUpsert struct {
	Type     string       `json:"type,omitempty"`
	Messages []WebMessage `json:"messages"`
}

type MessagesUpdate struct {
	Updates []MessageUpdate `json:"updates"`
}

type MessagesDelete struct {
	Keys []Key `json:"keys"`
}

type GroupParticipantsUpdate struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Action       string        `json:"action"`
}

func (ContactsUpsert) EventName() string          { return EventContactsUpsert }
func (ContactsSet) EventName() string             { return EventContactsSet }
func (ChatsUpsert) EventName() string             { return EventChatsUpsert }
func (ChatsSet) EventName() string                { return EventChatsSet }
func (ChatsDelete) EventName() string             { return EventChatsDelete }
func (HistorySet) EventName() string              { return EventHistorySet }
func (MessagesUpsert) EventName() string          { return EventMessagesUpsert }
func (MessagesUpdate) EventName() string          { return EventMessagesUpdate }
func (MessagesDelete) EventName() string          { return EventMessagesDelete }
func (GroupParticipantsUpdate) EventName() string { return EventGroupParticipantsUpdate }

// Source delivers events in arrival order. The channel is closed when the
// session ends.
type Source interface {
	Events() <-chan Event
}

// VoteDecoder decrypts an encrypted poll vote into selected option hashes.
// It is supplied by the transport; a nil decoder falls back to plaintext votes.
type VoteDecoder interface {
	DecodeVote(update *PollUpdateMessage, creation *PollCreationMessage, self string) ([][]byte, error)
}

// ChannelSource adapts a plain channel to Source.
type ChannelSource chan Event

func (c ChannelSource) Events() <-chan Event { return c }
