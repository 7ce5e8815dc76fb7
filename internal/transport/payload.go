package transport

// Key addresses a single message inside a conversation.
type Key struct {
	RemoteAddress    string `json:"remoteJid,omitempty"`
	ID               string `json:"id,omitempty"`
	FromMe           bool   `json:"fromMe,omitempty"`
	Participant      string `json:"participant,omitempty"`
	ParticipantPN    string `json:"participantPn,omitempty"`
	SenderPN         string `json:"senderPn,omitempty"`
	SenderAlias      string `json:"senderLid,omitempty"`
	ParticipantAlias string `json:"participantLid,omitempty"`
	Alias            string `json:"lid,omitempty"`
	// RawParticipant keeps the participant as delivered before normalization.
	RawParticipant string `json:"rawParticipant,omitempty"`
}

// WebMessage is one message as delivered by the transport session.
type WebMessage struct {
	Key              Key      `json:"key"`
	Message          *Message `json:"message,omitempty"`
	MessageTimestamp int64    `json:"messageTimestamp,omitempty"`
	PushName         string   `json:"pushName,omitempty"`
	Participant      string   `json:"participant,omitempty"`
	ParticipantPN    string   `json:"participantPn,omitempty"`
	SenderAlias      string   `json:"senderLid,omitempty"`
	ParticipantAlias string   `json:"participantLid,omitempty"`
	Starred          bool     `json:"starred,omitempty"`
}

// ContextInfo carries quoting and mention metadata for a content node.
type ContextInfo struct {
	MentionedJID  []string `json:"mentionedJid,omitempty"`
	StanzaID      string   `json:"stanzaId,omitempty"`
	Participant   string   `json:"participant,omitempty"`
	QuotedMessage *Message `json:"quotedMessage,omitempty"`
}

// Message is the protocol payload. Exactly one content field is normally set,
// possibly nested inside one or more wrapper layers.
type Message struct {
	Conversation        string                      `json:"conversation,omitempty"`
	ExtendedText        *ExtendedTextMessage        `json:"extendedTextMessage,omitempty"`
	Image               *MediaMessage               `json:"imageMessage,omitempty"`
	Video               *MediaMessage               `json:"videoMessage,omitempty"`
	PTV                 *MediaMessage               `json:"ptvMessage,omitempty"`
	Audio               *MediaMessage               `json:"audioMessage,omitempty"`
	Document            *MediaMessage               `json:"documentMessage,omitempty"`
	Sticker             *MediaMessage               `json:"stickerMessage,omitempty"`
	Contact             *ContactMessage             `json:"contactMessage,omitempty"`
	ContactsArray       *ContactsArrayMessage       `json:"contactsArrayMessage,omitempty"`
	Location            *LocationMessage            `json:"locationMessage,omitempty"`
	LiveLocation        *LocationMessage            `json:"liveLocationMessage,omitempty"`
	Buttons             *ButtonsMessage             `json:"buttonsMessage,omitempty"`
	ButtonsResponse     *ButtonsResponseMessage     `json:"buttonsResponseMessage,omitempty"`
	Template            *TemplateMessage            `json:"templateMessage,omitempty"`
	TemplateButtonReply *TemplateButtonReplyMessage `json:"templateButtonReplyMessage,omitempty"`
	ListResponse        *ListResponseMessage        `json:"listResponseMessage,omitempty"`
	InteractiveResponse *InteractiveResponseMessage `json:"interactiveResponseMessage,omitempty"`
	PollCreation        *PollCreationMessage        `json:"pollCreationMessage,omitempty"`
	PollCreationV2      *PollCreationMessage        `json:"pollCreationMessageV2,omitempty"`
	PollCreationV3      *PollCreationMessage        `json:"pollCreationMessageV3,omitempty"`
	PollUpdate          *PollUpdateMessage          `json:"pollUpdateMessage,omitempty"`
	Event               *EventMessage               `json:"eventMessage,omitempty"`
	Protocol            *ProtocolMessage            `json:"protocolMessage,omitempty"`
	EditedMessage       *FutureProofMessage         `json:"editedMessage,omitempty"`
	Reaction            *ReactionMessage            `json:"reactionMessage,omitempty"`
	PinInChat           *PinInChatMessage           `json:"pinInChatMessage,omitempty"`

	SenderKeyDistribution *SenderKeyDistributionMessage `json:"senderKeyDistributionMessage,omitempty"`

	ViewOnce            *FutureProofMessage `json:"viewOnceMessage,omitempty"`
	ViewOnceV2          *FutureProofMessage `json:"viewOnceMessageV2,omitempty"`
	ViewOnceV2Extension *FutureProofMessage `json:"viewOnceMessageV2Extension,omitempty"`
	Ephemeral           *FutureProofMessage `json:"ephemeralMessage,omitempty"`
	DeviceSent          *DeviceSentMessage  `json:"deviceSentMessage,omitempty"`

	MessageContextInfo *ContextInfo `json:"messageContextInfo,omitempty"`
}

// FutureProofMessage wraps another payload (view-once, ephemeral, edits).
type FutureProofMessage struct {
	Message *Message `json:"message,omitempty"`
}

// DeviceSentMessage relays a payload sent from another device of the same account.
type DeviceSentMessage struct {
	DestinationJID string   `json:"destinationJid,omitempty"`
	Message        *Message `json:"message,omitempty"`
}

type ExtendedTextMessage struct {
	Text        string       `json:"text,omitempty"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// MediaMessage covers image, video, audio, document, sticker and point-to-video nodes.
type MediaMessage struct {
	Caption     string       `json:"caption,omitempty"`
	Mimetype    string       `json:"mimetype,omitempty"`
	URL         string       `json:"url,omitempty"`
	FileName    string       `json:"fileName,omitempty"`
	Seconds     int          `json:"seconds,omitempty"`
	GifPlayback bool         `json:"gifPlayback,omitempty"`
	PTT         bool         `json:"ptt,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`

	// Populated locally once decrypted media has been stored.
	URLDecrypt    string `json:"urlDecrypt,omitempty"`
	StorageKey    string `json:"storageKey,omitempty"`
	StorageDriver string `json:"storageDriver,omitempty"`
}

type ContactMessage struct {
	DisplayName string       `json:"displayName,omitempty"`
	VCard       string       `json:"vcard,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

type ContactsArrayMessage struct {
	DisplayName string           `json:"displayName,omitempty"`
	Contacts    []ContactMessage `json:"contacts,omitempty"`
	ContextInfo *ContextInfo     `json:"contextInfo,omitempty"`
}

type LocationMessage struct {
	DegreesLatitude  float64      `json:"degreesLatitude,omitempty"`
	DegreesLongitude float64      `json:"degreesLongitude,omitempty"`
	Name             string       `json:"name,omitempty"`
	Address          string       `json:"address,omitempty"`
	Caption          string       `json:"caption,omitempty"`
	ContextInfo      *ContextInfo `json:"contextInfo,omitempty"`
}

type ButtonsMessage struct {
	ContentText string       `json:"contentText,omitempty"`
	FooterText  string       `json:"footerText,omitempty"`
	Text        string       `json:"text,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

type ButtonsResponseMessage struct {
	SelectedButtonID    string       `json:"selectedButtonId,omitempty"`
	SelectedDisplayText string       `json:"selectedDisplayText,omitempty"`
	ContextInfo         *ContextInfo `json:"contextInfo,omitempty"`
}

type HydratedTemplate struct {
	HydratedContentText string `json:"hydratedContentText,omitempty"`
	HydratedFooterText  string `json:"hydratedFooterText,omitempty"`
}

type TemplateMessage struct {
	HydratedTemplate *HydratedTemplate `json:"hydratedTemplate,omitempty"`
	ContextInfo      *ContextInfo      `json:"contextInfo,omitempty"`
}

type TemplateButtonReplyMessage struct {
	SelectedID          string       `json:"selectedId,omitempty"`
	SelectedDisplayText string       `json:"selectedDisplayText,omitempty"`
	ContextInfo         *ContextInfo `json:"contextInfo,omitempty"`
}

type SingleSelectReply struct {
	SelectedRowID string `json:"selectedRowId,omitempty"`
}

type ListResponseMessage struct {
	Title             string             `json:"title,omitempty"`
	Description       string             `json:"description,omitempty"`
	SingleSelectReply *SingleSelectReply `json:"singleSelectReply,omitempty"`
	ContextInfo       *ContextInfo       `json:"contextInfo,omitempty"`
}

type InteractiveBody struct {
	Text string `json:"text,omitempty"`
}

type NativeFlowResponse struct {
	Name       string `json:"name,omitempty"`
	ParamsJSON string `json:"paramsJson,omitempty"`
}

type InteractiveResponseMessage struct {
	Body                      *InteractiveBody    `json:"body,omitempty"`
	NativeFlowResponseMessage *NativeFlowResponse `json:"nativeFlowResponseMessage,omitempty"`
	ContextInfo               *ContextInfo        `json:"contextInfo,omitempty"`
}

type PollOption struct {
	OptionName string `json:"optionName"`
}

type PollCreationMessage struct {
	Name                   string       `json:"name,omitempty"`
	Options                []PollOption `json:"options,omitempty"`
	SelectableOptionsCount int          `json:"selectableOptionsCount,omitempty"`
	ContextInfo            *ContextInfo `json:"contextInfo,omitempty"`
}

// PollVote lists the selected options, each either the SHA-256 of an option
// name or the option name itself.
type PollVote struct {
	SelectedOptions [][]byte `json:"selectedOptions,omitempty"`
}

// PollEncValue is the encrypted vote as delivered; decoding belongs to the transport.
type PollEncValue struct {
	EncPayload []byte `json:"encPayload,omitempty"`
	EncIV      []byte `json:"encIv,omitempty"`
}

type PollUpdateMessage struct {
	PollCreationMessageKey Key           `json:"pollCreationMessageKey"`
	Vote                   *PollVote     `json:"vote,omitempty"`
	EncVote                *PollEncValue `json:"encVote,omitempty"`
	SenderTimestampMs      int64         `json:"senderTimestampMs,omitempty"`
}

type EventMessage struct {
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	StartTime   int64        `json:"startTime,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// ProtocolType distinguishes control frames.
type ProtocolType int

const (
	ProtocolRevoke      ProtocolType = 0
	ProtocolEphemeral   ProtocolType = 3
	ProtocolMessageEdit ProtocolType = 14
)

type ProtocolMessage struct {
	Key *Key `json:"key,omitempty"`
	// Type is a pointer so an absent type is never mistaken for a revoke.
	Type          *ProtocolType `json:"type,omitempty"`
	EditedMessage *Message      `json:"editedMessage,omitempty"`
	TimestampMs   int64         `json:"timestampMs,omitempty"`
}

type ReactionMessage struct {
	Key               Key    `json:"key"`
	Text              string `json:"text"`
	SenderTimestampMs int64  `json:"senderTimestampMs,omitempty"`
}

// PinType values for PinInChatMessage.
const (
	PinForAll   = 1
	UnpinForAll = 2
)

type PinInChatMessage struct {
	Key                 Key   `json:"key"`
	Type                int   `json:"type"`
	SenderTimestampMs   int64 `json:"senderTimestampMs,omitempty"`
	ExpirationTimestamp int64 `json:"expirationTimestamp,omitempty"`
}

type SenderKeyDistributionMessage struct {
	GroupID string `json:"groupId,omitempty"`
}
