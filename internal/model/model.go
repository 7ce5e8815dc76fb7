package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Conversation is one mirrored thread, keyed by session and canonical address.
type Conversation struct {
	SessionID       string    `json:"-"                     gorm:"primaryKey;column:session_id"`
	Address         string    `json:"address"               gorm:"primaryKey;column:address"`
	Name            string    `json:"name"                  gorm:"column:name;not null"`
	IsGroup         bool      `json:"isGroup"               gorm:"column:is_group;not null"`
	UnreadCount     int       `json:"unreadCount"           gorm:"column:unread_count;not null"`
	LastMessage     *string   `json:"lastMessage,omitempty" gorm:"column:last_message"`
	LastMessageTS   int64     `json:"lastMessageTs"         gorm:"column:last_message_ts;not null"`
	EphemeralExpiry int64     `json:"ephemeralExpiry"       gorm:"column:ephemeral_expiry;not null"`
	CreatedAtSec    int64     `json:"createdAtSec"          gorm:"column:created_at_sec;not null"`
	UpdatedAtSec    int64     `json:"updatedAtSec"          gorm:"column:updated_at_sec;not null"`
	CreatedAt       time.Time `json:"createdAt"             gorm:"column:created_at"`
	UpdatedAt       time.Time `json:"updatedAt"             gorm:"column:updated_at"`
}

func (Conversation) TableName() string { return "mirror_conversations" }

// Identity is a person or group known to the session.
type Identity struct {
	SessionID      string    `json:"-"                      gorm:"primaryKey;column:session_id"`
	Address        string    `json:"address"                gorm:"primaryKey;column:address"`
	Phone          string    `json:"phone,omitempty"        gorm:"column:phone;not null"`
	Name           string    `json:"name,omitempty"         gorm:"column:name;not null"`
	Notify         string    `json:"notify,omitempty"       gorm:"column:notify;not null"`
	VerifiedName   string    `json:"verifiedName,omitempty" gorm:"column:verified_name;not null"`
	IsMe           bool      `json:"isMe"                   gorm:"column:is_me;not null"`
	IsKnownContact bool      `json:"isKnownContact"         gorm:"column:is_known_contact;not null"`
	IsGroup        bool      `json:"isGroup"                gorm:"column:is_group;not null"`
	Source         string    `json:"source"                 gorm:"column:source;not null"`
	UpdatedAtSec   int64     `json:"updatedAtSec"           gorm:"column:updated_at_sec;not null"`
	CreatedAt      time.Time `json:"createdAt"              gorm:"column:created_at"`
	UpdatedAt      time.Time `json:"updatedAt"              gorm:"column:updated_at"`
}

func (Identity) TableName() string { return "mirror_identities" }

// DisplayName returns the best available human name.
func (i Identity) DisplayName() string {
	for _, v := range []string{i.VerifiedName, i.Name, i.Notify} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Message is one mirrored message. RawEnvelope holds the JSON encoded Envelope.
type Message struct {
	SessionID           string    `json:"-"                   gorm:"primaryKey;column:session_id"`
	ID                  string    `json:"id"                  gorm:"primaryKey;column:id"`
	ConversationAddress string    `json:"conversationAddress" gorm:"column:conversation_address;not null"`
	FromMe              bool      `json:"fromMe"              gorm:"column:from_me;not null"`
	SenderAddress       string    `json:"senderAddress"       gorm:"column:sender_address;not null"`
	Kind                string    `json:"kind"                gorm:"column:kind;not null"`
	Body                string    `json:"body"                gorm:"column:body;not null"`
	TimestampSec        int64     `json:"timestampSec"        gorm:"column:timestamp_sec;not null"`
	RawEnvelope         string    `json:"-"                   gorm:"column:raw_envelope"`
	UpdatedAtSec        int64     `json:"updatedAtSec"        gorm:"column:updated_at_sec;not null"`
	CreatedAt           time.Time `json:"createdAt"           gorm:"column:created_at"`
	UpdatedAt           time.Time `json:"updatedAt"           gorm:"column:updated_at"`
}

func (Message) TableName() string { return "mirror_messages" }

// Envelope decodes RawEnvelope. An empty column yields an empty envelope.
func (m *Message) Envelope() (*Envelope, error) {
	env := &Envelope{}
	if len(m.RawEnvelope) == 0 {
		return env, nil
	}
	if err := json.Unmarshal([]byte(m.RawEnvelope), env); err != nil {
		return nil, fmt.Errorf("decode envelope of message %s: %w", m.ID, err)
	}
	return env, nil
}

// SetEnvelope encodes env into RawEnvelope.
func (m *Message) SetEnvelope(env *Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope of message %s: %w", m.ID, err)
	}
	m.RawEnvelope = string(raw)
	return nil
}

// MarshalJSON includes the raw envelope as a nested JSON value.
func (m Message) MarshalJSON() ([]byte, error) {
	type Alias Message // avoid recursion
	aux := struct {
		Alias
		Raw json.RawMessage `json:"raw,omitempty"`
	}{
		Alias: Alias(m),
	}
	if m.RawEnvelope != "" && json.Valid([]byte(m.RawEnvelope)) {
		aux.Raw = json.RawMessage(m.RawEnvelope)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON restores Message including the raw envelope, keeping cache
// round-trips lossless.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		Alias
		Raw json.RawMessage `json:"raw,omitempty"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Message(aux.Alias)
	if len(aux.Raw) == 0 || string(aux.Raw) == "null" {
		m.RawEnvelope = ""
		return nil
	}
	m.RawEnvelope = string(aux.Raw)
	return nil
}
