package store

import (
	"context"
	"fmt"

	"github.com/chirino/chat-mirror/internal/model"
)

// Conversation list sort keys.
const (
	SortByLastMessage = "lastMessage"
	SortByID          = "id"
	SortByName        = "name"
)

// ConversationQuery filters and pages ListConversations.
type ConversationQuery struct {
	Search    string
	HasMedia  bool
	SortBy    string // lastMessage (default), id or name
	SortOrder string // asc or desc (default)
	Limit     int
	Offset    int
	// Exclude lists addresses never returned, such as the session owner.
	Exclude []string
}

// ConversationSummary is a conversation row joined with its identity name.
type ConversationSummary struct {
	Address         string  `json:"id"                    gorm:"column:address"`
	Name            string  `json:"name"                  gorm:"column:name"`
	IsGroup         bool    `json:"isGroup"               gorm:"column:is_group"`
	UnreadCount     int     `json:"unreadCount"           gorm:"column:unread_count"`
	LastMessage     *string `json:"lastMessage,omitempty" gorm:"column:last_message"`
	LastMessageTS   int64   `json:"lastMessageTs"         gorm:"column:last_message_ts"`
	EphemeralExpiry int64   `json:"ephemeralExpiry"       gorm:"column:ephemeral_expiry"`
}

// ConversationPage is one page of conversations plus the unpaged total.
type ConversationPage struct {
	Total int64                 `json:"total"`
	Items []ConversationSummary `json:"items"`
}

// MessageQuery filters and pages ListMessages. Times are unix seconds, inclusive.
type MessageQuery struct {
	Start     *int64
	End       *int64
	FromMe    *bool
	MediaOnly bool
	Search    string
	Limit     int
	Offset    int
}

// MessagePage is one page of messages, newest first, plus the unpaged total.
type MessagePage struct {
	Total int64           `json:"total"`
	Items []model.Message `json:"items"`
}

// MirrorStore is the durable side of the mirror. Every call is scoped to one
// session; rows carry their SessionID.
type MirrorStore interface {
	// Batched flush writes
	UpsertIdentities(ctx context.Context, rows []model.Identity) error
	UpsertConversations(ctx context.Context, rows []model.Conversation) error
	// InsertMessages inserts rows whose (session, id) is absent and leaves
	// existing rows untouched. It returns the number of rows inserted.
	InsertMessages(ctx context.Context, rows []model.Message) (int64, error)

	// Messages
	GetMessage(ctx context.Context, sessionID, id string) (*model.Message, error)
	// UpdateMessage rewrites the mutable columns (kind, body, raw envelope) of an existing row.
	UpdateMessage(ctx context.Context, msg *model.Message) error
	DeleteMessage(ctx context.Context, sessionID, id string) error
	LatestMessage(ctx context.Context, sessionID, address string) (*model.Message, error)
	ListMessages(ctx context.Context, sessionID, address string, query MessageQuery) (*MessagePage, error)

	// Conversations
	GetConversation(ctx context.Context, sessionID, address string) (*model.Conversation, error)
	// ConversationsWithMessages returns the subset of addresses that own at least one message row.
	ConversationsWithMessages(ctx context.Context, sessionID string, addresses []string) (map[string]bool, error)
	UpdateConversationPreview(ctx context.Context, sessionID, address string, lastMessage *string, lastMessageTS int64) error
	ListConversations(ctx context.Context, sessionID string, query ConversationQuery) (*ConversationPage, error)
	// DeleteConversations removes the conversations with their messages and identity rows.
	DeleteConversations(ctx context.Context, sessionID string, addresses []string) error

	// Identities
	GetIdentity(ctx context.Context, sessionID, address string) (*model.Identity, error)
	DeleteIdentity(ctx context.Context, sessionID, address string) error

	// MessageIDs lists the ids of messages whose conversation address equals
	// one of exact or ends with one of suffixes.
	MessageIDs(ctx context.Context, sessionID string, exact []string, suffixes []string) ([]string, error)
	// PurgeAddresses deletes conversations and messages whose address equals
	// one of exact or ends with one of suffixes. It returns the rows removed.
	PurgeAddresses(ctx context.Context, sessionID string, exact []string, suffixes []string) (int64, error)
}

// Loader creates a MirrorStore from config.
type Loader func(ctx context.Context) (MirrorStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
