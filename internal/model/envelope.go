package model

import "github.com/chirino/chat-mirror/internal/transport"

// Envelope is the opaque per-message document stored in raw_envelope: the
// transport payload plus everything the mirror derived from later events.
type Envelope struct {
	Key         transport.Key      `json:"key"`
	Message     *transport.Message `json:"message,omitempty"`
	PushName    string             `json:"pushName,omitempty"`
	Starred     bool               `json:"starred,omitempty"`
	PollUpdates []PollVoteRecord   `json:"pollUpdates,omitempty"`
	Meta        Meta               `json:"meta"`

	// Tombstone fields. MessageBeforeDelete is kept for recovery and never surfaced.
	DeletedAt           int64              `json:"deletedAt,omitempty"`
	DeleteEvent         *DeleteEvent       `json:"deleteEvent,omitempty"`
	MessageBeforeDelete *transport.Message `json:"messageBeforeDelete,omitempty"`

	MessageBeforeEdit *transport.Message `json:"messageBeforeEdit,omitempty"`
	LastEditedAt      int64              `json:"lastEditedAt,omitempty"`
	LastEditedMs      int64              `json:"lastEditedMs,omitempty"`
	EditEvents        []EditEvent        `json:"editEvents,omitempty"`
	EditedPreview     *string            `json:"editedPreview,omitempty"`

	System *SystemEvent `json:"system,omitempty"`
}

// Meta holds state derived from reactions, pins, polls and stars.
type Meta struct {
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Pin         *PinInfo     `json:"pin,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
	PollResults []PollResult `json:"pollResults,omitempty"`
	PollState   *PollState   `json:"pollState,omitempty"`
	PollEvents  []PollEvent  `json:"pollEvents,omitempty"`
	DeletedBy   string       `json:"deletedBy,omitempty"`
	DeletedBody string       `json:"deletedBody,omitempty"`
	StarredAt   int64        `json:"starredAt,omitempty"`
}

// Reaction is the current reaction of one sender.
type Reaction struct {
	By   string `json:"by"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

type PinInfo struct {
	By        string `json:"by"`
	TS        int64  `json:"ts"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// PollVoteRecord is one decoded vote, with options resolved to names.
type PollVoteRecord struct {
	Voter    string   `json:"voter"`
	TS       int64    `json:"ts"`
	Selected []string `json:"selected"`
}

// PollResult lists the voters currently selecting an option.
type PollResult struct {
	Name   string   `json:"name"`
	Voters []string `json:"voters"`
	Count  int      `json:"count"`
}

type PollState struct {
	LatestByVoter map[string][]string `json:"latestByVoter"`
	UpdatedAt     int64               `json:"updatedAt"`
}

// PollEvent records a change of one voter's selection.
type PollEvent struct {
	Voter    string   `json:"voter"`
	TS       int64    `json:"ts"`
	Previous []string `json:"previous,omitempty"`
	Selected []string `json:"selected"`
}

type EditEvent struct {
	TS       int64  `json:"ts"`
	By       string `json:"by,omitempty"`
	Previous string `json:"previous"`
	Body     string `json:"body"`
}

type DeleteEvent struct {
	By string `json:"by"`
	TS int64  `json:"ts"`
}

// SystemEvent describes a synthetic timeline entry such as a pin notice.
type SystemEvent struct {
	Type   string `json:"type"`
	By     string `json:"by"`
	Target string `json:"target,omitempty"`
	TS     int64  `json:"ts"`
}

// Tombstoned reports whether the message was revoked.
func (e *Envelope) Tombstoned() bool {
	return e.DeletedAt != 0 || e.DeleteEvent != nil
}

// Edited reports whether an edit was ever applied.
func (e *Envelope) Edited() bool {
	return e.LastEditedMs != 0
}

// SetReaction upserts by sender; an empty text removes the sender's entry.
// It reports whether the visible reaction set changed.
func (e *Envelope) SetReaction(by, text string, ts int64) bool {
	changed := text != ""
	out := e.Meta.Reactions[:0]
	for _, r := range e.Meta.Reactions {
		if r.By != by {
			out = append(out, r)
			continue
		}
		changed = r.Text != text
	}
	if text != "" {
		out = append(out, Reaction{By: by, Text: text, TS: ts})
	}
	if len(out) == 0 {
		out = nil
	}
	e.Meta.Reactions = out
	return changed
}

// Redacted returns a shallow copy without the recovery copy of deleted content.
func (e *Envelope) Redacted() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	c.MessageBeforeDelete = nil
	return &c
}
