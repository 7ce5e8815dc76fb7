package mirror

import (
	"github.com/chirino/chat-mirror/internal/transport"
)

type transitionKind int

const (
	transitionNew transitionKind = iota
	transitionRevoke
	transitionEdit
	transitionReaction
	transitionPin
	transitionPollVote
)

func (k transitionKind) String() string {
	switch k {
	case transitionRevoke:
		return "revoke"
	case transitionEdit:
		return "edit"
	case transitionReaction:
		return "reaction"
	case transitionPin:
		return "pin"
	case transitionPollVote:
		return "poll"
	default:
		return "new"
	}
}

// transition is the decoded intent of one inbound message. Control kinds
// carry the key of the message they act on.
type transition struct {
	kind   transitionKind
	target transport.Key

	edited   *transport.Message
	editedMs int64

	reaction *transport.ReactionMessage
	pin      *transport.PinInChatMessage
	poll     *transport.PollUpdateMessage
}

// demux classifies an unwrapped payload. Predicates are checked in priority
// order: revoke, edit, reaction, pin, poll vote, then plain content.
func demux(m *transport.Message, messageTimestamp, nowMs int64) transition {
	if m == nil {
		return transition{kind: transitionNew}
	}
	if key, ok := revokeTarget(m); ok {
		return transition{kind: transitionRevoke, target: key}
	}
	if t, ok := editPayload(m, messageTimestamp, nowMs); ok {
		return t
	}
	if r := m.Reaction; r != nil && r.Key.ID != "" {
		return transition{kind: transitionReaction, target: r.Key, reaction: r}
	}
	if p := m.PinInChat; p != nil && p.Key.ID != "" {
		return transition{kind: transitionPin, target: p.Key, pin: p}
	}
	if p := m.PollUpdate; p != nil && p.PollCreationMessageKey.ID != "" {
		return transition{kind: transitionPollVote, target: p.PollCreationMessageKey, poll: p}
	}
	return transition{kind: transitionNew}
}

// revokeTarget matches a protocol frame with an explicit revoke type.
func revokeTarget(m *transport.Message) (transport.Key, bool) {
	p := m.Protocol
	if p == nil || p.Type == nil || *p.Type != transport.ProtocolRevoke || p.Key == nil || p.Key.ID == "" {
		return transport.Key{}, false
	}
	return *p.Key, true
}

// editPayload recognizes the shapes an edit arrives in: a protocol frame
// carrying the replacement, or the same frame inside an editedMessage wrapper.
func editPayload(m *transport.Message, messageTimestamp, nowMs int64) (transition, bool) {
	var frame *transport.ProtocolMessage
	var edited *transport.Message

	switch {
	case m.Protocol != nil && m.Protocol.Key != nil && m.Protocol.Key.ID != "" && m.Protocol.EditedMessage != nil:
		frame, edited = m.Protocol, m.Protocol.EditedMessage
	case m.EditedMessage != nil && m.EditedMessage.Message != nil:
		inner := m.EditedMessage.Message
		switch {
		case inner.Protocol != nil && inner.Protocol.Key != nil && inner.Protocol.Key.ID != "":
			frame = inner.Protocol
			edited = inner.Protocol.EditedMessage
			if edited == nil {
				edited = inner
			}
		case m.Protocol != nil && m.Protocol.Key != nil && m.Protocol.Key.ID != "":
			frame, edited = m.Protocol, inner
		}
	}
	if frame == nil || edited == nil {
		return transition{}, false
	}

	ts := frame.TimestampMs
	if ts <= 0 && messageTimestamp > 0 {
		ts = normalizeTimestamp(messageTimestamp) * 1000
	}
	if ts <= 0 {
		ts = nowMs
	}
	return transition{kind: transitionEdit, target: *frame.Key, edited: edited, editedMs: ts}, true
}
