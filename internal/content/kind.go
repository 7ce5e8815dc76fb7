package content

import (
	"strings"

	"github.com/chirino/chat-mirror/internal/transport"
)

// Kind is the canonical stored content kind.
type Kind string

const (
	KindNone         Kind = "none"
	KindText         Kind = "conversation"
	KindExtendedText Kind = "extendedtextmessage"
	KindImage        Kind = "image"
	KindVideo        Kind = "video"
	KindGif          Kind = "gif"
	KindAudio        Kind = "audio"
	KindDocument     Kind = "document"
	KindSticker      Kind = "stickermessage"
	KindContact      Kind = "contact"
	KindLocation     Kind = "location"
	KindInteractive  Kind = "interactive"
	KindEvent        Kind = "event"
	KindPoll         Kind = "poll"
	KindSystem       Kind = "system"
)

// MediaKinds is the set matched by "media only" and "has media" queries.
var MediaKinds = []Kind{KindImage, KindVideo, KindAudio, KindDocument, KindSticker, KindLocation, KindContact, KindGif}

// IsMedia reports whether k belongs to MediaKinds.
func IsMedia(k Kind) bool {
	for _, m := range MediaKinds {
		if m == k {
			return true
		}
	}
	return false
}

// IsStorable reports whether a message of kind k is persisted.
func (k Kind) IsStorable() bool { return k != KindNone && k != "" }

// ContentType names the first populated content field of an unwrapped node,
// using the protocol field names. Key distribution and context frames are
// never reported.
func ContentType(m *transport.Message) string {
	if m == nil {
		return ""
	}
	switch {
	case m.Conversation != "":
		return "conversation"
	case m.ExtendedText != nil:
		return "extendedTextMessage"
	case m.Image != nil:
		return "imageMessage"
	case m.Video != nil:
		return "videoMessage"
	case m.PTV != nil:
		return "ptvMessage"
	case m.Audio != nil:
		return "audioMessage"
	case m.Document != nil:
		return "documentMessage"
	case m.Sticker != nil:
		return "stickerMessage"
	case m.Contact != nil:
		return "contactMessage"
	case m.ContactsArray != nil:
		return "contactsArrayMessage"
	case m.Location != nil:
		return "locationMessage"
	case m.LiveLocation != nil:
		return "liveLocationMessage"
	case m.Buttons != nil:
		return "buttonsMessage"
	case m.ButtonsResponse != nil:
		return "buttonsResponseMessage"
	case m.Template != nil:
		return "templateMessage"
	case m.TemplateButtonReply != nil:
		return "templateButtonReplyMessage"
	case m.ListResponse != nil:
		return "listResponseMessage"
	case m.InteractiveResponse != nil:
		return "interactiveResponseMessage"
	case m.PollCreation != nil:
		return "pollCreationMessage"
	case m.PollCreationV2 != nil:
		return "pollCreationMessageV2"
	case m.PollCreationV3 != nil:
		return "pollCreationMessageV3"
	case m.PollUpdate != nil:
		return "pollUpdateMessage"
	case m.Event != nil:
		return "eventMessage"
	case m.Protocol != nil:
		return "protocolMessage"
	case m.EditedMessage != nil:
		return "editedMessage"
	case m.Reaction != nil:
		return "reactionMessage"
	case m.PinInChat != nil:
		return "pinInChatMessage"
	}
	return ""
}

// Classify reduces an unwrapped node to its stored kind. Control frames,
// reactions, pins, poll votes and key distribution classify to KindNone.
func Classify(m *transport.Message) Kind {
	switch ContentType(m) {
	case "conversation":
		return KindText
	case "extendedTextMessage":
		return KindExtendedText
	case "imageMessage":
		return KindImage
	case "videoMessage":
		if m.Video.GifPlayback {
			return KindGif
		}
		return KindVideo
	case "ptvMessage":
		return KindVideo
	case "audioMessage":
		return KindAudio
	case "documentMessage":
		return KindDocument
	case "stickerMessage":
		return KindSticker
	case "contactMessage", "contactsArrayMessage":
		return KindContact
	case "locationMessage", "liveLocationMessage":
		return KindLocation
	case "buttonsMessage", "buttonsResponseMessage", "templateMessage",
		"templateButtonReplyMessage", "listResponseMessage", "interactiveResponseMessage":
		return KindInteractive
	case "pollCreationMessage", "pollCreationMessageV2", "pollCreationMessageV3":
		return KindPoll
	case "eventMessage":
		return KindEvent
	}
	return KindNone
}

// PollCreation returns the poll definition of an unwrapped node, if any.
func PollCreation(m *transport.Message) *transport.PollCreationMessage {
	if m == nil {
		return nil
	}
	switch {
	case m.PollCreation != nil:
		return m.PollCreation
	case m.PollCreationV2 != nil:
		return m.PollCreationV2
	case m.PollCreationV3 != nil:
		return m.PollCreationV3
	}
	return nil
}

// MediaNode returns the media descriptor of an unwrapped node, if any.
func MediaNode(m *transport.Message) *transport.MediaMessage {
	if m == nil {
		return nil
	}
	for _, n := range []*transport.MediaMessage{m.Image, m.Video, m.PTV, m.Audio, m.Document, m.Sticker} {
		if n != nil {
			return n
		}
	}
	return nil
}

// ParseKind maps a stored kind string back to a Kind.
func ParseKind(s string) Kind {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return KindNone
	}
	return k
}
