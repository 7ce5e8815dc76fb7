package content

import (
	"fmt"
	"strings"

	"github.com/chirino/chat-mirror/internal/transport"
)

// Deletion placeholders stored as the body of tombstoned messages.
const (
	DeletedBySelf       = "(_⊘ You deleted this message_)"
	DeletedByOther      = "(_⊘ This message was deleted_)"
	DeletedOnRedelivery = "[? This message was deleted]"
	defaultPollTitle    = "Poll"
	defaultMediaLabel   = "Media"
)

// DeletedPlaceholder picks the placeholder for a revoke by self or by the other party.
func DeletedPlaceholder(bySelf bool) string {
	if bySelf {
		return DeletedBySelf
	}
	return DeletedByOther
}

var mediaLabels = map[Kind]string{
	KindImage:    "Image",
	KindVideo:    "Video",
	KindGif:      "Gif",
	KindAudio:    "Audio",
	KindDocument: "Document",
	KindSticker:  "Sticker",
}

// PreviewText renders the stored body of an unwrapped node of the given kind.
// The result is never nil-like: unknown shapes render as "".
func PreviewText(m *transport.Message, kind Kind) string {
	if m == nil {
		return ""
	}
	if label, ok := mediaLabels[kind]; ok {
		return mediaBody(m, label)
	}
	if kind == KindPoll {
		return pollBody(m)
	}
	return TextOf(m)
}

// TextOf extracts the human readable text of an unwrapped node, ignoring
// media labels.
func TextOf(m *transport.Message) string {
	if m == nil {
		return ""
	}
	switch ContentType(m) {
	case "conversation":
		return m.Conversation
	case "extendedTextMessage":
		return m.ExtendedText.Text
	case "imageMessage", "videoMessage", "documentMessage":
		return MediaNode(m).Caption
	case "contactMessage":
		return m.Contact.DisplayName
	case "contactsArrayMessage":
		return fmt.Sprintf("Contacts: %d", len(m.ContactsArray.Contacts))
	case "buttonsMessage":
		return firstNonEmpty(m.Buttons.ContentText, m.Buttons.Text)
	case "buttonsResponseMessage":
		return firstNonEmpty(m.ButtonsResponse.SelectedDisplayText, m.ButtonsResponse.SelectedButtonID)
	case "templateMessage":
		if m.Template.HydratedTemplate != nil {
			return m.Template.HydratedTemplate.HydratedContentText
		}
		return ""
	case "templateButtonReplyMessage":
		return firstNonEmpty(m.TemplateButtonReply.SelectedDisplayText, m.TemplateButtonReply.SelectedID)
	case "listResponseMessage":
		lr := m.ListResponse
		if lr.Title != "" {
			return lr.Title
		}
		if lr.SingleSelectReply != nil {
			return lr.SingleSelectReply.SelectedRowID
		}
		return ""
	case "interactiveResponseMessage":
		ir := m.InteractiveResponse
		if ir.Body != nil && ir.Body.Text != "" {
			return ir.Body.Text
		}
		if ir.NativeFlowResponseMessage != nil {
			return ir.NativeFlowResponseMessage.ParamsJSON
		}
		return ""
	case "pollCreationMessage", "pollCreationMessageV2", "pollCreationMessageV3":
		return pollBody(m)
	case "eventMessage":
		return m.Event.Name
	}
	return ""
}

func mediaBody(m *transport.Message, label string) string {
	if label == "" {
		label = defaultMediaLabel
	}
	prefix := "([" + label + "])"
	caption := ""
	if n := MediaNode(m); n != nil {
		caption = strings.TrimSpace(n.Caption)
	}
	if caption == "" {
		return prefix
	}
	return prefix + " " + caption
}

func pollBody(m *transport.Message) string {
	title := ""
	if p := PollCreation(m); p != nil {
		title = strings.TrimSpace(p.Name)
	}
	if title == "" {
		title = defaultPollTitle
	}
	return "([Poll]) " + title
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
