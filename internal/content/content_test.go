package content

import (
	"strings"
	"testing"

	"github.com/chirino/chat-mirror/internal/transport"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrap_PeelsNestedWrappers(t *testing.T) {
	inner := &transport.Message{Conversation: "hello"}
	m := &transport.Message{
		Ephemeral: &transport.FutureProofMessage{Message: &transport.Message{
			ViewOnceV2: &transport.FutureProofMessage{Message: &transport.Message{
				DeviceSent: &transport.DeviceSentMessage{Message: inner},
			}},
		}},
	}
	require.Same(t, inner, Unwrap(m))
	require.Nil(t, Unwrap(nil))
}

func TestUnwrap_StopsOnCycles(t *testing.T) {
	a := &transport.Message{}
	b := &transport.Message{}
	a.ViewOnce = &transport.FutureProofMessage{Message: b}
	b.Ephemeral = &transport.FutureProofMessage{Message: a}

	got := Unwrap(a)
	require.NotNil(t, got)
	require.Same(t, b, got)
}

func TestUnwrap_BoundedDepth(t *testing.T) {
	root := &transport.Message{Conversation: "deep"}
	for i := 0; i < MaxUnwrapDepth*2; i++ {
		root = &transport.Message{Ephemeral: &transport.FutureProofMessage{Message: root}}
	}
	got := Unwrap(root)
	require.NotNil(t, got)
	require.Empty(t, got.Conversation)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		msg  *transport.Message
		want Kind
	}{
		{"text", &transport.Message{Conversation: "hi"}, KindText},
		{"extended", &transport.Message{ExtendedText: &transport.ExtendedTextMessage{Text: "hi"}}, KindExtendedText},
		{"image", &transport.Message{Image: &transport.MediaMessage{}}, KindImage},
		{"video", &transport.Message{Video: &transport.MediaMessage{}}, KindVideo},
		{"gif", &transport.Message{Video: &transport.MediaMessage{GifPlayback: true}}, KindGif},
		{"ptv", &transport.Message{PTV: &transport.MediaMessage{}}, KindVideo},
		{"audio", &transport.Message{Audio: &transport.MediaMessage{PTT: true}}, KindAudio},
		{"document", &transport.Message{Document: &transport.MediaMessage{}}, KindDocument},
		{"sticker", &transport.Message{Sticker: &transport.MediaMessage{}}, KindSticker},
		{"contact", &transport.Message{Contact: &transport.ContactMessage{}}, KindContact},
		{"contacts", &transport.Message{ContactsArray: &transport.ContactsArrayMessage{}}, KindContact},
		{"location", &transport.Message{Location: &transport.LocationMessage{}}, KindLocation},
		{"live location", &transport.Message{LiveLocation: &transport.LocationMessage{}}, KindLocation},
		{"buttons", &transport.Message{Buttons: &transport.ButtonsMessage{}}, KindInteractive},
		{"list reply", &transport.Message{ListResponse: &transport.ListResponseMessage{}}, KindInteractive},
		{"template reply", &transport.Message{TemplateButtonReply: &transport.TemplateButtonReplyMessage{}}, KindInteractive},
		{"poll v3", &transport.Message{PollCreationV3: &transport.PollCreationMessage{}}, KindPoll},
		{"event", &transport.Message{Event: &transport.EventMessage{}}, KindEvent},
		{"protocol", &transport.Message{Protocol: &transport.ProtocolMessage{}}, KindNone},
		{"reaction", &transport.Message{Reaction: &transport.ReactionMessage{}}, KindNone},
		{"poll vote", &transport.Message{PollUpdate: &transport.PollUpdateMessage{}}, KindNone},
		{"key distribution", &transport.Message{
			SenderKeyDistribution: &transport.SenderKeyDistributionMessage{GroupID: "x"},
			MessageContextInfo:    &transport.ContextInfo{},
		}, KindNone},
		{"empty", &transport.Message{}, KindNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.msg))
		})
	}
}

func TestClassify_KeyDistributionNextToContent(t *testing.T) {
	m := &transport.Message{
		SenderKeyDistribution: &transport.SenderKeyDistributionMessage{GroupID: "x"},
		Conversation:          "hello group",
	}
	require.Equal(t, KindText, Classify(m))
	require.True(t, Classify(m).IsStorable())
	require.False(t, KindNone.IsStorable())
}

func TestPreviewText_Golden(t *testing.T) {
	cases := []struct {
		name string
		msg  *transport.Message
	}{
		{"text", &transport.Message{Conversation: "hello there"}},
		{"extended", &transport.Message{ExtendedText: &transport.ExtendedTextMessage{Text: "see https://example.com"}}},
		{"image with caption", &transport.Message{Image: &transport.MediaMessage{Caption: "sunset"}}},
		{"image", &transport.Message{Image: &transport.MediaMessage{}}},
		{"video", &transport.Message{Video: &transport.MediaMessage{Caption: "clip"}}},
		{"gif", &transport.Message{Video: &transport.MediaMessage{GifPlayback: true}}},
		{"ptv", &transport.Message{PTV: &transport.MediaMessage{}}},
		{"audio", &transport.Message{Audio: &transport.MediaMessage{PTT: true}}},
		{"document", &transport.Message{Document: &transport.MediaMessage{Caption: "invoice.pdf"}}},
		{"sticker", &transport.Message{Sticker: &transport.MediaMessage{}}},
		{"poll", &transport.Message{PollCreation: &transport.PollCreationMessage{Name: "Lunch?"}}},
		{"poll untitled", &transport.Message{PollCreationV2: &transport.PollCreationMessage{}}},
		{"contact", &transport.Message{Contact: &transport.ContactMessage{DisplayName: "Budi"}}},
		{"contacts", &transport.Message{ContactsArray: &transport.ContactsArrayMessage{Contacts: []transport.ContactMessage{{}, {}, {}}}}},
		{"location", &transport.Message{Location: &transport.LocationMessage{DegreesLatitude: -6.2}}},
		{"buttons", &transport.Message{Buttons: &transport.ButtonsMessage{ContentText: "Pick one"}}},
		{"interactive reply", &transport.Message{InteractiveResponse: &transport.InteractiveResponseMessage{Body: &transport.InteractiveBody{Text: "Yes please"}}}},
		{"event", &transport.Message{Event: &transport.EventMessage{Name: "Standup"}}},
	}
	var b strings.Builder
	for _, tc := range cases {
		b.WriteString(tc.name)
		b.WriteString(": ")
		b.WriteString(PreviewText(tc.msg, Classify(tc.msg)))
		b.WriteString("\n")
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "previews", []byte(b.String()))
}

func TestPreviewText_NilIsEmpty(t *testing.T) {
	require.Equal(t, "", PreviewText(nil, KindText))
	require.Equal(t, "", PreviewText(&transport.Message{}, KindNone))
}

func TestDeletedPlaceholder(t *testing.T) {
	require.Equal(t, DeletedBySelf, DeletedPlaceholder(true))
	require.Equal(t, DeletedByOther, DeletedPlaceholder(false))
}

func TestMentions_CollectAndReplace(t *testing.T) {
	m := &transport.Message{
		ExtendedText: &transport.ExtendedTextMessage{
			Text: "hi @12345678901@lid and @12345678901 and @123456789012",
			ContextInfo: &transport.ContextInfo{
				MentionedJID: []string{"12345678901@lid", "12345678901@lid", "6281234567890@s.whatsapp.net"},
			},
		},
	}
	require.Equal(t, []string{"12345678901@lid", "6281234567890@s.whatsapp.net"}, Mentions(m))

	r := NewMentionReplacer(map[string]string{
		"12345678901":     "6281111111111",
		"12345678901@lid": "6281111111111@s.whatsapp.net",
	})
	RewriteText(m, r.Replace)
	require.Equal(t,
		"hi @6281111111111@s.whatsapp.net and @6281111111111 and @123456789012",
		m.ExtendedText.Text)

	SetMentions(m, []string{"6281111111111@s.whatsapp.net"})
	require.Equal(t, []string{"6281111111111@s.whatsapp.net"}, m.ExtendedText.ContextInfo.MentionedJID)
}

func TestMentionReplacer_IgnoresIdentityPairs(t *testing.T) {
	r := NewMentionReplacer(map[string]string{"abc": "abc", "": "x"})
	require.True(t, r.Empty())
	require.Equal(t, "@abc", r.Replace("@abc"))
}

func TestMediaNodeAndPollCreation(t *testing.T) {
	opts := []transport.PollOption{{OptionName: "a"}}
	m := &transport.Message{PollCreationV3: &transport.PollCreationMessage{Name: "q", Options: opts}}
	require.Equal(t, "q", PollCreation(m).Name)
	require.Nil(t, MediaNode(m))

	doc := &transport.MediaMessage{FileName: "x.pdf"}
	require.Same(t, doc, MediaNode(&transport.Message{Document: doc}))
}
