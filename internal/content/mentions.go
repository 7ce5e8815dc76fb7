package content

import (
	"regexp"
	"sort"

	"github.com/chirino/chat-mirror/internal/transport"
)

// contextInfos returns every context metadata node attached to the unwrapped
// payload, including the message-level one.
func contextInfos(m *transport.Message) []*transport.ContextInfo {
	if m == nil {
		return nil
	}
	var out []*transport.ContextInfo
	add := func(ci *transport.ContextInfo) {
		if ci != nil {
			out = append(out, ci)
		}
	}
	if m.ExtendedText != nil {
		add(m.ExtendedText.ContextInfo)
	}
	for _, n := range []*transport.MediaMessage{m.Image, m.Video, m.PTV, m.Audio, m.Document, m.Sticker} {
		if n != nil {
			add(n.ContextInfo)
		}
	}
	if m.Contact != nil {
		add(m.Contact.ContextInfo)
	}
	if m.ContactsArray != nil {
		add(m.ContactsArray.ContextInfo)
	}
	if m.Location != nil {
		add(m.Location.ContextInfo)
	}
	if m.LiveLocation != nil {
		add(m.LiveLocation.ContextInfo)
	}
	if m.Buttons != nil {
		add(m.Buttons.ContextInfo)
	}
	if m.ButtonsResponse != nil {
		add(m.ButtonsResponse.ContextInfo)
	}
	if m.Template != nil {
		add(m.Template.ContextInfo)
	}
	if m.TemplateButtonReply != nil {
		add(m.TemplateButtonReply.ContextInfo)
	}
	if m.ListResponse != nil {
		add(m.ListResponse.ContextInfo)
	}
	if m.InteractiveResponse != nil {
		add(m.InteractiveResponse.ContextInfo)
	}
	if p := PollCreation(m); p != nil {
		add(p.ContextInfo)
	}
	if m.Event != nil {
		add(m.Event.ContextInfo)
	}
	add(m.MessageContextInfo)
	return out
}

// Mentions collects the mentioned addresses of the unwrapped payload in
// first-seen order.
func Mentions(m *transport.Message) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, ci := range contextInfos(Unwrap(m)) {
		for _, jid := range ci.MentionedJID {
			if _, dup := seen[jid]; dup || jid == "" {
				continue
			}
			seen[jid] = struct{}{}
			out = append(out, jid)
		}
	}
	return out
}

// SetMentions replaces the mention list on every context node of the
// unwrapped payload that already carries mentions.
func SetMentions(m *transport.Message, list []string) {
	for _, ci := range contextInfos(Unwrap(m)) {
		if len(ci.MentionedJID) == 0 {
			continue
		}
		ci.MentionedJID = append([]string(nil), list...)
	}
}

// RewriteText applies fn to every text-bearing field of the unwrapped payload.
func RewriteText(m *transport.Message, fn func(string) string) {
	m = Unwrap(m)
	if m == nil {
		return
	}
	apply := func(s *string) {
		if *s != "" {
			*s = fn(*s)
		}
	}
	apply(&m.Conversation)
	if et := m.ExtendedText; et != nil {
		apply(&et.Text)
		apply(&et.Title)
		apply(&et.Description)
	}
	for _, n := range []*transport.MediaMessage{m.Image, m.Video, m.PTV, m.Document} {
		if n != nil {
			apply(&n.Caption)
		}
	}
	if b := m.Buttons; b != nil {
		apply(&b.ContentText)
		apply(&b.FooterText)
		apply(&b.Text)
	}
	if t := m.Template; t != nil && t.HydratedTemplate != nil {
		apply(&t.HydratedTemplate.HydratedContentText)
		apply(&t.HydratedTemplate.HydratedFooterText)
	}
	if lr := m.ListResponse; lr != nil {
		apply(&lr.Title)
		apply(&lr.Description)
	}
	if ir := m.InteractiveResponse; ir != nil && ir.Body != nil {
		apply(&ir.Body.Text)
	}
	if ev := m.Event; ev != nil {
		apply(&ev.Name)
		apply(&ev.Description)
	}
	if loc := m.Location; loc != nil {
		apply(&loc.Caption)
	}
}

// MentionReplacer substitutes "@needle" tokens with "@replacement", matching
// whole tokens only. Longer needles are tried first so "123@lid" wins over "123".
type MentionReplacer struct {
	rules []mentionRule
}

type mentionRule struct {
	re          *regexp.Regexp
	replacement string
}

// NewMentionReplacer compiles the replacement table. Identity and empty pairs
// are ignored.
func NewMentionReplacer(pairs map[string]string) *MentionReplacer {
	needles := make([]string, 0, len(pairs))
	for needle, repl := range pairs {
		if needle == "" || repl == "" || needle == repl {
			continue
		}
		needles = append(needles, needle)
	}
	sort.Slice(needles, func(i, j int) bool {
		if len(needles[i]) != len(needles[j]) {
			return len(needles[i]) > len(needles[j])
		}
		return needles[i] < needles[j]
	})
	r := &MentionReplacer{}
	for _, needle := range needles {
		r.rules = append(r.rules, mentionRule{
			re:          regexp.MustCompile(`@` + regexp.QuoteMeta(needle) + `\b`),
			replacement: "@" + pairs[needle],
		})
	}
	return r
}

// Empty reports whether the replacer has no rules.
func (r *MentionReplacer) Empty() bool { return r == nil || len(r.rules) == 0 }

// Replace applies every rule to text.
func (r *MentionReplacer) Replace(text string) string {
	if r.Empty() || text == "" {
		return text
	}
	for _, rule := range r.rules {
		text = rule.re.ReplaceAllLiteralString(text, rule.replacement)
	}
	return text
}
