package mirror

import (
	"github.com/chirino/chat-mirror/internal/content"
	"github.com/chirino/chat-mirror/internal/identity"
	"github.com/chirino/chat-mirror/internal/transport"
)

// normalizeMentions canonicalizes the mention list of m and rewrites alias
// tokens in its text to the canonical local part. Unresolvable aliases are
// dropped from the list but left untouched in the text.
func (e *Engine) normalizeMentions(m *transport.Message) []string {
	raw := content.Mentions(m)
	if len(raw) == 0 {
		return nil
	}
	var out []string
	seen := make(map[string]bool, len(raw))
	pairs := make(map[string]string)
	for _, r := range raw {
		trimmed := identity.StripDevice(r)
		var resolved string
		var ok bool
		if identity.IsAlias(trimmed) {
			resolved, ok = e.resolver.ResolveAlias(trimmed)
		} else {
			resolved, ok = e.resolver.CanonicalizeUser(trimmed)
		}
		if !ok {
			continue
		}
		if !seen[resolved] {
			seen[resolved] = true
			out = append(out, resolved)
		}
		if rawLocal, local := identity.LocalPart(trimmed), identity.LocalPart(resolved); rawLocal != local {
			pairs[rawLocal] = local
			pairs[trimmed] = resolved
		}
	}
	if len(out) > 0 {
		content.SetMentions(m, out)
	}
	if r := content.NewMentionReplacer(pairs); !r.Empty() {
		content.RewriteText(m, r.Replace)
	}
	return out
}
