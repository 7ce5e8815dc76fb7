package identity

import (
	"strings"
	"sync"
)

// Resolver canonicalizes addresses and remembers alias mappings learned from
// protocol hints. The alias map only grows for the lifetime of a session.
type Resolver struct {
	countryCode string

	mu      sync.RWMutex
	aliases map[string]string
}

// NewResolver creates a resolver. countryCode is prefixed to local numbers
// starting with 0 or 8; empty disables the rewrite.
func NewResolver(countryCode string) *Resolver {
	return &Resolver{
		countryCode: countryCode,
		aliases:     make(map[string]string),
	}
}

// Canonicalize maps any address form to its canonical conversation address.
// Aliases resolve only through a learned mapping; broadcast and newsletter
// addresses are rejected.
func (r *Resolver) Canonicalize(addr string) (string, bool) {
	clean := StripDevice(addr)
	if clean == "" || IsUnaddressable(clean) {
		return "", false
	}
	switch {
	case strings.HasSuffix(clean, PublicSuffix):
		if !IsValidPublic(clean) {
			return "", false
		}
		return clean, true
	case strings.HasSuffix(clean, GroupSuffix):
		if !IsValidGroup(clean) {
			return "", false
		}
		return clean, true
	case strings.HasSuffix(strings.ToLower(clean), AliasSuffix):
		return r.ResolveAlias(clean)
	}
	// Bare digits may be a learned alias; the alias wins over the phone reading.
	if !strings.Contains(clean, "@") {
		if c, ok := r.ResolveAlias(clean); ok {
			return c, true
		}
	}
	local := LocalPart(clean)
	if d := NormalizePhoneDigits(local, r.countryCode); d != "" {
		return d + PublicSuffix, true
	}
	if d := Digits(local); IsLikelyPhone(d) {
		return d + PublicSuffix, true
	}
	return "", false
}

// CanonicalizeUser is Canonicalize restricted to person addresses.
func (r *Resolver) CanonicalizeUser(addr string) (string, bool) {
	c, ok := r.Canonicalize(addr)
	if !ok || !strings.HasSuffix(c, PublicSuffix) {
		return "", false
	}
	return c, true
}

// LearnAlias records alias -> canonical. It reports whether a mapping was
// stored; the canonical side must be a valid person address.
func (r *Resolver) LearnAlias(alias, canonical string) bool {
	key := AliasKey(alias)
	if key == "" {
		return false
	}
	target, ok := r.CanonicalizeUser(canonical)
	if !ok {
		return false
	}
	r.mu.Lock()
	r.aliases[key] = target
	r.mu.Unlock()
	return true
}

// ResolveAlias returns the canonical address learned for alias.
func (r *Resolver) ResolveAlias(alias string) (string, bool) {
	key := AliasKey(alias)
	if key == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.aliases[key]
	return c, ok
}

// Len returns the number of learned aliases.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.aliases)
}
