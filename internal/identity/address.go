package identity

import (
	"strings"
)

const (
	PublicSuffix     = "@s.whatsapp.net"
	GroupSuffix      = "@g.us"
	AliasSuffix      = "@lid"
	NewsletterSuffix = "@newsletter"
	BroadcastSuffix  = "@broadcast"
	StatusBroadcast  = "status@broadcast"
)

// StripDevice removes a ":NN" device suffix from the local part.
func StripDevice(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return addr
	}
	if colon := strings.IndexByte(addr[:at], ':'); colon >= 0 {
		return addr[:colon] + addr[at:]
	}
	return addr
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// LocalPart returns the part before '@', or s when there is none.
func LocalPart(s string) string {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		return s[:at]
	}
	return s
}

// IsLikelyPhone reports whether digits look like an international number.
func IsLikelyPhone(digits string) bool {
	if len(digits) < 10 || len(digits) > 15 || digits[0] == '0' {
		return false
	}
	return Digits(digits) == digits
}

func IsGroup(addr string) bool {
	return strings.HasSuffix(StripDevice(addr), GroupSuffix)
}

// IsValidPublic reports whether addr is a well-formed public address.
func IsValidPublic(addr string) bool {
	clean := StripDevice(addr)
	if !strings.HasSuffix(clean, PublicSuffix) {
		return false
	}
	local := LocalPart(clean)
	return Digits(local) == local && IsLikelyPhone(local)
}

// IsValidGroup reports whether addr is a well-formed group address.
func IsValidGroup(addr string) bool {
	clean := StripDevice(addr)
	if !strings.HasSuffix(clean, GroupSuffix) {
		return false
	}
	n := len(Digits(clean))
	return n >= 10 && n <= 22
}

// IsUnaddressable reports broadcast and newsletter addresses, which are never mirrored.
func IsUnaddressable(addr string) bool {
	clean := StripDevice(addr)
	return clean == StatusBroadcast ||
		strings.HasSuffix(clean, NewsletterSuffix) ||
		strings.HasSuffix(clean, BroadcastSuffix)
}

// AliasKey returns the lookup key for an alias form, or "" when value is not one.
func AliasKey(value string) string {
	clean := strings.ToLower(StripDevice(value))
	if clean == "" {
		return ""
	}
	if strings.HasSuffix(clean, AliasSuffix) {
		return clean
	}
	if !strings.Contains(clean, "@") && len(clean) >= 5 && Digits(clean) == clean {
		return clean + AliasSuffix
	}
	return ""
}

// IsAlias reports whether value is in alias form.
func IsAlias(value string) bool {
	return AliasKey(value) != ""
}

// NormalizePhoneDigits applies the default country code to a local number and
// validates the result.
func NormalizePhoneDigits(raw, countryCode string) string {
	d := Digits(raw)
	if d == "" {
		return ""
	}
	if countryCode != "" {
		switch {
		case d[0] == '0':
			d = countryCode + d[1:]
		case d[0] == '8':
			d = countryCode + d
		}
	}
	if !IsLikelyPhone(d) {
		return ""
	}
	return d
}

// PhoneLabel renders digits as a human readable fallback name.
func PhoneLabel(digits string) string {
	if digits == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(digits, "62"); ok && len(rest) >= 8 {
		label := "+62 " + rest[:4] + "-" + rest[4:8]
		if len(rest) > 8 {
			label += "-" + rest[8:]
		}
		return label
	}
	return "+" + digits
}
