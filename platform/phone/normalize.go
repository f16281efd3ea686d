// Package phone canonicalizes free-text phone numbers for messaging providers.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Format selects the output shape of Normalize.
type Format int

const (
	// FormatDigits is the bare digit string most messaging APIs expect.
	FormatDigits Format = iota
	// FormatE164 prefixes the digits with "+".
	FormatE164
)

// Normalize strips every non-digit, drops leading zeros and prepends the
// country calling code from defaultCountryCode (for example "+55") unless
// the digits already start with it. It returns false when no digits remain.
func Normalize(raw, defaultCountryCode string, format Format) (string, bool) {
	digits := strings.TrimLeft(onlyDigits(raw), "0")
	if digits == "" {
		return "", false
	}

	if cc := onlyDigits(defaultCountryCode); cc != "" && !strings.HasPrefix(digits, cc) {
		digits = cc + digits
	}

	if format == FormatE164 {
		return "+" + digits, true
	}
	return digits, true
}

// Valid reports whether a normalized number is a plausible phone number
// according to libphonenumber metadata. Numbers without "+" are treated as
// already carrying their country code.
func Valid(normalized string) bool {
	if normalized == "" {
		return false
	}
	if !strings.HasPrefix(normalized, "+") {
		normalized = "+" + normalized
	}
	parsed, err := phonenumbers.Parse(normalized, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(parsed)
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
