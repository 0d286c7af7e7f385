// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number carries no international prefix and
// matches none of the local trunk rules.
const DefaultRegion = "EG"

// Normalizer turns caller-supplied phone numbers into E.164 where it can.
type Normalizer struct {
	region string
}

// NewNormalizer creates a normalizer for the given ISO region code.
func NewNormalizer(region string) *Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}
	return &Normalizer{region: region}
}

// Normalize applies the local trunk rules first and falls back to libphonenumber.
// Unparseable input is returned in its cleaned form, never rejected.
func (n *Normalizer) Normalize(input string) string {
	cleaned := Clean(input)
	if cleaned == "" {
		return ""
	}

	if strings.HasPrefix(cleaned, "+") {
		return cleaned
	}
	if strings.HasPrefix(cleaned, "00") && len(cleaned) > 2 {
		return "+" + cleaned[2:]
	}

	// Egyptian mobile: 01X XXXX XXXX
	if len(cleaned) == 11 && strings.HasPrefix(cleaned, "01") {
		return "+20" + cleaned[1:]
	}
	// Saudi mobile: 05X XXX XXXX
	if len(cleaned) == 10 && strings.HasPrefix(cleaned, "05") {
		return "+966" + cleaned[1:]
	}

	number, err := phonenumbers.Parse(cleaned, n.region)
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return cleaned
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// Clean strips whitespace and common separators, keeping digits and a leading plus.
func Clean(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsNumeric reports whether s consists only of digits, optionally led by a plus.
func IsNumeric(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var defaultNormalizer = NewNormalizer(DefaultRegion)

// NormalizeE164 formats a phone number to E.164 using the default region.
func NormalizeE164(input string) string {
	return defaultNormalizer.Normalize(input)
}
