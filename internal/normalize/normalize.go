// Package normalize canonicalizes caller-supplied email and phone
// identifiers into comparable forms. Everything here is pure; callers
// validate the result separately.
package normalize

import (
	"regexp"
	"strings"
)

// emailPattern is deliberately loose: local-part@domain with no
// whitespace. Deliverability is the identity provider's problem.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// e164Pattern matches "+" followed by 8-15 digits, first digit 1-9.
var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// Region selects the country-code fallback applied to phone numbers
// written in a local format (single leading "0"). The mapping is a
// policy choice, not a general solution; numbers from any other
// region written locally will be misnormalized.
type Region string

const (
	RegionKR Region = "KR"
	RegionJP Region = "JP"
	RegionGB Region = "GB"
	RegionFR Region = "FR"
)

var regionCallingCodes = map[Region]string{
	RegionKR: "+82",
	RegionJP: "+81",
	RegionGB: "+44",
	RegionFR: "+33",
}

// DefaultRegion is used when a Region has no known calling code.
const DefaultRegion = RegionKR

// Email trims and lower-cases a raw email. Empty input stays empty,
// which never passes IsValidEmail.
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IsValidEmail reports whether s has a plausible email shape.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Phone converts a raw phone string into E.164-ish form:
//   - input already starting with "+" keeps its digits behind "+"
//   - a "00" international prefix is rewritten to "+"
//   - a single leading "0" is treated as the region's local format
//     and replaced with the region's calling code
//   - anything else is prefixed with "+" as-is
//
// Empty input yields the empty string. Phone is idempotent.
func Phone(raw string, region Region) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	hadPlus := strings.HasPrefix(trimmed, "+")
	digits := nonDigits.ReplaceAllString(trimmed, "")
	if digits == "" {
		return ""
	}

	switch {
	case hadPlus:
		return "+" + digits
	case strings.HasPrefix(digits, "00"):
		return "+" + digits[2:]
	case strings.HasPrefix(digits, "0"):
		return callingCode(region) + digits[1:]
	default:
		return "+" + digits
	}
}

// IsLikelyE164 reports whether s looks like an international phone
// number: "+", country digit 1-9, 8-15 digits total.
func IsLikelyE164(s string) bool {
	return e164Pattern.MatchString(s)
}

func callingCode(region Region) string {
	if code, ok := regionCallingCodes[region]; ok {
		return code
	}
	return regionCallingCodes[DefaultRegion]
}
