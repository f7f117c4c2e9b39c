package util

import (
	"regexp"
	"strings"
)

// BoliviaCountryCode is the dialing prefix stripped when showing local numbers.
const BoliviaCountryCode = "591"

var nonDigit = regexp.MustCompile(`\D`)

// CanonicalPhone keeps only the digits of a phone number or transport id.
// A whatsmeow JID such as "59170000000@s.whatsapp.net" or a Twilio
// "whatsapp:+59170000000" both become "59170000000".
func CanonicalPhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	if colon := strings.IndexByte(s, ':'); colon >= 0 {
		s = s[:colon] // device suffix "591...:12"
	}
	return nonDigit.ReplaceAllString(s, "")
}

// LocalBolivian strips the 591 prefix from an 11-digit Bolivian number.
// Other numbers are returned in canonical form unchanged.
func LocalBolivian(raw string) string {
	digits := CanonicalPhone(raw)
	if len(digits) == 11 && strings.HasPrefix(digits, BoliviaCountryCode) {
		return digits[len(BoliviaCountryCode):]
	}
	return digits
}

// InternationalBolivian prefixes 591 to an 8-digit local number so it
// matches the canonical form of WhatsApp senders.
func InternationalBolivian(raw string) string {
	digits := CanonicalPhone(raw)
	if len(digits) == 8 {
		return BoliviaCountryCode + digits
	}
	return digits
}
