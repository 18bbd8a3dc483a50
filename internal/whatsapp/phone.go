package whatsapp

import "strings"

const defaultCountryCode = "55"

// NormalizePhone strips formatting and prefixes the default country code to
// national numbers (10 or 11 digits). Returns "" when no digits remain.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" {
		return ""
	}
	if len(digits) == 10 || len(digits) == 11 {
		return defaultCountryCode + digits
	}
	return digits
}
