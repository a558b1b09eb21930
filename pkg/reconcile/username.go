package reconcile

import (
	"strings"
	"unicode"
)

// GenerateUsername derives a candidate account name from a mapped profile.
// Fields are visited in the given order; present, non-blank values are trimmed
// and appended with no separator, with the first rune upper-cased when
// capitalize is set. Returns the empty string when every field is blank or
// missing; the caller must treat that as fatal for account creation.
//
// Deterministic and side-effect free.
func GenerateUsername(profile map[string]string, fieldOrder []string, capitalize bool) string {
	var b strings.Builder
	for _, field := range fieldOrder {
		value := strings.TrimSpace(profile[field])
		if value == "" {
			continue
		}
		if capitalize {
			runes := []rune(value)
			runes[0] = unicode.ToUpper(runes[0])
			value = string(runes)
		}
		b.WriteString(value)
	}
	return b.String()
}
