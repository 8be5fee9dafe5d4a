package util

import (
	"strings"
	"unicode"
)

// SnakeCase lowercases s and replaces every run of non alphanumeric
// characters with a single underscore, producing a valid capability name.
func SnakeCase(s string) string {
	var b strings.Builder
	lastUnderscore := true

	for i, r := range s {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && !lastUnderscore {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}
