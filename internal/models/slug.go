package models

import (
	"strings"
	"unicode"
)

// Slug derives a deterministic filesystem-safe identifier from a display
// name. Characters other than letters, digits, '_', '-' and whitespace
// become '_', whitespace runs become '_', repeated underscores collapse and
// leading/trailing underscores are trimmed.
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastUnderscore := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			// whitespace, '_' and anything illegal all fold to a single '_'
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "entity"
	}
	return slug
}
