package live

import (
	"strings"
	"unicode"
)

// maxCommentRunes is the hard length cap applied after stripping.
const maxCommentRunes = 500

// sanitizeComment strips markup and disallowed characters and caps the
// length. An empty result means the comment carries nothing worth
// persisting or broadcasting.
func sanitizeComment(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case inTag:
			// Drop everything inside markup tags.
		case unicode.IsControl(r):
			// Control characters never survive.
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	runes := []rune(out)
	if len(runes) > maxCommentRunes {
		out = string(runes[:maxCommentRunes])
	}
	return out
}
