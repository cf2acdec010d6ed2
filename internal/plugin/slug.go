package plugin

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases s, folds accents to ASCII and collapses every run of
// other characters into a single "-".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(unicode.ToLower(r))
		default:
			dash = true
		}
	}
	return b.String()
}

// SlugOf returns the plugin's slug, derived from its name when unset.
func SlugOf(m Meta) string {
	if s := Slugify(m.Slug); s != "" {
		return s
	}
	return Slugify(m.Name)
}
