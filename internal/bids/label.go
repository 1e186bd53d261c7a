package bids

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanLabel reduces a value to the characters allowed inside an entity
// label: accents are folded to their base letter and everything that is not
// a letter or digit is dropped.
func CleanLabel(value string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsDynamic reports whether value is a runtime placeholder such as "<<1>>".
func IsDynamic(value string) bool {
	v := strings.TrimSpace(value)
	return strings.HasPrefix(v, "<<") && strings.HasSuffix(v, ">>")
}
