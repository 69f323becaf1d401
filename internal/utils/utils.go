package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate canonicalizes an identified plate string for storage and
// lookup: uppercase, alphanumerics only.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range strings.ToUpper(plate) {
		if unicode.IsUpper(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
