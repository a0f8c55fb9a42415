package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxStringLength bounds exact-string fingerprints in runes.
const maxStringLength = 256

// Normalize prepares a string fingerprint value: Unicode NFC, surrounding
// whitespace trimmed, internal whitespace runs collapsed to one space.
// Case is preserved. Values longer than maxStringLength runes are cut to
// that prefix.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxStringLength {
		s = string(r[:maxStringLength])
	}
	return s
}
