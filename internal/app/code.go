package app

import (
	"math/rand"
	"strings"
)

// codeAlphabet deliberately omits 0/O/1/I/L: codes are typed from a classroom
// projector and those glyphs are routinely confused.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// codeLength is the fixed width of a join code.
const codeLength = 6

// newCode draws a join code from the unambiguous alphabet.
func newCode(rnd *rand.Rand) string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[rnd.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeCode maps user input onto the canonical code form. Codes are
// stored uppercase; lookups accept any case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// validCode reports whether code has the canonical width and alphabet.
func validCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
