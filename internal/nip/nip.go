// =============================================================================
// Supplier Reconciler - NIP Normalizer
// =============================================================================
//
// Suppliers type their NIP (company tax identifier) in whatever shape they
// like: "123-456-78-90", "PL 1234567890", a plain number, or a number that
// the spreadsheet already reformatted. Every comparison in the reconciler is
// done on the canonical form, which is the digits of the value and nothing
// else.
//
// =============================================================================

package nip

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Normalize returns the canonical (digits-only) form of a raw identifier.
//
// Any scalar is accepted. nil and values without digits yield "".
// Floats are formatted without an exponent so that a number like 1.23456789e9
// read from a spreadsheet keeps all of its digits.
func Normalize(raw any) string {
	var s string

	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		// Only ASCII digits count; unicode.IsDigit alone would also accept
		// Arabic-Indic and other script digits.
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether a canonical identifier can be used as a join key.
func Valid(canonical string) bool {
	return canonical != ""
}
