// Package base32 implements the human-typeable Base32 text form used by license keys.
//
// The alphabet leaves out the glyphs people confuse when reading a key aloud or
// retyping it from paper (I, O, 0 and 1). Output is never padded. Dashes may be
// inserted every N characters for readability and are ignored by Decode, as is
// letter case.
package base32

import (
	stdbase32 "encoding/base32"
	"fmt"
	"strings"
)

// Alphabet is the 32-symbol set, in value order.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Separator is inserted between groups by Encode and stripped by Decode.
const Separator = '-'

var encoding = stdbase32.NewEncoding(Alphabet).WithPadding(stdbase32.NoPadding)

// FormatError reports malformed Base32 input.
type FormatError struct {
	Input string
	Msg   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("base32: %s", e.Msg)
}

// Encode returns the Base32 form of b. When groupSize is positive a Separator is
// inserted after every groupSize output characters.
func Encode(b []byte, groupSize int) string {
	s := encoding.EncodeToString(b)
	if groupSize <= 0 || len(s) <= groupSize {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + len(s)/groupSize)
	for i := 0; i < len(s); i += groupSize {
		if i > 0 {
			sb.WriteByte(Separator)
		}
		end := i + groupSize
		if end > len(s) {
			end = len(s)
		}
		sb.WriteString(s[i:end])
	}
	return sb.String()
}

// Decode is the inverse of Encode. Separators are removed and the input is
// upper-cased before decoding.
func Decode(s string) ([]byte, error) {
	clean := strings.ToUpper(strings.ReplaceAll(s, string(Separator), ""))
	for i := 0; i < len(clean); i++ {
		if strings.IndexByte(Alphabet, clean[i]) < 0 {
			return nil, &FormatError{Input: s, Msg: fmt.Sprintf("invalid character %q at offset %d", clean[i], i)}
		}
	}

	// Every byte count maps to exactly one character count; anything else is truncated input.
	n := DecodedLen(len(clean))
	if EncodedLen(n) != len(clean) {
		return nil, &FormatError{Input: s, Msg: fmt.Sprintf("%d characters do not encode a whole number of bytes", len(clean))}
	}

	out := make([]byte, n)
	m, err := encoding.Decode(out, []byte(clean))
	if err != nil {
		return nil, &FormatError{Input: s, Msg: err.Error()}
	}
	out = out[:m]

	if encoding.EncodeToString(out) != clean {
		return nil, &FormatError{Input: s, Msg: "non-zero trailing bits"}
	}
	return out, nil
}

// EncodedLen returns the number of characters Encode produces for n bytes, without separators.
func EncodedLen(n int) int {
	return (n*8 + 4) / 5
}

// DecodedLen returns the number of whole bytes carried by n characters.
func DecodedLen(n int) int {
	return n * 5 / 8
}
