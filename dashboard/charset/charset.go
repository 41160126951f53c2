// Package charset encodes UTF-8 text into the single-byte character ROMs of
// character displays, so that one encoded byte always occupies one cell.
package charset

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoder maps a rune to its byte in a display character ROM.
// *charmap.Charmap satisfies it.
type Encoder interface {
	EncodeRune(r rune) (b byte, ok bool)
}

// Replacement is written in place of runes the display cannot show.
const Replacement = '?'

var (
	// Latin1 matches the CU40026 VFD ROM, which follows ISO 8859-1 above 0xA0
	// (degree 0xB0, superscript three 0xB3, micro 0xB5).
	Latin1 Encoder = charmap.ISO8859_1
	// HD44780A00 is the Japanese standard ROM fitted to most HD44780 modules.
	HD44780A00 Encoder = hd44780A00{}
)

var errUnknownCharset = errors.New("unknown charset")

// Lookup returns the encoder registered under name ("latin1" or "hd44780").
func Lookup(name string) (Encoder, error) {
	switch name {
	case "latin1", "":
		return Latin1, nil
	case "hd44780", "hd44780-a00":
		return HD44780A00, nil
	}
	return nil, errors.New(errUnknownCharset.Error() + ": " + name)
}

// Append encodes text into dst, replacing control characters, invalid UTF-8
// and runes without a glyph by Replacement. It never grows dst beyond one
// byte per rune.
func Append(dst []byte, enc Encoder, text []byte) []byte {
	for len(text) > 0 {
		r, size := utf8.DecodeRune(text)
		text = text[size:]
		dst = append(dst, encodeOr(enc, r))
	}
	return dst
}

// AppendString is Append for string input.
func AppendString(dst []byte, enc Encoder, text string) []byte {
	for _, r := range text {
		dst = append(dst, encodeOr(enc, r))
	}
	return dst
}

// Encode strictly encodes s. A rune the display cannot show is an error, which
// lets configuration loading reject units that would render as garbage.
func Encode(enc Encoder, s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := encode(enc, r)
		if !ok {
			return nil, errors.New("charset: rune " + string(r) + " has no glyph")
		}
		out = append(out, b)
	}
	return out, nil
}

func encodeOr(enc Encoder, r rune) byte {
	b, ok := encode(enc, r)
	if !ok {
		return Replacement
	}
	return b
}

func encode(enc Encoder, r rune) (byte, bool) {
	if r == utf8.RuneError || isControl(r) {
		return 0, false
	}
	b, ok := enc.EncodeRune(r)
	if !ok || isControl(rune(b)) {
		return 0, false
	}
	return b, true
}

// isControl reports C0 and C1 control codes. Both are command bytes on the
// VFD, so they must never reach the display as text.
func isControl(r rune) bool {
	return r < 0x20 || (r >= 0x7f && r < 0xa0)
}

type hd44780A00 struct{}

var a00Extra = map[rune]byte{
	'°': 0xdf,
	'µ': 0xe4,
	'μ': 0xe4,
	'α': 0xe0,
	'ä': 0xe1,
	'β': 0xe2,
	'ε': 0xe3,
	'σ': 0xe5,
	'ρ': 0xe6,
	'ñ': 0xee,
	'ö': 0xef,
	'θ': 0xf2,
	'Ω': 0xf4,
	'ü': 0xf5,
	'Σ': 0xf6,
	'π': 0xf7,
	'÷': 0xfd,
}

func (hd44780A00) EncodeRune(r rune) (byte, bool) {
	// 0x5c is a yen sign and 0x7e an arrow in the A00 ROM.
	if r >= 0x20 && r < 0x7e && r != '\\' {
		return byte(r), true
	}
	b, ok := a00Extra[r]
	return b, ok
}
