// Package decode turns raw blob bytes into text without ever failing.
package decode

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Encoding names reported by Decode.
const (
	UTF8        = "utf-8"
	Windows1252 = "windows-1252"
	ISO88591    = "iso-8859-1"
	Lossy       = "lossy"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

type candidate struct {
	name string
	enc  encoding.Encoding
}

// Legacy single-byte encodings tried after UTF-8, in order.
var legacy = []candidate{
	{Windows1252, charmap.Windows1252},
	{ISO88591, charmap.ISO8859_1},
}

// IsBinary reports whether raw contains a NUL byte.
func IsBinary(raw []byte) bool {
	return bytes.IndexByte(raw, 0) >= 0
}

// Decode returns raw as text along with the name of the encoding that
// accepted it. Encodings are tried strictly in order; if none accepts the
// input, invalid sequences are replaced.
func Decode(raw []byte) (string, string) {
	if utf8.Valid(raw) {
		return string(bytes.TrimPrefix(raw, bom)), UTF8
	}
	for _, c := range legacy {
		if text, ok := strict(c.enc, raw); ok {
			return text, c.name
		}
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), Lossy
}

// strict decodes raw with enc and rejects the result when any byte has no
// mapping in the charset.
func strict(enc encoding.Encoding, raw []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}
