package zipkit

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// NameSource records where a decoded Entry name (or comment) came
// from, per the data model in §3.
type NameSource int

const (
	// SourceRaw means the name was decoded with the configured legacy charset.
	SourceRaw NameSource = iota
	// SourceUTF8Flag means the GP "language encoding" bit was set.
	SourceUTF8Flag
	// SourceUnicodeExtra means a Unicode path/comment extra (0x7075/0x6375) supplied the name.
	SourceUnicodeExtra
)

func (s NameSource) String() string {
	switch s {
	case SourceUTF8Flag:
		return "utf8-flag"
	case SourceUnicodeExtra:
		return "unicode-extra"
	default:
		return "raw"
	}
}

// Charset is the legacy (non-UTF-8) text encoding used for names and
// comments when the UTF-8 GP bit is clear. DefaultCharset is CP437,
// the nominal APPNOTE encoding; most writers actually emit the host's
// local encoding, but CP437 is the only portable default.
var DefaultCharset encoding.Encoding = charmap.CodePage437

// decodeName decodes raw bytes using charset, replacing unmappable
// sequences with '?', per §6.2.
func decodeName(raw []byte, charset encoding.Encoding) string {
	if charset == nil {
		charset = DefaultCharset
	}
	out, err := charset.NewDecoder().Bytes(raw)
	if err != nil {
		// Decoder.Bytes with the charmap package only errors on a
		// nil/misconfigured transformer; fall back to lossy ASCII.
		out = make([]byte, len(raw))
		for i, b := range raw {
			if b < 0x20 || b > 0x7e {
				out[i] = '?'
			} else {
				out[i] = b
			}
		}
	}
	return string(out)
}

// encodeName encodes s with charset if every rune is representable;
// otherwise, if fallbackToUTF8 is set, it returns s encoded as UTF-8
// and reports that the UTF-8 GP bit must be set. Otherwise it falls
// back to the %Uxxxx escaping convention (§4.6) so the byte sequence
// stays round-trip stable via a Unicode extra field.
func encodeName(s string, charset encoding.Encoding, fallbackToUTF8 bool) (encoded []byte, useUTF8Flag bool, err error) {
	if charset == nil {
		charset = DefaultCharset
	}
	enc := charset.NewEncoder()
	if b, encErr := enc.Bytes([]byte(s)); encErr == nil {
		return b, false, nil
	}
	if fallbackToUTF8 {
		return []byte(s), true, nil
	}
	canEncode := func(r rune) bool {
		_, cerr := enc.Bytes([]byte(string(r)))
		return cerr == nil
	}
	return []byte(encodeNameFallback(s, canEncode)), false, nil
}
