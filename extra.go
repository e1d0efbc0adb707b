package zipkit

import (
	"fmt"
)

// ParseMode controls how the extra-field codec reacts to malformed
// framing or a known field that fails to decode, per §4.5.
type ParseMode int

const (
	// ModeBestEffort wraps malformed framing and failed known fields as raw blobs.
	ModeBestEffort ParseMode = iota
	// ModeStrictForKnown wraps malformed framing but fails on a known field that can't decode.
	ModeStrictForKnown
	// ModeOnlyParseableLenient skips malformed framing and wraps failed known fields.
	ModeOnlyParseableLenient
	// ModeOnlyParseableStrict skips malformed framing and fails on bad known fields.
	ModeOnlyParseableStrict
	// ModeDraconic fails on any malformed framing or decode failure.
	ModeDraconic
)

// Known extra-field header ids, per §9's closed set plus the tail
// pseudo-field.
const (
	idZip64              uint16 = 0x0001
	idStrongEncryption   uint16 = 0x0017
	idNTFS               uint16 = 0x000a
	idUnixOld            uint16 = 0x000d
	idInfoZipUnixOld     uint16 = 0x5855 // "UX"
	idUnixN              uint16 = 0x7875 // "ux"
	idExtendedTimestamp  uint16 = 0x5455 // "UT"
	idUnicodePath        uint16 = 0x7075 // "up"
	idUnicodeComment     uint16 = 0x6375 // "uc"
	idResourceAlignment  uint16 = 0xa11e // "A!" (Android zipalign's de-facto id)
)

// ExtraField is the capability set shared by every extra-field
// variant: a header id plus two independent byte representations
// (local vs central), matching §4.5 and §9 ("tagged union... plus a
// catch-all Unrecognized variant").
//
// ParseFromCentralData takes the CFH's own sentinel flags alongside
// the raw bytes: the Zip64 extra's central payload carries only the
// fields that actually overflowed, in a fixed order, so byte count
// alone can't tell a lone LocalHeaderOffset from a lone
// UncompressedSize (§4.5). Every other field ignores the argument.
type ExtraField interface {
	HeaderID() uint16
	LocalData() ([]byte, error)
	CentralData() ([]byte, error)
	ParseFromLocalData(data []byte) (ExtraField, error)
	ParseFromCentralData(data []byte, sentinels CFHSentinels) (ExtraField, error)
}

// CFHSentinels records which of an entry's fixed-width Central File
// Header fields held the Zip64 promotion sentinel (0xFFFFFFFF for the
// three 32-bit fields, 0xFFFF for disk start) at decode time, per
// §4.5's rule that the Zip64 extra's central payload carries exactly
// those fields and no others.
type CFHSentinels struct {
	Size              bool
	CompressedSize    bool
	LocalHeaderOffset bool
	DiskStart         bool
}

// extraFactory constructs a zero-value instance of a known field type
// so ParseFromLocalData/ParseFromCentralData can be called on it.
var extraFactory = map[uint16]func() ExtraField{
	idZip64:             func() ExtraField { return &ExtraZip64{} },
	idUnicodePath:       func() ExtraField { return &ExtraUnicodePath{} },
	idUnicodeComment:    func() ExtraField { return &ExtraUnicodeComment{} },
	idResourceAlignment: func() ExtraField { return &ExtraResourceAlignment{} },
	idStrongEncryption:  func() ExtraField { return &ExtraStrongEncryption{} },
	idNTFS:              func() ExtraField { return &ExtraNTFS{} },
	idExtendedTimestamp: func() ExtraField { return &ExtraExtendedTimestamp{} },
	idUnixOld:           func() ExtraField { return &ExtraUnixOld{} },
	idUnixN:             func() ExtraField { return &ExtraUnixN{} },
	idInfoZipUnixOld:    func() ExtraField { return &ExtraInfoZipUnixOld{} },
}

// parseExtras peels (id, len, data) triples from data, dispatching
// known ids to their typed parser and wrapping the rest as
// ExtraUnrecognized. local selects which side's parser known fields
// use; sentinels is only consulted for the central side (§4.5) and
// may be the zero value when local is true. It returns the recognized
// fields in order plus an optional tail of unparseable bytes, honoring
// mode's malformed-framing/decode-failure policy (§4.5's mode table).
func parseExtras(data []byte, local bool, mode ParseMode, sentinels CFHSentinels) (fields []ExtraField, tail []byte, err error) {
	buf := readBuf(data)
	for len(buf) > 0 {
		if len(buf) < 4 {
			return handleMalformedTail(fields, buf, mode)
		}
		id := uint16(buf[0]) | uint16(buf[1])<<8
		dataLen := int(uint16(buf[2]) | uint16(buf[3])<<8)
		if dataLen > len(buf)-4 {
			return handleMalformedTail(fields, buf, mode)
		}
		rec := buf[4 : 4+dataLen]
		buf = buf[4+dataLen:]

		field, perr := decodeOneExtra(id, rec, local, sentinels)
		if perr != nil {
			switch mode {
			case ModeDraconic, ModeStrictForKnown, ModeOnlyParseableStrict:
				return nil, nil, wrapErr(ErrCorruptField, "", fmt.Sprintf("extra field 0x%04x", id), perr)
			case ModeOnlyParseableLenient:
				field = &ExtraUnrecognized{ID: id}
				if local {
					field.(*ExtraUnrecognized).Local = append([]byte(nil), rec...)
				} else {
					field.(*ExtraUnrecognized).Central = append([]byte(nil), rec...)
				}
			default: // ModeBestEffort
				field = &ExtraUnrecognized{ID: id}
				if local {
					field.(*ExtraUnrecognized).Local = append([]byte(nil), rec...)
				} else {
					field.(*ExtraUnrecognized).Central = append([]byte(nil), rec...)
				}
			}
		}
		fields = append(fields, field)
	}
	return fields, nil, nil
}

func handleMalformedTail(fields []ExtraField, rest []byte, mode ParseMode) ([]ExtraField, []byte, error) {
	switch mode {
	case ModeDraconic:
		return nil, nil, newErr(ErrCorruptField, "", "malformed extra field framing")
	case ModeOnlyParseableLenient, ModeOnlyParseableStrict:
		return fields, nil, nil
	default: // ModeBestEffort, ModeStrictForKnown
		return fields, append([]byte(nil), rest...), nil
	}
}

func decodeOneExtra(id uint16, rec []byte, local bool, sentinels CFHSentinels) (ExtraField, error) {
	factory, known := extraFactory[id]
	if !known {
		f := &ExtraUnrecognized{ID: id}
		if local {
			f.Local = append([]byte(nil), rec...)
		} else {
			f.Central = append([]byte(nil), rec...)
		}
		return f, nil
	}
	zero := factory()
	if local {
		return zero.ParseFromLocalData(rec)
	}
	return zero.ParseFromCentralData(rec, sentinels)
}

// mergeLocalData concatenates the (id, len, data) framing for each
// field's local representation, in order.
func mergeLocalData(fields []ExtraField) []byte {
	return mergeData(fields, true)
}

// mergeCentralData concatenates the (id, len, data) framing for each
// field's central representation, in order.
func mergeCentralData(fields []ExtraField) []byte {
	return mergeData(fields, false)
}

func mergeData(fields []ExtraField, local bool) []byte {
	var out []byte
	for _, f := range fields {
		var data []byte
		var err error
		if local {
			data, err = f.LocalData()
		} else {
			data, err = f.CentralData()
		}
		if err != nil || data == nil {
			continue
		}
		var hdr [4]byte
		b := writeBuf(hdr[:])
		b.uint16(f.HeaderID())
		b.uint16(uint16(len(data)))
		out = append(out, hdr[:]...)
		out = append(out, data...)
	}
	return out
}
