package zipkit

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Signatures, record lengths, and version numbers, per APPNOTE 6.3+.
const (
	sigLocalFileHeader  = 0x04034b50
	sigCentralDirHeader = 0x02014b50
	sigDataDescriptor   = 0x08074b50
	sigEOCD             = 0x06054b50
	sigZip64EOCD        = 0x06064b50
	sigZip64Locator     = 0x07064b50
	sigSplitMarker      = 0x30304b50

	lenLocalFileHeader  = 30 // + name + extra
	lenCentralDirHeader = 46 // + name + extra + comment
	lenEOCD             = 22 // + comment
	lenDataDescriptor   = 16 // sig, crc32, compressed size, size (uint32 each)
	lenDataDescriptor64 = 24 // sig, crc32, compressed size, size (uint64 sizes)
	lenZip64Locator     = 20
	lenZip64EOCD        = 56 // + extensible data sector

	versionZip20 = 20 // 2.0: default
	versionZip45 = 45 // 4.5: zip64

	platformFAT  = 0
	platformUnix = 3

	uint16max = 1<<16 - 1
	uint32max = 1<<32 - 1
)

// General purpose bit flags, per §6.4.
const (
	gpEncrypted        = 1 << 0
	gpDataDescriptor   = 1 << 3
	gpStrongEncryption = 1 << 6
	gpUTF8             = 1 << 11
)

// readBuf is a little-endian cursor over a byte slice, mirroring the
// teacher's writeBuf but for decoding.
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}

type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// countWriter tracks the number of bytes written, used to learn
// dataStart/compressedSize and central directory offsets as they are
// emitted, matching the teacher's countWriter.
type countWriter struct {
	w     interface{ Write([]byte) (int, error) }
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

// dosTimeToTime converts an MS-DOS packed date+time into a time.Time
// in the given location. Resolution is 2 seconds.
func dosTimeToTime(date, t uint16, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(t>>11),
		int(t>>5&0x3f),
		int(t&0x1f)*2,
		0,
		loc,
	)
}

// timeToDOSTime converts a time.Time into the MS-DOS packed date+time
// fields, in the time's own location (the caller chooses UTC or local
// by the zone already attached to the time.Time).
func timeToDOSTime(t time.Time) (date, ftime uint16) {
	if t.Year() < 1980 {
		return 0, 0
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	ftime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// encodeNameFallback encodes s as %Uxxxx escapes for code points that
// cannot be represented, matching the Info-ZIP convention: literal
// "U" followed by four uppercase hex digits per un-encodable rune.
// canEncode reports whether a single rune is representable in the
// target charset.
func encodeNameFallback(s string, canEncode func(r rune) bool) string {
	var sb strings.Builder
	for _, r := range s {
		if canEncode(r) {
			sb.WriteRune(r)
			continue
		}
		if r > utf8.MaxRune {
			r = utf8.RuneError
		}
		fmt.Fprintf(&sb, "%%U%04X", r)
	}
	return sb.String()
}
