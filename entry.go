package zipkit

import (
	"os"
	"path"
	"strings"
	"time"
)

// Sentinels for attributes unknown at construction time, per §3.
const (
	SizeUnknown   int64 = -1
	CRCUnknown    int64 = -1
	OffsetUnknown int64 = -1
)

// Platform identifies the "version made by" host system byte.
type Platform uint8

const (
	PlatformFAT  Platform = platformFAT
	PlatformUnix Platform = platformUnix
)

// Entry is one archive member record: the data model of §3, shared by
// the seekable reader, the streaming reader, and the writer.
type Entry struct {
	Name          string
	RawName       []byte
	NameSource    NameSource
	Comment       string
	CommentSource NameSource

	Method uint16

	// Size/CompressedSize are int64 so SizeUnknown (-1) is representable;
	// callers never see a raw sentinel confused with a real size because
	// actual sizes are bounded to 63 bits by the format's own 8-byte
	// Zip64 fields.
	Size           int64
	CompressedSize int64
	CRC32          int64

	GPFlag uint16

	InternalAttrs uint16
	ExternalAttrs uint32
	Platform      Platform

	VersionMadeBy    uint16
	VersionRequired  uint16
	LocalHeaderOffset int64
	DataOffset        int64
	DiskNumberStart   uint32

	// Alignment, when >1, must be a power of two in [0, 65535]; the
	// writer inserts a ResourceAlignment extra so the entry's
	// compressed data begins on that boundary (§4.2c).
	Alignment uint32

	extras            []ExtraField
	unparseableExtra  []byte

	Time time.Time

	// StreamContiguous marks entries produced by the streaming reader
	// whose data could be bounded directly from the LFH (no
	// data-descriptor scan was needed).
	StreamContiguous bool
}

// IsDirectory reports whether the entry's name denotes a directory (a
// trailing slash), per §3.
func (e *Entry) IsDirectory() bool {
	return strings.HasSuffix(e.Name, "/")
}

// HasDataDescriptor reports whether gpFlag bit 3 is set: LFH CRC/sizes
// are zero and the authoritative values follow the compressed payload.
func (e *Entry) HasDataDescriptor() bool {
	return e.GPFlag&gpDataDescriptor != 0
}

// Encrypted reports whether the entry's GP flag indicates encryption
// (normal or strong). zipkit parses the encryption-related extra
// fields but never decrypts data, per §1.
func (e *Entry) Encrypted() bool {
	return e.GPFlag&(gpEncrypted|gpStrongEncryption) != 0
}

// NeedsZip64 reports whether any wire-limited attribute overflows its
// 32-bit (or 16-bit disk) slot, per invariant 2 in §8.
func (e *Entry) NeedsZip64() bool {
	return e.Size >= uint32max ||
		e.CompressedSize >= uint32max ||
		e.LocalHeaderOffset >= uint32max ||
		e.DiskNumberStart >= uint16max
}

// FileMode derives an os.FileMode from Platform/ExternalAttrs/Name,
// generalizing the teacher's FileHeader.Mode.
func (e *Entry) FileMode() os.FileMode {
	var mode os.FileMode
	switch e.Platform {
	case PlatformUnix:
		mode = unixModeToFileMode(e.ExternalAttrs >> 16)
	default:
		mode = msdosModeToFileMode(e.ExternalAttrs)
	}
	if e.IsDirectory() {
		mode |= os.ModeDir
	}
	return mode
}

// SetFileMode sets Platform/ExternalAttrs from mode, generalizing the
// teacher's FileHeader.SetMode.
func (e *Entry) SetFileMode(mode os.FileMode) {
	e.Platform = PlatformUnix
	e.ExternalAttrs = fileModeToUnixMode(mode) << 16
	if mode&os.ModeDir != 0 {
		e.ExternalAttrs |= msdosDirAttr
	}
	if mode&0200 == 0 {
		e.ExternalAttrs |= msdosReadOnlyAttr
	}
}

// BaseName returns the final path element of Name, as os.FileInfo.Name would.
func (e *Entry) BaseName() string { return path.Base(e.Name) }

const (
	msdosDirAttr      = 0x10
	msdosReadOnlyAttr = 0x01

	modeIFMT   = 0xf000
	modeIFSOCK = 0xc000
	modeIFLNK  = 0xa000
	modeIFREG  = 0x8000
	modeIFBLK  = 0x6000
	modeIFDIR  = 0x4000
	modeIFCHR  = 0x2000
	modeIFIFO  = 0x1000
	modeISUID  = 0x800
	modeISGID  = 0x400
	modeISVTX  = 0x200
)

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDirAttr != 0 {
		mode = os.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnlyAttr != 0 {
		mode &^= 0222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = modeIFREG
	case os.ModeDir:
		m = modeIFDIR
	case os.ModeSymlink:
		m = modeIFLNK
	case os.ModeNamedPipe:
		m = modeIFIFO
	case os.ModeSocket:
		m = modeIFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = modeIFCHR
		} else {
			m = modeIFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= modeISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= modeISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= modeISVTX
	}
	return m | uint32(mode&0777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & modeIFMT {
	case modeIFBLK:
		mode |= os.ModeDevice
	case modeIFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case modeIFDIR:
		mode |= os.ModeDir
	case modeIFIFO:
		mode |= os.ModeNamedPipe
	case modeIFLNK:
		mode |= os.ModeSymlink
	case modeIFSOCK:
		mode |= os.ModeSocket
	}
	if m&modeISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&modeISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&modeISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// --- extras ---

// addExtra inserts or replaces field, preserving insertion order
// unless replaceExisting finds a prior field with the same HeaderID,
// in which case the new field takes the old one's slot.
func (e *Entry) addExtra(field ExtraField, replaceExisting bool) {
	id := field.HeaderID()
	if replaceExisting {
		for i, f := range e.extras {
			if f.HeaderID() == id {
				e.extras[i] = field
				return
			}
		}
	}
	e.extras = append(e.extras, field)
}

// AddExtra adds field, replacing any existing field with the same
// header id (content-equal re-application is idempotent: invariant 1
// in §8 holds because addExtra always overwrites by id, never
// duplicates).
func (e *Entry) AddExtra(field ExtraField) {
	e.addExtra(field, true)
}

// AddExtraAsFirst inserts field at index 0, displacing any prior field
// with the same id from wherever it was.
func (e *Entry) AddExtraAsFirst(field ExtraField) {
	id := field.HeaderID()
	filtered := e.extras[:0:0]
	for _, f := range e.extras {
		if f.HeaderID() != id {
			filtered = append(filtered, f)
		}
	}
	e.extras = append([]ExtraField{field}, filtered...)
}

// RemoveExtra removes the field with the given header id. It reports
// whether a field was actually removed (idempotence property in §8:
// removing a missing id fails predictably rather than silently).
func (e *Entry) RemoveExtra(id uint16) bool {
	for i, f := range e.extras {
		if f.HeaderID() == id {
			e.extras = append(e.extras[:i:i], e.extras[i+1:]...)
			return true
		}
	}
	return false
}

// GetExtra returns a snapshot of the entry's extras in order. Mutating
// the returned slice or its elements does not affect the entry.
func (e *Entry) GetExtra(includeUnparseable bool) []ExtraField {
	out := make([]ExtraField, len(e.extras))
	copy(out, e.extras)
	if includeUnparseable && e.unparseableExtra != nil {
		out = append(out, &ExtraUnparseableTail{Data: append([]byte(nil), e.unparseableExtra...)})
	}
	return out
}

// UnparseableExtra returns the raw tail bytes that did not conform to
// (id, len, data) framing, or nil.
func (e *Entry) UnparseableExtra() []byte {
	if e.unparseableExtra == nil {
		return nil
	}
	return append([]byte(nil), e.unparseableExtra...)
}

// mergeExtras merges newly parsed fields into the entry's extras. For
// each new field whose id matches an existing one, the existing field
// is re-parsed with the new side's bytes (fromLocal selects which
// accessor is authoritative); on parse failure the existing field
// degrades to ExtraUnrecognized, preserving both local and central
// raw bytes so the round trip stays lossless (§4.1).
func (e *Entry) mergeExtras(newFields []ExtraField, fromLocal bool, sentinels CFHSentinels) {
	for _, nf := range newFields {
		id := nf.HeaderID()
		idx := -1
		for i, f := range e.extras {
			if f.HeaderID() == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			e.extras = append(e.extras, nf)
			continue
		}
		existing := e.extras[idx]
		var raw []byte
		if fromLocal {
			raw, _ = nf.LocalData()
		} else {
			raw, _ = nf.CentralData()
		}
		merged, err := mergeOneExtra(existing, nf, raw, fromLocal, sentinels)
		if err != nil {
			local, central := sideBytes(existing, fromLocal, raw)
			merged = &ExtraUnrecognized{ID: id, Local: local, Central: central}
		}
		e.extras[idx] = merged
	}
}

func sideBytes(existing ExtraField, fromLocal bool, newRaw []byte) (local, central []byte) {
	local, _ = existing.LocalData()
	central, _ = existing.CentralData()
	if fromLocal {
		local = newRaw
	} else {
		central = newRaw
	}
	return
}

// mergeOneExtra re-parses the combination of an existing field and a
// freshly decoded field sharing the same header id, letting nf (the
// new side) win while keeping the opposite side's bytes from existing.
func mergeOneExtra(existing, nf ExtraField, raw []byte, fromLocal bool, sentinels CFHSentinels) (ExtraField, error) {
	if fromLocal {
		return existing.ParseFromLocalData(raw)
	}
	return existing.ParseFromCentralData(raw, sentinels)
}

// setExtra parses bytes as local-header extras (BestEffort mode) and
// merges them into the entry.
func (e *Entry) setExtra(bytes []byte) error {
	return e.setExtraWithMode(bytes, ModeBestEffort)
}

// setExtraWithMode is setExtra generalized to a caller-chosen
// ParseMode, letting the seekable and streaming readers honor their
// own configured ExtraParseMode (§4.5) through the same named
// operation spec.md describes.
func (e *Entry) setExtraWithMode(bytes []byte, mode ParseMode) error {
	fields, tail, err := parseExtras(bytes, true, mode, CFHSentinels{})
	if err != nil {
		return err
	}
	e.mergeExtras(fields, true, CFHSentinels{})
	if tail != nil {
		e.unparseableExtra = tail
	}
	return nil
}

// setCentralDirectoryExtra parses bytes as central-directory extras
// (BestEffort mode) and merges them into the entry.
func (e *Entry) setCentralDirectoryExtra(bytes []byte) error {
	return e.setCentralDirectoryExtraWithMode(bytes, ModeBestEffort)
}

// setCentralDirectoryExtraWithMode is setCentralDirectoryExtra
// generalized to a caller-chosen ParseMode. The sentinel flags that
// disambiguate the Zip64 extra's central payload are derived from e's
// own fixed-width fields, which must already hold the raw (possibly
// sentineled) values decoded straight from the CFH, before any Zip64
// resolution pass overwrites them.
func (e *Entry) setCentralDirectoryExtraWithMode(bytes []byte, mode ParseMode) error {
	sentinels := e.cfhSentinels()
	fields, tail, err := parseExtras(bytes, false, mode, sentinels)
	if err != nil {
		return err
	}
	e.mergeExtras(fields, false, sentinels)
	if tail != nil {
		e.unparseableExtra = tail
	}
	return nil
}

// cfhSentinels reports which of e's fixed-width CFH fields currently
// hold the Zip64 promotion sentinel, per §4.5.
func (e *Entry) cfhSentinels() CFHSentinels {
	return CFHSentinels{
		Size:              e.Size >= uint32max,
		CompressedSize:    e.CompressedSize >= uint32max,
		LocalHeaderOffset: e.LocalHeaderOffset >= uint32max,
		DiskStart:         e.DiskNumberStart >= uint16max,
	}
}

// Equal reports content-based equality over the attributes named in
// §4.1: name, comment, time, attrs, method, sizes, crc, general-purpose
// flags, central/local extra bytes, LFH offset, and data offset.
func (e *Entry) Equal(o *Entry) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Name != o.Name || e.Comment != o.Comment || !e.Time.Equal(o.Time) ||
		e.InternalAttrs != o.InternalAttrs || e.ExternalAttrs != o.ExternalAttrs ||
		e.Method != o.Method || e.Size != o.Size || e.CompressedSize != o.CompressedSize ||
		e.CRC32 != o.CRC32 || e.GPFlag != o.GPFlag ||
		e.LocalHeaderOffset != o.LocalHeaderOffset || e.DataOffset != o.DataOffset {
		return false
	}
	el, ec := mergeLocalData(e.extras), mergeCentralData(e.extras)
	ol, oc := mergeLocalData(o.extras), mergeCentralData(o.extras)
	return string(el) == string(ol) && string(ec) == string(oc)
}
