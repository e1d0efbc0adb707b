package zipkit

import (
	"hash/crc32"
	"io"
)

// writerState is the Writer's position in the state machine of §4.2b:
// Open -> EntryOpen -> Open -> Finished -> Closed.
type writerState int

const (
	stateOpen writerState = iota
	stateEntryOpen
	stateFinished
	stateClosed
)

// FinishReport summarizes a completed Writer.Finish call.
type FinishReport struct {
	Zip64Used        bool
	DegradedToNever  []string // names of entries where AsNeeded silently degraded to Never, per §9
	CentralDirOffset int64
	CentralDirSize   int64
	TotalDisks       uint32 // 1 unless SetSplitSize triggered at least one segment rollover
}

// SegmentSink lets a Writer emit a split archive across multiple
// physical destinations. NextSegment is called once the current
// segment has grown past SplitSize between entries, and must return
// the writer for the next segment, per §4.2d. A sink that does not
// implement this interface disables segmentation regardless of
// SetSplitSize, since the Writer has nowhere else to send the bytes.
type SegmentSink interface {
	io.Writer
	NextSegment() (io.Writer, error)
}

// Writer implements entry emission per §4.2b: in-place LFH rewrite
// when the sink is seekable, Data Descriptor fallback otherwise,
// Zip64 mode selection (§5), resource alignment (§4.2c), and split
// archive segmentation (§4.2d).
type Writer struct {
	w       io.Writer
	seeker  io.Seeker
	segSink SegmentSink
	cw      *countWriter
	mode    Zip64Mode
	state   writerState

	dir      []*Entry
	cur      *openEntryWriter
	anyZip64 bool
	degraded []string

	splitSize int64
	curDisk   uint32
}

type openEntryWriter struct {
	entry        *Entry
	comp         io.WriteCloser
	compCount    *countWriter
	crc          uint32
	rawCount     int64
	headerOffset int64

	zip64Reserved        bool
	zip64ExtraDataOffset int64 // file offset of the Zip64 extra's 16-byte size pair, valid only if zip64Reserved
	usesDataDescriptor   bool
}

// NewWriter returns a Writer emitting to w. If w also implements
// io.Seeker, CloseEntry rewrites LFH fields in place instead of
// emitting a trailing Data Descriptor.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: w, cw: &countWriter{w: w}}
	if s, ok := w.(io.Seeker); ok {
		wr.seeker = s
		if pos, err := s.Seek(0, io.SeekCurrent); err == nil {
			wr.cw.count = pos
		}
	}
	if s, ok := w.(SegmentSink); ok {
		wr.segSink = s
	}
	return wr
}

// SetZip64Mode configures the Zip64 emission policy (§5). The default
// is Zip64AsNeeded.
func (w *Writer) SetZip64Mode(mode Zip64Mode) { w.mode = mode }

// SetSplitSize configures split-archive segmentation in bytes; 0 (the
// default) disables segmentation, per §4.2d.
func (w *Writer) SetSplitSize(n int64) { w.splitSize = n }

func (w *Writer) seekable() bool { return w.seeker != nil }

// rollSegmentIfNeeded writes the leading split-archive marker before
// the very first entry (when segmentation is configured) and begins a
// new physical segment once the current one has grown past SplitSize,
// per §4.2d. Rollover only ever happens between entries, never inside
// one, since LFH + data + any trailing Data Descriptor always belongs
// to a single segment.
func (w *Writer) rollSegmentIfNeeded(entryName string) error {
	if w.splitSize <= 0 || w.segSink == nil {
		return nil
	}
	if len(w.dir) == 0 {
		if _, err := w.cw.Write([]byte{0x50, 0x4b, 0x30, 0x30}); err != nil {
			return wrapErr(ErrTruncated, entryName, "writing split archive marker", err)
		}
		return nil
	}
	if w.cw.count < w.splitSize {
		return nil
	}
	next, err := w.segSink.NextSegment()
	if err != nil {
		return wrapErr(ErrInvalidUsage, entryName, "beginning next split segment", err)
	}
	w.cw = &countWriter{w: next}
	w.curDisk++
	if s, ok := next.(io.Seeker); ok {
		w.seeker = s
	} else {
		w.seeker = nil
	}
	return nil
}

// PutEntry opens a new entry for writing, implicitly closing any
// already-open entry first, per §4.2b.
func (w *Writer) PutEntry(e *Entry) error {
	if w.state == stateFinished || w.state == stateClosed {
		return newErr(ErrInvalidUsage, e.Name, "put entry after finish")
	}
	if w.cur != nil {
		if err := w.CloseEntry(); err != nil {
			return err
		}
	}
	if err := w.rollSegmentIfNeeded(e.Name); err != nil {
		return err
	}
	e.DiskNumberStart = w.curDisk

	if e.VersionRequired == 0 {
		e.VersionRequired = versionZip20
	}
	if e.VersionMadeBy == 0 {
		e.VersionMadeBy = uint16(e.Platform)<<8 | versionZip20
	}

	sizeKnownUpfront := e.Size >= 0
	if !w.seekable() && e.Method == Store && !sizeKnownUpfront {
		return newErr(ErrInvalidUsage, e.Name, "stored entry on a non-seekable sink needs Size and CRC32 set")
	}

	headerOffset := w.cw.count
	e.LocalHeaderOffset = headerOffset

	overflow := e.NeedsZip64() || e.Size >= uint32max || e.CompressedSize >= uint32max
	needsZip64, degraded, err := decideEntryZip64(w.mode, w.seekable(), sizeKnownUpfront, e.Method, overflow)
	if err != nil {
		return err
	}
	if degraded {
		w.degraded = append(w.degraded, e.Name)
	}

	useDD := !w.seekable() && (e.Method != Store || !sizeKnownUpfront)
	if useDD {
		e.GPFlag |= gpDataDescriptor
	} else {
		e.GPFlag &^= gpDataDescriptor
	}

	nameBytes := []byte(e.RawName)
	if len(nameBytes) == 0 {
		nameBytes = []byte(e.Name)
		e.GPFlag |= gpUTF8
	}

	zip64ExtraDataOffset := int64(-1)
	if needsZip64 || w.mode == Zip64Always || w.mode == Zip64AlwaysWithCompatibility {
		e.AddExtraAsFirst(&ExtraZip64{UncompressedSize: u64ptr(0), CompressedSize: u64ptr(0)})
		e.VersionRequired = versionZip45
		w.anyZip64 = true
		zip64ExtraDataOffset = headerOffset + int64(lenLocalFileHeader+len(nameBytes)) + extraHeaderSize
	} else {
		e.RemoveExtra(idZip64)
	}
	if e.Alignment > 1 {
		w.applyAlignment(e, headerOffset, nameBytes)
	}
	extraBytes := mergeLocalData(e.GetExtra(false))

	if err := writeLocalHeader(w.cw, e, nameBytes, extraBytes); err != nil {
		return err
	}

	comp, err := w.compressorFor(e.Method)
	if err != nil {
		return err
	}
	cc := &countWriter{w: w.cw}
	wc, err := comp(cc)
	if err != nil {
		return err
	}

	w.cur = &openEntryWriter{
		entry:                e,
		comp:                 wc,
		compCount:            cc,
		headerOffset:         headerOffset,
		zip64Reserved:        zip64ExtraDataOffset >= 0,
		zip64ExtraDataOffset: zip64ExtraDataOffset,
		usesDataDescriptor:   useDD,
	}
	w.state = stateEntryOpen
	w.dir = append(w.dir, e)
	return nil
}

// applyAlignment inserts a ResourceAlignment extra sized so the
// entry's compressed data begins on the configured boundary, per
// §4.2c. It must run after any Zip64 placeholder has been inserted,
// since the placeholder's length counts toward the padding formula.
func (w *Writer) applyAlignment(e *Entry, headerOffset int64, nameBytes []byte) {
	e.RemoveExtra(idResourceAlignment)
	otherLen := len(mergeLocalData(e.GetExtra(false)))
	pad := alignmentPadding(headerOffset, len(nameBytes), otherLen, e.Alignment)
	e.AddExtra(&ExtraResourceAlignment{
		Alignment: uint16(e.Alignment),
		Padding:   make([]byte, pad),
	})
}

func (w *Writer) compressorFor(method uint16) (Compressor, error) {
	c, ok := lookupCompressor(method)
	if !ok {
		return nil, newErr(ErrUnsupportedFeature, "", "no compressor registered for method")
	}
	return c, nil
}

// Write feeds bytes to the currently open entry's encoder, per §4.2b.
func (w *Writer) Write(p []byte) (int, error) {
	if w.cur == nil {
		return 0, newErr(ErrInvalidUsage, "", "write without an open entry")
	}
	w.cur.crc = crc32.Update(w.cur.crc, crc32.IEEETable, p)
	n, err := w.cur.comp.Write(p)
	w.cur.rawCount += int64(n)
	return n, err
}

// CloseEntry finalizes the currently open entry: it learns the final
// compressed size and CRC, then either rewrites the LFH in place
// (seekable sink) or emits a Data Descriptor (non-seekable sink),
// per §4.2b and §9's placeholder-rewrite protocol.
func (w *Writer) CloseEntry() error {
	cur := w.cur
	if cur == nil {
		return nil
	}
	if err := cur.comp.Close(); err != nil {
		return err
	}
	e := cur.entry
	e.CRC32 = int64(cur.crc)
	e.CompressedSize = cur.compCount.count
	e.Size = cur.rawCount

	stillNeedsZip64 := e.NeedsZip64() || w.mode == Zip64Always || w.mode == Zip64AlwaysWithCompatibility
	if cur.zip64Reserved {
		if stillNeedsZip64 {
			if z, ok := firstExtra(e, idZip64).(*ExtraZip64); ok {
				// Central payload carries only the fields that actually
				// overflow their CFH sentinel slot, in the fixed order
				// (size, compressed size, offset, disk start), per §4.5 —
				// the same rule the reader enforces on the way in.
				*z = ExtraZip64{}
				if e.Size >= uint32max {
					z.UncompressedSize = u64ptr(uint64(e.Size))
				}
				if e.CompressedSize >= uint32max {
					z.CompressedSize = u64ptr(uint64(e.CompressedSize))
				}
				if e.LocalHeaderOffset >= uint32max {
					z.LocalHeaderOffset = u64ptr(uint64(e.LocalHeaderOffset))
				}
				if uint64(e.DiskNumberStart) >= uint16max {
					v := uint32(e.DiskNumberStart)
					z.DiskStart = &v
				}
			}
			if w.seekable() {
				if err := w.rewriteZip64Sizes(cur, uint64(e.Size), uint64(e.CompressedSize)); err != nil {
					return err
				}
			}
		} else {
			e.RemoveExtra(idZip64)
		}
	}

	if w.seekable() && !cur.usesDataDescriptor {
		if err := w.rewriteLFHCRCAndSizes(cur, e); err != nil {
			return err
		}
	} else if cur.usesDataDescriptor {
		if err := writeDataDescriptor(w.cw, uint32(e.CRC32), uint64(e.CompressedSize), uint64(e.Size), stillNeedsZip64); err != nil {
			return err
		}
	}

	w.cur = nil
	w.state = stateOpen
	return nil
}

func firstExtra(e *Entry, id uint16) ExtraField {
	for _, f := range e.GetExtra(false) {
		if f.HeaderID() == id {
			return f
		}
	}
	return nil
}

// rewriteLFHCRCAndSizes seeks back to localHeaderOffset+14 (the CRC
// field) and rewrites CRC and the 32-bit size fields.
func (w *Writer) rewriteLFHCRCAndSizes(cur *openEntryWriter, e *Entry) error {
	var buf [12]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(e.CRC32))
	b.uint32(clampUint32(e.CompressedSize))
	b.uint32(clampUint32(e.Size))
	return w.writeAt(cur.headerOffset+14, buf[:])
}

// rewriteZip64Sizes seeks to the Zip64 extra's 16-byte size pair
// within the already-written LFH and rewrites it with the real
// sizes.
func (w *Writer) rewriteZip64Sizes(cur *openEntryWriter, uncompressed, compressed uint64) error {
	var buf [16]byte
	b := writeBuf(buf[:])
	b.uint64(uncompressed)
	b.uint64(compressed)
	return w.writeAt(cur.zip64ExtraDataOffset, buf[:])
}

// writeAt performs a seek-write-seek-back against the sink; it is
// only called when the sink is seekable.
func (w *Writer) writeAt(offset int64, p []byte) error {
	ws, ok := w.cw.w.(io.WriteSeeker)
	if !ok {
		return newErr(ErrInvalidUsage, "", "writeAt requires a seekable sink")
	}
	cur, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := ws.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := ws.Write(p); err != nil {
		return err
	}
	_, err = ws.Seek(cur, io.SeekStart)
	return err
}

// AddRawEntry emits a pre-compressed entry: Size/CompressedSize/CRC32
// are trusted as already set on e, and raw is copied verbatim as the
// compressed payload. This is how a Reader's entries are recompacted
// into a new archive without re-running the codec, generalizing the
// teacher's in-memory parts assembly (archive.go) into a streamed
// write, per §4.2b.
func (w *Writer) AddRawEntry(e *Entry, raw io.Reader) error {
	if w.cur != nil {
		if err := w.CloseEntry(); err != nil {
			return err
		}
	}
	if err := w.rollSegmentIfNeeded(e.Name); err != nil {
		return err
	}
	e.DiskNumberStart = w.curDisk
	e.RemoveExtra(idZip64)

	overflow := e.NeedsZip64()
	needsZip64, _, err := decideEntryZip64(w.mode, w.seekable(), true, e.Method, overflow)
	if err != nil {
		return err
	}
	if needsZip64 {
		e.AddExtraAsFirst(&ExtraZip64{
			UncompressedSize: u64ptr(uint64(e.Size)),
			CompressedSize:   u64ptr(uint64(e.CompressedSize)),
		})
		e.VersionRequired = versionZip45
		w.anyZip64 = true
	}
	e.GPFlag &^= gpDataDescriptor

	nameBytes := []byte(e.RawName)
	if len(nameBytes) == 0 {
		nameBytes = []byte(e.Name)
	}
	e.LocalHeaderOffset = w.cw.count
	extraBytes := mergeLocalData(e.GetExtra(false))
	if err := writeLocalHeader(w.cw, e, nameBytes, extraBytes); err != nil {
		return err
	}
	if _, err := io.CopyN(w.cw, raw, e.CompressedSize); err != nil {
		return err
	}
	w.dir = append(w.dir, e)
	return nil
}

// Finish writes every central directory header, the Zip64 EOCD
// Record/Locator (if needed), and the EOCD, per §4.2b. Calling Finish
// a second time is an error.
func (w *Writer) Finish(comment string) (*FinishReport, error) {
	if w.state == stateFinished || w.state == stateClosed {
		return nil, newErr(ErrInvalidUsage, "", "finish called twice")
	}
	if w.cur != nil {
		if err := w.CloseEntry(); err != nil {
			return nil, err
		}
	}
	if len(comment) > uint16max {
		return nil, newErr(ErrInvalidUsage, "", "archive comment too long")
	}

	cdStart := w.cw.count
	for _, e := range w.dir {
		nameBytes := []byte(e.RawName)
		if len(nameBytes) == 0 {
			nameBytes = []byte(e.Name)
		}
		extraBytes := mergeCentralData(e.GetExtra(false))
		commentBytes := []byte(e.Comment)
		if err := writeCentralHeader(w.cw, e, nameBytes, extraBytes, commentBytes); err != nil {
			return nil, err
		}
	}
	cdEnd := w.cw.count
	cdSize := cdEnd - cdStart

	report := &FinishReport{DegradedToNever: w.degraded}

	needZip64EOCD := w.anyZip64 ||
		len(w.dir) >= uint16max ||
		cdSize >= uint32max ||
		cdStart >= uint32max ||
		uint64(w.curDisk) >= uint16max ||
		w.mode == Zip64Always ||
		w.mode == Zip64AlwaysWithCompatibility

	entries := uint16(len(w.dir))
	cdSize32 := clampUint32(cdSize)
	cdStart32 := clampUint32(cdStart)
	if needZip64EOCD {
		if err := writeZip64EOCD(w.cw, w.curDisk, w.curDisk, w.curDisk+1, uint64(len(w.dir)), uint64(cdSize), uint64(cdStart), uint64(cdEnd)); err != nil {
			return nil, err
		}
		entries = uint16max
		cdSize32 = uint32max
		cdStart32 = uint32max
		report.Zip64Used = true
	}
	if err := writeEOCD(w.cw, uint16(w.curDisk), uint16(w.curDisk), entries, cdSize32, cdStart32, []byte(comment)); err != nil {
		return nil, err
	}

	report.CentralDirOffset = cdStart
	report.CentralDirSize = cdSize
	report.TotalDisks = w.curDisk + 1
	w.state = stateFinished
	return report, nil
}

// Close finishes the archive (if Finish has not already been called)
// with an empty comment. The underlying sink is the caller's to
// close.
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return nil
	}
	if w.state != stateFinished {
		if _, err := w.Finish(""); err != nil {
			return err
		}
	}
	w.state = stateClosed
	return nil
}
