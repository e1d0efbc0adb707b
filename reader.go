package zipkit

import (
	"bytes"
	"hash/crc32"
	"io"
	"sort"

	"go4.org/readerutil"
	"golang.org/x/text/encoding"
)

// maxEOCDSearch bounds the backward scan for the EOCD signature to the
// maximum possible comment length plus the fixed record size, per
// §4.3 / §6.1.
const maxEOCDSearch = lenEOCD + uint16max

// ReaderOptions configures a Reader, per §2a's struct-literal
// configuration convention (no functional options, matching the
// teacher's Template/Archive construction style).
type ReaderOptions struct {
	// Charset decodes names/comments whose UTF-8 GP bit is clear. Nil
	// selects DefaultCharset.
	Charset encoding.Encoding
	// ExtraParseMode controls malformed extra-field handling, per §4.5.
	ExtraParseMode ParseMode
	// MaxDisks caps the number of segments a split archive may span; 0 means unbounded.
	MaxDisks int
}

// Reader is a random-access, central-directory-driven ZIP reader
// (§4.3): it locates the EOCD by scanning backward from the end of
// the source, promotes to the Zip64 EOCD when sentinels are present,
// and parses every Central File Header up front.
type Reader struct {
	ra       SegmentedReaderAt
	size     int64
	comment  string
	entries  []*Entry
	cdOffset int64
	cdSize   int64
	mode     ParseMode
	charset  encoding.Encoding
}

// OpenReader builds a Reader over a single, non-split archive source.
func OpenReader(ra io.ReaderAt, size int64) (*Reader, error) {
	return OpenSegmentedReader(asSegmented(ra), size, ReaderOptions{})
}

// OpenReaderWithOptions is like OpenReader but accepts ReaderOptions.
func OpenReaderWithOptions(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	return OpenSegmentedReader(asSegmented(ra), size, opts)
}

// OpenSegmentedReader builds a Reader over a (possibly split) archive
// source addressed via SegmentedReaderAt, per §4.3. size is the total
// byte length of the last (or only) disk, which is where the EOCD lives.
func OpenSegmentedReader(ra SegmentedReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	if opts.MaxDisks > 0 && ra.NumDisks() > opts.MaxDisks {
		return nil, newErr(ErrUnsupportedFeature, "", "split archive exceeds configured maxDisks")
	}
	r := &Reader{ra: ra, size: size, mode: opts.ExtraParseMode, charset: opts.Charset}

	lastDisk := uint32(ra.NumDisks() - 1)
	eocdBuf, eocdPos, err := findEOCD(ra, lastDisk, size)
	if err != nil {
		return nil, err
	}
	eocd, err := decodeEOCD(eocdBuf)
	if err != nil {
		return nil, err
	}
	r.comment = decodeName(eocd.Comment, r.charset)

	cdOffset := int64(eocd.CDOffset)
	cdSize := int64(eocd.CDSize)
	numEntries := int64(eocd.EntriesTotal)

	if eocd.CDOffset == uint32max || eocd.CDSize == uint32max || eocd.EntriesTotal == uint16max {
		locBuf := make([]byte, lenZip64Locator)
		if _, err := ra.ReadAtDisk(locBuf, lastDisk, eocdPos-lenZip64Locator); err != nil {
			return nil, wrapErr(ErrTruncated, "", "reading zip64 locator", err)
		}
		loc, err := decodeZip64Locator(locBuf)
		if err != nil {
			return nil, err
		}
		recBuf := make([]byte, lenZip64EOCD)
		if _, err := ra.ReadAtDisk(recBuf, loc.EOCDDisk, int64(loc.EOCDOffset)); err != nil {
			return nil, wrapErr(ErrTruncated, "", "reading zip64 eocd record", err)
		}
		rec, err := decodeZip64EOCD(recBuf)
		if err != nil {
			return nil, err
		}
		cdOffset = int64(rec.CDOffset)
		cdSize = int64(rec.CDSize)
		numEntries = int64(rec.Entries)
	}
	r.cdOffset = cdOffset
	r.cdSize = cdSize

	cdBytes := make([]byte, cdSize)
	if _, err := ra.ReadAtDisk(cdBytes, uint32(eocd.CDStartDisk), cdOffset); err != nil {
		return nil, wrapErr(ErrTruncated, "", "reading central directory", err)
	}
	entries, err := parseCentralDirectory(cdBytes, numEntries, r.mode, r.charset)
	if err != nil {
		return nil, err
	}
	r.entries = entries
	return r, nil
}

// findEOCD scans backward from size for the EOCD signature, returning
// its fixed+comment bytes and its offset within disk.
func findEOCD(ra SegmentedReaderAt, disk uint32, size int64) ([]byte, int64, error) {
	searchLen := int64(maxEOCDSearch)
	if searchLen > size {
		searchLen = size
	}
	buf := make([]byte, searchLen)
	start := size - searchLen
	if _, err := ra.ReadAtDisk(buf, disk, start); err != nil && err != io.EOF {
		return nil, 0, wrapErr(ErrTruncated, "", "reading eocd search window", err)
	}
	idx := bytes.LastIndex(buf, []byte{0x50, 0x4b, 0x05, 0x06})
	if idx < 0 {
		return nil, 0, newErr(ErrBadSignature, "", "end of central directory record not found")
	}
	return buf[idx:], start + int64(idx), nil
}

// parseCentralDirectory decodes numEntries consecutive Central File
// Headers from cdBytes, in central-directory order, per §4.1/§6.1.
func parseCentralDirectory(cdBytes []byte, numEntries int64, mode ParseMode, charset encoding.Encoding) ([]*Entry, error) {
	entries := make([]*Entry, 0, numEntries)
	r := bytes.NewReader(cdBytes)
	for r.Len() > 0 {
		h, err := readCentralHeader(r)
		if err != nil {
			return nil, err
		}
		nameBytes := make([]byte, h.NameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, wrapErr(ErrTruncated, "", "reading central header name", err)
		}
		extraBytes := make([]byte, h.ExtraLen)
		if _, err := io.ReadFull(r, extraBytes); err != nil {
			return nil, wrapErr(ErrTruncated, "", "reading central header extra", err)
		}
		commentBytes := make([]byte, h.CommentLen)
		if _, err := io.ReadFull(r, commentBytes); err != nil {
			return nil, wrapErr(ErrTruncated, "", "reading central header comment", err)
		}

		e := &Entry{
			RawName:           nameBytes,
			Method:            h.Method,
			GPFlag:            h.Flags,
			InternalAttrs:     h.InternalAttrs,
			ExternalAttrs:     h.ExternalAttrs,
			Platform:          Platform(h.VersionMadeBy >> 8),
			VersionMadeBy:     h.VersionMadeBy,
			VersionRequired:   h.VersionRequired,
			CRC32:             int64(h.CRC32),
			Size:              int64(h.UncompressedSize),
			CompressedSize:    int64(h.CompressedSize),
			LocalHeaderOffset: int64(h.LocalHeaderOffset),
			DiskNumberStart:   uint32(h.DiskStart),
			Time:              dosTimeToTime(h.ModDate, h.ModTime, nil),
		}
		if h.Flags&gpUTF8 != 0 {
			e.Name = string(nameBytes)
			e.NameSource = SourceUTF8Flag
			e.Comment = string(commentBytes)
			e.CommentSource = SourceUTF8Flag
		} else {
			e.Name = decodeName(nameBytes, charset)
			e.Comment = decodeName(commentBytes, charset)
		}

		if err := e.setCentralDirectoryExtraWithMode(extraBytes, mode); err != nil {
			return nil, wrapErr(ErrCorruptField, e.Name, "parsing central directory extras", err)
		}
		resolveZip64Central(e)
		resolveUnicodeExtras(e, nameBytes, commentBytes)

		entries = append(entries, e)
	}
	return entries, nil
}

// resolveZip64Central overwrites the sentinel-valued fields decoded
// from the fixed CFH layout with the real values carried in the
// entry's Zip64 extra, per §4.5's "context-dependent payload" rule.
func resolveZip64Central(e *Entry) {
	for _, f := range e.extras {
		z, ok := f.(*ExtraZip64)
		if !ok {
			continue
		}
		if z.UncompressedSize != nil {
			e.Size = int64(*z.UncompressedSize)
		}
		if z.CompressedSize != nil {
			e.CompressedSize = int64(*z.CompressedSize)
		}
		if z.LocalHeaderOffset != nil {
			e.LocalHeaderOffset = int64(*z.LocalHeaderOffset)
		}
		if z.DiskStart != nil {
			e.DiskNumberStart = *z.DiskStart
		}
		return
	}
}

// resolveUnicodeExtras prefers a Unicode path/comment extra over the
// legacy-charset name when its CRC matches the raw bytes it was
// computed against, per §4.6.
func resolveUnicodeExtras(e *Entry, rawName, rawComment []byte) {
	for _, f := range e.extras {
		switch up := f.(type) {
		case *ExtraUnicodePath:
			if !up.StaleAgainst(rawName) {
				e.Name = up.Name
				e.NameSource = SourceUnicodeExtra
			}
		case *ExtraUnicodeComment:
			if !up.StaleAgainst(rawComment) {
				e.Comment = up.Comment
				e.CommentSource = SourceUnicodeExtra
			}
		}
	}
}

// Comment returns the archive-level EOCD comment.
func (r *Reader) Comment() string { return r.comment }

// Entries returns the archive's entries in central-directory order.
func (r *Reader) Entries() []*Entry { return r.entries }

// EntriesInPhysicalOrder returns the entries sorted by their physical
// position in the archive ((disk, local header offset)), useful for
// streaming extraction or verifying layout invariants, per §4.3.
func (r *Reader) EntriesInPhysicalOrder() []*Entry {
	out := append([]*Entry(nil), r.entries...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiskNumberStart != out[j].DiskNumberStart {
			return out[i].DiskNumberStart < out[j].DiskNumberStart
		}
		return out[i].LocalHeaderOffset < out[j].LocalHeaderOffset
	})
	return out
}

// localDataOffset reads e's Local File Header to learn where its
// compressed data actually begins (the LFH's own name/extra lengths
// need not match the CFH's, per §9), and merges local-side extras
// into e.
func (r *Reader) localDataOffset(e *Entry) (int64, error) {
	if e.DataOffset > 0 {
		return e.DataOffset, nil
	}
	fixed := make([]byte, lenLocalFileHeader)
	if _, err := r.ra.ReadAtDisk(fixed, e.DiskNumberStart, e.LocalHeaderOffset); err != nil {
		return 0, wrapErr(ErrTruncated, e.Name, "reading local file header", err)
	}
	lh, err := readLocalHeader(bytes.NewReader(fixed))
	if err != nil {
		return 0, wrapErr(ErrCorruptField, e.Name, "parsing local file header", err)
	}
	rest := make([]byte, int(lh.NameLen)+int(lh.ExtraLen))
	if _, err := r.ra.ReadAtDisk(rest, e.DiskNumberStart, e.LocalHeaderOffset+lenLocalFileHeader); err != nil {
		return 0, wrapErr(ErrTruncated, e.Name, "reading local file header name/extra", err)
	}
	extraBytes := rest[lh.NameLen:]
	fields, _, err := parseExtras(extraBytes, true, r.mode, CFHSentinels{})
	if err == nil {
		e.mergeExtras(fields, true, CFHSentinels{})
	}

	dataOffset := e.LocalHeaderOffset + lenLocalFileHeader + int64(lh.NameLen) + int64(lh.ExtraLen)
	if dataOffset+e.CompressedSize > r.cdOffset && e.DiskNumberStart == uint32(r.ra.NumDisks()-1) {
		return 0, newErr(ErrCorruptField, e.Name, "entry data overlaps central directory")
	}
	e.DataOffset = dataOffset
	return dataOffset, nil
}

// openRawEntry returns the entry's compressed bytes unmodified, with
// no decompression applied, per §4.3.
func (r *Reader) openRawEntry(e *Entry) (io.ReadCloser, error) {
	off, err := r.localDataOffset(e)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(io.NewSectionReader(diskSectionReaderAt{r.ra, e.DiskNumberStart}, off, e.CompressedSize)), nil
}

// OpenRaw is the exported form of openRawEntry.
func (r *Reader) OpenRaw(e *Entry) (io.ReadCloser, error) { return r.openRawEntry(e) }

// Open returns a decompressing stream for e's data, bounded to its
// compressed size and validated against CRC32 on EOF, per §4.3.
func (r *Reader) Open(e *Entry) (io.ReadCloser, error) {
	raw, err := r.openRawEntry(e)
	if err != nil {
		return nil, err
	}
	dec, ok := lookupDecompressor(e.Method)
	if !ok {
		raw.Close()
		return nil, newErr(ErrUnsupportedFeature, e.Name, "no decompressor registered for method")
	}
	rc, err := dec(raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &crcCheckedReader{rc: rc, raw: raw, want: uint32(e.CRC32), name: e.Name}, nil
}

// crcCheckedReader wraps a decompressing reader, validating CRC32
// against the declared value once the stream is exhausted.
type crcCheckedReader struct {
	rc   io.ReadCloser
	raw  io.Closer
	got  uint32
	want uint32
	name string
	done bool
}

func (c *crcCheckedReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.got = crc32.Update(c.got, crc32.IEEETable, p[:n])
	}
	if err == io.EOF && !c.done {
		c.done = true
		if c.got != c.want {
			return n, newErr(ErrCorruptField, c.name, "crc32 mismatch")
		}
	}
	return n, err
}

func (c *crcCheckedReader) Close() error {
	err := c.rc.Close()
	if rerr := c.raw.Close(); err == nil {
		err = rerr
	}
	return err
}

// Preamble returns the bytes before the first Local File Header (a
// self-extracting stub, for example), on disk 0.
func (r *Reader) Preamble() (io.ReadCloser, error) {
	first := r.size
	for _, e := range r.entries {
		if e.DiskNumberStart == 0 && e.LocalHeaderOffset < first {
			first = e.LocalHeaderOffset
		}
	}
	if first == r.size {
		first = r.cdOffset
	}
	return io.NopCloser(io.NewSectionReader(diskSectionReaderAt{r.ra, 0}, 0, first)), nil
}

// diskSectionReaderAt adapts a single disk of a SegmentedReaderAt to
// a plain io.ReaderAt so io.SectionReader/go4.org/readerutil can
// compose it with ordinary io.Reader machinery.
type diskSectionReaderAt struct {
	ra   SegmentedReaderAt
	disk uint32
}

func (d diskSectionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return d.ra.ReadAtDisk(p, d.disk, off)
}

// ConcatenatedView builds a single logical io.ReaderAt spanning every
// disk of a split archive in disk order, using go4.org/readerutil's
// MultiReaderAt, for callers that want to treat the whole archive as
// one addressable byte stream (for example, copying a raw entry with
// a plain io.SectionReader rather than going through SegmentedReaderAt).
// diskSizes must give the byte length of each disk in order.
func ConcatenatedView(ra SegmentedReaderAt, diskSizes []int64) readerutil.SizeReaderAt {
	parts := make([]readerutil.SizeReaderAt, ra.NumDisks())
	for i := range parts {
		parts[i] = io.NewSectionReader(diskSectionReaderAt{ra, uint32(i)}, 0, diskSizes[i])
	}
	return readerutil.NewMultiReaderAt(parts...)
}
