package zipkit

import (
	"bufio"
	"bytes"
	"errors"
	"hash/crc32"
	"io"
)

// apkSigBlockMagic is the trailing magic of an APK Signing Block,
// APK Signature Scheme v2+'s footer: a 16-byte magic preceded by an
// 8-byte little-endian block size, per §4.4's signing-block detection
// requirement.
var apkSigBlockMagic = []byte("APK Sig Block 42")

// streamMemoryGuard bounds how much header/extra data the streaming
// reader will buffer for a single record before giving up with
// ErrMemoryLimit, per §9.
const streamMemoryGuard = 2 << 20 // 2 MiB

// StreamReader reads a ZIP archive forward-only, one entry at a time,
// tolerant of Data Descriptors and without requiring the source to be
// seekable, per §4.4. It never reads the central directory.
type StreamReader struct {
	r       *bufio.Reader
	mode    ParseMode
	cur     *streamEntry
	started bool
	done    bool
}

type streamEntry struct {
	entry         *Entry
	dec           io.ReadCloser
	crcTracker    *crcTrackingReadCloser
	hasDataDesc   bool
	zip64DataDesc bool
}

// NewStreamReader wraps r for one-pass entry-at-a-time reading.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReaderSize(r, 32*1024)}
}

// SetExtraParseMode configures the extra-field decode policy (§4.5).
func (sr *StreamReader) SetExtraParseMode(mode ParseMode) { sr.mode = mode }

// Next advances to the next entry, closing any stream left open from
// the previous entry's body by discarding it (finishing the data
// descriptor scan so the cursor lands on the following record), per
// §4.4's single suspension point.
func (sr *StreamReader) Next() (*Entry, error) {
	if sr.cur != nil {
		if _, err := io.Copy(io.Discard, sr.cur.dec); err != nil {
			return nil, err
		}
		if err := sr.finishCurrent(); err != nil {
			return nil, err
		}
		sr.cur = nil
	}
	if sr.done {
		return nil, io.EOF
	}

	if err := sr.skipPreambleAndMarkers(); err != nil {
		return nil, err
	}

	sig, err := sr.peekSignature()
	if err != nil {
		return nil, err
	}
	if sig != sigLocalFileHeader && sig != sigCentralDirHeader && sig != sigZip64EOCD && sig != sigEOCD {
		if err := sr.skipAPKSigningBlock(); err != nil {
			return nil, err
		}
		if sig, err = sr.peekSignature(); err != nil {
			return nil, err
		}
	}
	if sig == sigCentralDirHeader || sig == sigZip64EOCD || sig == sigEOCD {
		sr.done = true
		return nil, io.EOF
	}
	if sig != sigLocalFileHeader {
		return nil, newErr(ErrBadSignature, "", "expected local file header")
	}

	lh, err := readLocalHeader(sr.r)
	if err != nil {
		return nil, err
	}
	if int(lh.NameLen)+int(lh.ExtraLen) > streamMemoryGuard {
		return nil, newErr(ErrMemoryLimit, "", "local header name/extra exceeds memory guard")
	}
	nameBytes := make([]byte, lh.NameLen)
	if _, err := io.ReadFull(sr.r, nameBytes); err != nil {
		return nil, wrapErr(ErrTruncated, "", "reading entry name", err)
	}
	extraBytes := make([]byte, lh.ExtraLen)
	if _, err := io.ReadFull(sr.r, extraBytes); err != nil {
		return nil, wrapErr(ErrTruncated, "", "reading entry extra", err)
	}

	e := &Entry{
		RawName:         nameBytes,
		Method:          lh.Method,
		GPFlag:          lh.Flags,
		VersionRequired: lh.ReaderVersion,
		CRC32:           int64(lh.CRC32),
		Size:            int64(lh.UncompressedSize),
		CompressedSize:  int64(lh.CompressedSize),
		Time:            dosTimeToTime(lh.ModDate, lh.ModTime, nil),
	}
	if lh.Flags&gpUTF8 != 0 {
		e.Name = string(nameBytes)
		e.NameSource = SourceUTF8Flag
	} else {
		e.Name = decodeName(nameBytes, nil)
	}

	if err := e.setExtraWithMode(extraBytes, sr.mode); err != nil {
		return nil, wrapErr(ErrCorruptField, e.Name, "parsing local extras", err)
	}
	resolveZip64Local(e)
	resolveUnicodeExtras(e, nameBytes, nil)

	hasDD := e.HasDataDescriptor()
	zip64DD := hasLocalZip64Extra(e)

	var body io.Reader
	resolved := false
	switch {
	case !hasDD:
		body = io.LimitReader(sr.r, e.CompressedSize)
		e.StreamContiguous = true
	case e.Method == Store:
		// A STORED entry with a data descriptor can't be bounded from
		// the LFH (its declared size is zero), and the store
		// decompressor is a plain passthrough that never signals EOF
		// on its own, so the entry's end must be found by scanning
		// forward for the next record signature, per §9.
		content, crc, compSize, uncompSize, serr := sr.scanStoredDataDescriptor(zip64DD)
		if serr != nil {
			return nil, serr
		}
		e.CRC32 = int64(crc)
		e.CompressedSize = int64(compSize)
		e.Size = int64(uncompSize)
		body = bytes.NewReader(content)
		resolved = true
	default:
		body = sr.r
	}

	dec, ok := lookupDecompressor(e.Method)
	if !ok {
		return nil, newErr(ErrUnsupportedFeature, e.Name, "no decompressor registered for method")
	}
	rc, err := dec(body)
	if err != nil {
		return nil, err
	}

	tracker := &crcTrackingReadCloser{rc: rc}
	se := &streamEntry{
		entry:         e,
		dec:           tracker,
		crcTracker:    tracker,
		hasDataDesc:   hasDD && !resolved,
		zip64DataDesc: zip64DD,
	}
	sr.cur = se
	sr.started = true
	return e, nil
}

// hasLocalZip64Extra reports whether e carries a local Zip64 extra,
// the signal that a data descriptor following e is the 20-byte Zip64
// form rather than 12 bytes: e's own Size/CompressedSize fields are
// still the zeroed LFH placeholders at this point for a data-
// descriptor entry, so they can't answer this (§4.5/§9).
func hasLocalZip64Extra(e *Entry) bool {
	for _, f := range e.extras {
		if f.HeaderID() == idZip64 {
			return true
		}
	}
	return false
}

// Read reads from the current entry's decompressed body.
func (sr *StreamReader) Read(p []byte) (int, error) {
	if sr.cur == nil {
		return 0, newErr(ErrInvalidUsage, "", "read without a current entry")
	}
	n, err := sr.cur.dec.Read(p)
	if err == io.EOF {
		if ferr := sr.finishCurrent(); ferr != nil {
			return n, ferr
		}
		sr.cur = nil
	}
	return n, err
}

// finishCurrent resolves the entry's final CRC/sizes: either from the
// LFH (already authoritative, no data descriptor) or by scanning for
// the data descriptor signature, per §4.4/§9.
func (sr *StreamReader) finishCurrent() error {
	se := sr.cur
	if se == nil {
		return nil
	}
	if err := se.dec.Close(); err != nil {
		return err
	}
	if !se.hasDataDesc {
		if uint32(se.entry.CRC32) != se.crcTracker.crc {
			return newErr(ErrCorruptField, se.entry.Name, "crc32 mismatch")
		}
		return nil
	}
	crc, compSize, uncompSize, err := sr.scanDataDescriptor(se.zip64DataDesc)
	if err != nil {
		return err
	}
	se.entry.CRC32 = int64(crc)
	se.entry.CompressedSize = int64(compSize)
	se.entry.Size = int64(uncompSize)
	if uint32(se.entry.CRC32) != se.crcTracker.crc {
		return newErr(ErrCorruptField, se.entry.Name, "crc32 mismatch")
	}
	return nil
}

// scanDataDescriptor locates the next Data Descriptor, tolerating the
// optional designated signature, per §6.1's ambiguity and the
// teacher-adjacent streaming idiom of scanning forward for the next
// recognizable signature rather than trusting a declared length.
func (sr *StreamReader) scanDataDescriptor(zip64 bool) (crc32v uint32, compSize, uncompSize uint64, err error) {
	withSigSize := lenDataDescriptor
	if zip64 {
		withSigSize = lenDataDescriptor64
	}
	peek, err := sr.r.Peek(4)
	if err != nil {
		return 0, 0, 0, wrapErr(ErrTruncated, "", "peeking data descriptor", err)
	}
	hasSig := bytes.Equal(peek, []byte{0x50, 0x4b, 0x07, 0x08})
	size := withSigSize - 4
	if hasSig {
		size = withSigSize
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(sr.r, buf); err != nil {
		return 0, 0, 0, wrapErr(ErrTruncated, "", "reading data descriptor", err)
	}
	return decodeDataDescriptor(buf, hasSig, zip64)
}

// scanStoredDataDescriptor resolves a STORED entry's content and
// trailing data descriptor by accumulating bytes one at a time until
// the next LFH, CFH, or (Zip64) EOCD signature is seen, then
// interpreting the 12 (or 20, Zip64) bytes immediately before it as
// the descriptor
// — optionally 16/24 if the descriptor carries its own designated
// signature — and everything before that as entry content, per §9's
// documented best-effort recovery. Bytes read past the discovered
// boundary are pushed back onto sr.r so the next Next() call sees the
// following record untouched.
func (sr *StreamReader) scanStoredDataDescriptor(zip64 bool) (content []byte, crc32v uint32, compSize, uncompSize uint64, err error) {
	ddLen := lenDataDescriptor - 4
	ddLenWithSig := lenDataDescriptor
	if zip64 {
		ddLen = lenDataDescriptor64 - 4
		ddLenWithSig = lenDataDescriptor64
	}

	var buf []byte
	for {
		b, rerr := sr.r.ReadByte()
		if rerr != nil {
			return nil, 0, 0, 0, wrapErr(ErrTruncated, "", "scanning for data descriptor", rerr)
		}
		buf = append(buf, b)
		if len(buf) > streamMemoryGuard {
			return nil, 0, 0, 0, newErr(ErrMemoryLimit, "", "stored entry data descriptor scan exceeds memory guard")
		}
		if len(buf) < 4 {
			continue
		}
		tail := buf[len(buf)-4:]
		sig := uint32(tail[0]) | uint32(tail[1])<<8 | uint32(tail[2])<<16 | uint32(tail[3])<<24
		if sig != sigLocalFileHeader && sig != sigCentralDirHeader && sig != sigZip64EOCD && sig != sigEOCD {
			continue
		}

		sigPos := len(buf) - 4
		ddStart := sigPos - ddLen
		hasSig := false
		if withSigStart := sigPos - ddLenWithSig; withSigStart >= 0 {
			if bytes.Equal(buf[withSigStart:withSigStart+4], []byte{0x50, 0x4b, 0x07, 0x08}) {
				ddStart = withSigStart
				hasSig = true
			}
		}
		if ddStart < 0 {
			continue // too little data yet: signature-looking bytes are part of the content
		}

		ddBytes := buf[ddStart:sigPos]
		leftover := append([]byte(nil), buf[sigPos:]...)
		sr.r = bufio.NewReaderSize(io.MultiReader(bytes.NewReader(leftover), sr.r), 32*1024)

		crc32v, compSize, uncompSize, err = decodeDataDescriptor(ddBytes, hasSig, zip64)
		if err != nil {
			return nil, 0, 0, 0, err
		}
		return buf[:ddStart], crc32v, compSize, uncompSize, nil
	}
}

// skipPreambleAndMarkers runs before the first entry only: it discards
// up to 4 KiB of leading bytes (a self-extracting stub, for example)
// that precede the first Local File Header or split-archive marker in
// that window, then consumes the split-archive marker if one is there,
// per §4.2d and §4.4. APK Signing Blocks are handled separately by
// skipAPKSigningBlock.
func (sr *StreamReader) skipPreambleAndMarkers() error {
	if !sr.started {
		window, _ := sr.r.Peek(4096 + 4)
		for i := 0; i+4 <= len(window); i++ {
			sig := uint32(window[i]) | uint32(window[i+1])<<8 | uint32(window[i+2])<<16 | uint32(window[i+3])<<24
			if sig == sigLocalFileHeader || sig == 0x30304b50 {
				sr.r.Discard(i)
				break
			}
		}
		peek, err := sr.r.Peek(4)
		if err == nil && len(peek) == 4 &&
			peek[0] == 0x50 && peek[1] == 0x4b && peek[2] == 0x30 && peek[3] == 0x30 {
			sr.r.Discard(4)
		}
	}
	return nil
}

// skipAPKSigningBlock detects and consumes an APK Signing Block sitting
// between the last entry's data and the central directory. The block's
// own leading 8-byte little-endian size field names its length
// excluding that field itself; the block's last 16 bytes repeat the
// apkSigBlockMagic trailer, which this validates before trusting the
// size field to resynchronize onto the next signature, per §4.4.
func (sr *StreamReader) skipAPKSigningBlock() error {
	head, err := sr.r.Peek(8)
	if err != nil {
		return wrapErr(ErrTruncated, "", "peeking apk signing block size", err)
	}
	hb := readBuf(head)
	size := int64(hb.uint64())
	if size <= 0 || size > streamMemoryGuard {
		return newErr(ErrBadSignature, "", "unrecognized record between entries and central directory")
	}
	block := make([]byte, 8+size)
	if _, err := io.ReadFull(sr.r, block); err != nil {
		return wrapErr(ErrTruncated, "", "reading apk signing block", err)
	}
	if !bytes.Equal(block[len(block)-16:], apkSigBlockMagic) {
		return newErr(ErrBadSignature, "", "unrecognized record between entries and central directory")
	}
	return nil
}

// peekSignature returns the next 4-byte little-endian signature
// without consuming it.
func (sr *StreamReader) peekSignature() (uint32, error) {
	b, err := sr.r.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, wrapErr(ErrTruncated, "", "unexpected end of archive", err)
		}
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func resolveZip64Local(e *Entry) {
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
		return
	}
}

// crcTrackingReadCloser wraps a decompressing ReadCloser and tallies
// CRC32 as bytes are read. Unlike reader.go's crcCheckedReader, it
// cannot validate inline: when a Data Descriptor trails the entry,
// the true CRC isn't known until after the stream is exhausted, so
// finishCurrent compares the tally once it has a CRC to compare
// against.
type crcTrackingReadCloser struct {
	rc  io.ReadCloser
	crc uint32
}

func (c *crcTrackingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.crc = crc32.Update(c.crc, crc32.IEEETable, p[:n])
	}
	return n, err
}

func (c *crcTrackingReadCloser) Close() error { return c.rc.Close() }
