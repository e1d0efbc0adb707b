package zipkit

import (
	"encoding/binary"
	"io"
)

// rawLocalHeader is the decoded fixed portion of a Local File Header,
// before name/extra are read, per §4.2a / §6.1.
type rawLocalHeader struct {
	ReaderVersion    uint16
	Flags            uint16
	Method           uint16
	ModTime, ModDate uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLen          uint16
	ExtraLen         uint16
}

// readLocalHeader reads and validates the 30-byte LFH signature+fixed
// fields from r. The caller has already peeked/consumed the signature
// if needed; readLocalHeader re-reads all 30 bytes including it.
func readLocalHeader(r io.Reader) (*rawLocalHeader, error) {
	var buf [lenLocalFileHeader]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != sigLocalFileHeader {
		return nil, newErr(ErrBadSignature, "", "expected local file header signature")
	}
	b := readBuf(buf[4:])
	h := &rawLocalHeader{
		ReaderVersion: b.uint16(),
		Flags:         b.uint16(),
		Method:        b.uint16(),
	}
	h.ModTime = b.uint16()
	h.ModDate = b.uint16()
	h.CRC32 = b.uint32()
	h.CompressedSize = b.uint32()
	h.UncompressedSize = b.uint32()
	h.NameLen = b.uint16()
	h.ExtraLen = b.uint16()
	return h, nil
}

// writeLocalHeader encodes the 30-byte LFH fixed fields (signature
// through extraLen) followed by name and extra, matching the
// teacher's writeHeader but parameterized over every field instead of
// hardcoding a zero CRC/size triplet (that zeroing is the caller's
// decision, driven by whether a data descriptor will follow).
func writeLocalHeader(w io.Writer, e *Entry, nameBytes, extraBytes []byte) error {
	if len(nameBytes) > uint16max {
		return newErr(ErrInvalidUsage, e.Name, "name too long")
	}
	if len(extraBytes) > uint16max {
		return newErr(ErrInvalidUsage, e.Name, "extra too long")
	}
	modDate, modTime := timeToDOSTime(e.Time)

	var crc32, compSize, uncompSize uint32
	if !e.HasDataDescriptor() {
		crc32 = uint32(e.CRC32)
		compSize = clampUint32(e.CompressedSize)
		uncompSize = clampUint32(e.Size)
	}

	var buf [lenLocalFileHeader]byte
	b := writeBuf(buf[:])
	b.uint32(sigLocalFileHeader)
	b.uint16(e.VersionRequired)
	b.uint16(e.GPFlag)
	b.uint16(e.Method)
	b.uint16(modTime)
	b.uint16(modDate)
	b.uint32(crc32)
	b.uint32(compSize)
	b.uint32(uncompSize)
	b.uint16(uint16(len(nameBytes)))
	b.uint16(uint16(len(extraBytes)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := w.Write(nameBytes); err != nil {
		return err
	}
	_, err := w.Write(extraBytes)
	return err
}

func clampUint32(v int64) uint32 {
	if v < 0 || v >= uint32max {
		return uint32max
	}
	return uint32(v)
}

func clampUint16(v uint32) uint16 {
	if v >= uint16max {
		return uint16max
	}
	return uint16(v)
}

// writeCentralHeader encodes one 46-byte CFH fixed record followed by
// name, extra, and comment, matching the teacher's
// writeCentralDirectory loop body generalized to a single entry at a
// time so the writer can stream CFHs as it learns them.
func writeCentralHeader(w io.Writer, e *Entry, nameBytes, extraBytes, commentBytes []byte) error {
	modDate, modTime := timeToDOSTime(e.Time)

	var buf [lenCentralDirHeader]byte
	b := writeBuf(buf[:])
	b.uint32(sigCentralDirHeader)
	b.uint16(e.VersionMadeBy)
	b.uint16(e.VersionRequired)
	b.uint16(e.GPFlag)
	b.uint16(e.Method)
	b.uint16(modTime)
	b.uint16(modDate)
	b.uint32(uint32(e.CRC32))
	b.uint32(clampUint32(e.CompressedSize))
	b.uint32(clampUint32(e.Size))
	b.uint16(uint16(len(nameBytes)))
	b.uint16(uint16(len(extraBytes)))
	b.uint16(uint16(len(commentBytes)))
	b.uint16(clampUint16(e.DiskNumberStart))
	b.uint16(e.InternalAttrs)
	b.uint32(e.ExternalAttrs)
	b.uint32(clampUint32(e.LocalHeaderOffset))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := w.Write(nameBytes); err != nil {
		return err
	}
	if _, err := w.Write(extraBytes); err != nil {
		return err
	}
	_, err := w.Write(commentBytes)
	return err
}

// rawCentralHeader is the decoded fixed portion of a Central
// Directory Header, before name/extra/comment are read.
type rawCentralHeader struct {
	VersionMadeBy, VersionRequired uint16
	Flags, Method                  uint16
	ModTime, ModDate                uint16
	CRC32                           uint32
	CompressedSize, UncompressedSize uint32
	NameLen, ExtraLen, CommentLen    uint16
	DiskStart                        uint16
	InternalAttrs                    uint16
	ExternalAttrs                    uint32
	LocalHeaderOffset                uint32
}

func readCentralHeader(r io.Reader) (*rawCentralHeader, error) {
	var buf [lenCentralDirHeader]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != sigCentralDirHeader {
		return nil, newErr(ErrBadSignature, "", "expected central directory header signature")
	}
	b := readBuf(buf[4:])
	h := &rawCentralHeader{
		VersionMadeBy:   b.uint16(),
		VersionRequired: b.uint16(),
		Flags:           b.uint16(),
		Method:          b.uint16(),
	}
	h.ModTime = b.uint16()
	h.ModDate = b.uint16()
	h.CRC32 = b.uint32()
	h.CompressedSize = b.uint32()
	h.UncompressedSize = b.uint32()
	h.NameLen = b.uint16()
	h.ExtraLen = b.uint16()
	h.CommentLen = b.uint16()
	h.DiskStart = b.uint16()
	h.InternalAttrs = b.uint16()
	h.ExternalAttrs = b.uint32()
	h.LocalHeaderOffset = b.uint32()
	return h, nil
}

// writeDataDescriptor encodes the optional-signature DD record. Sizes
// are written as 8-byte fields when zip64 is true, per §4.2a.
func writeDataDescriptor(w io.Writer, crc32 uint32, compSize, uncompSize uint64, zip64 bool) error {
	var buf []byte
	if zip64 {
		buf = make([]byte, lenDataDescriptor64)
	} else {
		buf = make([]byte, lenDataDescriptor)
	}
	b := writeBuf(buf)
	b.uint32(sigDataDescriptor)
	b.uint32(crc32)
	if zip64 {
		b.uint64(compSize)
		b.uint64(uncompSize)
	} else {
		b.uint32(uint32(compSize))
		b.uint32(uint32(uncompSize))
	}
	_, err := w.Write(buf)
	return err
}

// decodeDataDescriptor parses a 12/20-byte (no signature) or
// 16/24-byte (with signature) buffer already positioned at the start
// of a DD, returning the parsed fields. sigPresent/zip64 must be
// determined by the caller (the streaming reader scans for this).
func decodeDataDescriptor(buf []byte, sigPresent, zip64 bool) (crc32 uint32, compSize, uncompSize uint64, err error) {
	b := readBuf(buf)
	if sigPresent {
		if len(b) < 4 {
			return 0, 0, 0, newErr(ErrTruncated, "", "data descriptor missing signature")
		}
		b.uint32()
	}
	if zip64 {
		if len(b) < 20 {
			return 0, 0, 0, newErr(ErrTruncated, "", "zip64 data descriptor too short")
		}
		crc32 = b.uint32()
		compSize = b.uint64()
		uncompSize = b.uint64()
	} else {
		if len(b) < 12 {
			return 0, 0, 0, newErr(ErrTruncated, "", "data descriptor too short")
		}
		crc32 = b.uint32()
		compSize = uint64(b.uint32())
		uncompSize = uint64(b.uint32())
	}
	return crc32, compSize, uncompSize, nil
}

// eocdRecord is the decoded End Of Central Directory record.
type eocdRecord struct {
	DiskNumber        uint16
	CDStartDisk       uint16
	EntriesOnDisk     uint16
	EntriesTotal      uint16
	CDSize            uint32
	CDOffset          uint32
	Comment           []byte
}

func writeEOCD(w io.Writer, diskNumber, cdStartDisk uint16, entries uint16, cdSize, cdOffset uint32, comment []byte) error {
	var buf [lenEOCD]byte
	b := writeBuf(buf[:])
	b.uint32(sigEOCD)
	b.uint16(diskNumber)
	b.uint16(cdStartDisk)
	b.uint16(entries)
	b.uint16(entries)
	b.uint32(cdSize)
	b.uint32(cdOffset)
	b.uint16(uint16(len(comment)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := w.Write(comment)
	return err
}

func decodeEOCD(buf []byte) (*eocdRecord, error) {
	if len(buf) < lenEOCD {
		return nil, newErr(ErrTruncated, "", "eocd record too short")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != sigEOCD {
		return nil, newErr(ErrBadSignature, "", "expected eocd signature")
	}
	b := readBuf(buf[4:22])
	r := &eocdRecord{
		DiskNumber:    b.uint16(),
		CDStartDisk:   b.uint16(),
		EntriesOnDisk: b.uint16(),
		EntriesTotal:  b.uint16(),
		CDSize:        b.uint32(),
		CDOffset:      b.uint32(),
	}
	if len(buf) > lenEOCD {
		r.Comment = buf[lenEOCD:]
	}
	return r, nil
}

// writeZip64EOCD writes the Zip64 EOCD Record immediately followed by
// the Zip64 EOCD Locator, per §4.2a / §9's placement rule (the
// locator's offset names where the record begins).
func writeZip64EOCD(w io.Writer, diskNumber, cdStartDisk, totalDisks uint32, entries uint64, cdSize, cdOffset uint64, recordOffset uint64) error {
	var buf [lenZip64EOCD + lenZip64Locator]byte
	b := writeBuf(buf[:])
	b.uint32(sigZip64EOCD)
	b.uint64(lenZip64EOCD - 12)
	b.uint16(versionZip45)
	b.uint16(versionZip45)
	b.uint32(diskNumber)
	b.uint32(cdStartDisk)
	b.uint64(entries)
	b.uint64(entries)
	b.uint64(cdSize)
	b.uint64(cdOffset)

	b.uint32(sigZip64Locator)
	b.uint32(diskNumber) // disk with zip64 EOCD start
	b.uint64(recordOffset)
	b.uint32(totalDisks)
	_, err := w.Write(buf[:])
	return err
}

type zip64EOCDRecord struct {
	Entries  uint64
	CDSize   uint64
	CDOffset uint64
}

func decodeZip64EOCD(buf []byte) (*zip64EOCDRecord, error) {
	if len(buf) < lenZip64EOCD {
		return nil, newErr(ErrTruncated, "", "zip64 eocd record too short")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != sigZip64EOCD {
		return nil, newErr(ErrBadSignature, "", "expected zip64 eocd signature")
	}
	b := readBuf(buf[12:56])
	b.uint16() // version made by
	b.uint16() // version needed
	b.uint32() // disk number
	b.uint32() // disk with CD start
	b.uint64() // entries on disk
	entries := b.uint64()
	cdSize := b.uint64()
	cdOffset := b.uint64()
	return &zip64EOCDRecord{Entries: entries, CDSize: cdSize, CDOffset: cdOffset}, nil
}

type zip64LocatorRecord struct {
	EOCDDisk   uint32
	EOCDOffset uint64
	TotalDisks uint32
}

func decodeZip64Locator(buf []byte) (*zip64LocatorRecord, error) {
	if len(buf) < lenZip64Locator {
		return nil, newErr(ErrTruncated, "", "zip64 locator too short")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != sigZip64Locator {
		return nil, newErr(ErrBadSignature, "", "expected zip64 locator signature")
	}
	b := readBuf(buf[4:20])
	return &zip64LocatorRecord{
		EOCDDisk:   b.uint32(),
		EOCDOffset: b.uint64(),
		TotalDisks: b.uint32(),
	}, nil
}
