package zipkit

// ExtraZip64 is the Zip64 extended-information extra field (0x0001).
//
// Its local-header payload always carries both sizes, in order
// (uncompressed, compressed); its central-directory payload carries
// only the fields whose 32/16-bit CFH slot held a sentinel, in order
// (uncompressed size, compressed size, local header offset, disk
// start), per §4.5. A nil pointer means "not present on that side".
type ExtraZip64 struct {
	UncompressedSize  *uint64
	CompressedSize    *uint64
	LocalHeaderOffset *uint64
	DiskStart         *uint32
}

func (e *ExtraZip64) HeaderID() uint16 { return idZip64 }

func (e *ExtraZip64) LocalData() ([]byte, error) {
	if e.UncompressedSize == nil || e.CompressedSize == nil {
		// Invariant: local Zip64 extra always carries both sizes;
		// the empty-field-half case is forbidden on write.
		return nil, newErr(ErrInvalidUsage, "", "zip64 local extra missing a size")
	}
	buf := make([]byte, 16)
	b := writeBuf(buf)
	b.uint64(*e.UncompressedSize)
	b.uint64(*e.CompressedSize)
	return buf, nil
}

func (e *ExtraZip64) CentralData() ([]byte, error) {
	var buf []byte
	if e.UncompressedSize != nil {
		buf = appendUint64(buf, *e.UncompressedSize)
	}
	if e.CompressedSize != nil {
		buf = appendUint64(buf, *e.CompressedSize)
	}
	if e.LocalHeaderOffset != nil {
		buf = appendUint64(buf, *e.LocalHeaderOffset)
	}
	if e.DiskStart != nil {
		buf = appendUint32(buf, *e.DiskStart)
	}
	return buf, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	wb := writeBuf(b[:])
	wb.uint64(v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	wb := writeBuf(b[:])
	wb.uint32(v)
	return append(buf, b[:]...)
}

// ParseFromLocalData decodes the fixed local layout: uncompressed
// size, then compressed size, each optional depending on how many
// bytes are present (some writers omit trailing fields).
func (e *ExtraZip64) ParseFromLocalData(data []byte) (ExtraField, error) {
	out := &ExtraZip64{}
	b := readBuf(data)
	if len(b) >= 8 {
		v := b.uint64()
		out.UncompressedSize = &v
	}
	if len(b) >= 8 {
		v := b.uint64()
		out.CompressedSize = &v
	}
	return out, nil
}

// ParseFromCentralData decodes the variable central layout in the
// fixed field order (uncompressed, compressed, offset, disk start),
// reading exactly the fields sentinels marks as overflowed in the
// entry's own fixed-width CFH fields — not however many happen to fit
// in the given bytes, since a lone 8-byte payload is ambiguous between
// any of the three 8-byte-wide fields without that context (§4.5).
func (e *ExtraZip64) ParseFromCentralData(data []byte, sentinels CFHSentinels) (ExtraField, error) {
	out := &ExtraZip64{}
	b := readBuf(data)
	if sentinels.Size {
		if len(b) < 8 {
			return nil, newErr(ErrCorruptField, "", "zip64 central extra missing uncompressed size")
		}
		v := b.uint64()
		out.UncompressedSize = &v
	}
	if sentinels.CompressedSize {
		if len(b) < 8 {
			return nil, newErr(ErrCorruptField, "", "zip64 central extra missing compressed size")
		}
		v := b.uint64()
		out.CompressedSize = &v
	}
	if sentinels.LocalHeaderOffset {
		if len(b) < 8 {
			return nil, newErr(ErrCorruptField, "", "zip64 central extra missing local header offset")
		}
		v := b.uint64()
		out.LocalHeaderOffset = &v
	}
	if sentinels.DiskStart {
		if len(b) < 4 {
			return nil, newErr(ErrCorruptField, "", "zip64 central extra missing disk start")
		}
		v := b.uint32()
		out.DiskStart = &v
	}
	return out, nil
}

func u64ptr(v uint64) *uint64 { return &v }
func u32ptr(v uint32) *uint32 { return &v }
