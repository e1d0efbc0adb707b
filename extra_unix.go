package zipkit

import "time"

// ExtraExtendedTimestamp is the Info-ZIP extended timestamp extra
// (0x5455): a one-byte flag set followed by up to three 4-byte Unix
// timestamps (mtime, atime, ctime), present according to the flag
// bits. The central-directory payload conventionally carries only
// mtime even when the flag byte still advertises all three.
type ExtraExtendedTimestamp struct {
	HasModTime   bool
	HasAccessTime bool
	HasCreateTime bool
	ModTime      time.Time
	AccessTime   time.Time
	CreateTime   time.Time
	central      bool
}

const (
	extTimeModFlag    = 1 << 0
	extTimeAccessFlag = 1 << 1
	extTimeCreateFlag = 1 << 2
)

func (e *ExtraExtendedTimestamp) HeaderID() uint16 { return idExtendedTimestamp }

func (e *ExtraExtendedTimestamp) flags() uint8 {
	var f uint8
	if e.HasModTime {
		f |= extTimeModFlag
	}
	if e.HasAccessTime {
		f |= extTimeAccessFlag
	}
	if e.HasCreateTime {
		f |= extTimeCreateFlag
	}
	return f
}

func (e *ExtraExtendedTimestamp) LocalData() ([]byte, error) {
	n := 1
	if e.HasModTime {
		n += 4
	}
	if e.HasAccessTime {
		n += 4
	}
	if e.HasCreateTime {
		n += 4
	}
	buf := make([]byte, n)
	b := writeBuf(buf)
	b.uint8(e.flags())
	if e.HasModTime {
		b.uint32(uint32(e.ModTime.Unix()))
	}
	if e.HasAccessTime {
		b.uint32(uint32(e.AccessTime.Unix()))
	}
	if e.HasCreateTime {
		b.uint32(uint32(e.CreateTime.Unix()))
	}
	return buf, nil
}

// CentralData carries only the mod time, matching Info-ZIP practice.
func (e *ExtraExtendedTimestamp) CentralData() ([]byte, error) {
	if !e.HasModTime {
		buf := []byte{e.flags()}
		return buf, nil
	}
	buf := make([]byte, 5)
	b := writeBuf(buf)
	b.uint8(extTimeModFlag)
	b.uint32(uint32(e.ModTime.Unix()))
	return buf, nil
}

func (e *ExtraExtendedTimestamp) parse(data []byte, central bool) (ExtraField, error) {
	if len(data) < 1 {
		return nil, newErr(ErrCorruptField, "", "extended timestamp extra empty")
	}
	b := readBuf(data)
	flags := b.uint8()
	out := &ExtraExtendedTimestamp{central: central}
	readIf := func(has bool) (time.Time, bool) {
		if !has || len(b) < 4 {
			return time.Time{}, false
		}
		return time.Unix(int64(b.uint32()), 0).UTC(), true
	}
	if t, ok := readIf(flags&extTimeModFlag != 0); ok {
		out.ModTime, out.HasModTime = t, true
	}
	if !central {
		if t, ok := readIf(flags&extTimeAccessFlag != 0); ok {
			out.AccessTime, out.HasAccessTime = t, true
		}
		if t, ok := readIf(flags&extTimeCreateFlag != 0); ok {
			out.CreateTime, out.HasCreateTime = t, true
		}
	}
	return out, nil
}

func (e *ExtraExtendedTimestamp) ParseFromLocalData(data []byte) (ExtraField, error) {
	return e.parse(data, false)
}

func (e *ExtraExtendedTimestamp) ParseFromCentralData(data []byte, _ CFHSentinels) (ExtraField, error) {
	return e.parse(data, true)
}

// ExtraNTFS is the NTFS timestamp extra field (0x000a): a 4-byte
// reserved field followed by one or more (tag, size, data) attribute
// blocks; tag 1 carries mtime/atime/ctime as 64-bit Windows FILETIME
// values (100ns ticks since 1601-01-01).
type ExtraNTFS struct {
	ModTime    time.Time
	AccessTime time.Time
	CreateTime time.Time
}

func (e *ExtraNTFS) HeaderID() uint16 { return idNTFS }

const ntfsEpochOffsetSeconds = 11644473600 // 1601-01-01 to 1970-01-01

func timeToFileTime(t time.Time) uint64 {
	return uint64((t.Unix()+ntfsEpochOffsetSeconds)*1e7) + uint64(t.Nanosecond()/100)
}

func fileTimeToTime(ft uint64) time.Time {
	secs := int64(ft/1e7) - ntfsEpochOffsetSeconds
	nsec := int64(ft%1e7) * 100
	return time.Unix(secs, nsec).UTC()
}

func (e *ExtraNTFS) LocalData() ([]byte, error) {
	buf := make([]byte, 4+4+24)
	b := writeBuf(buf)
	b.uint32(0) // reserved
	b.uint16(1) // tag 1: timestamps
	b.uint16(24)
	b.uint64(timeToFileTime(e.ModTime))
	b.uint64(timeToFileTime(e.AccessTime))
	b.uint64(timeToFileTime(e.CreateTime))
	return buf, nil
}

// CentralData is empty: NTFS timestamps are a local-header-only convention.
func (e *ExtraNTFS) CentralData() ([]byte, error) { return nil, nil }

func (e *ExtraNTFS) ParseFromLocalData(data []byte) (ExtraField, error) {
	if len(data) < 4 {
		return nil, newErr(ErrCorruptField, "", "ntfs extra too short")
	}
	b := readBuf(data)
	_ = b.uint32() // reserved
	out := &ExtraNTFS{}
	for len(b) >= 4 {
		tag := b.uint16()
		size := int(b.uint16())
		if size > len(b) {
			return nil, newErr(ErrCorruptField, "", "ntfs attribute overruns extra")
		}
		block := b.sub(size)
		if tag == 1 && len(block) >= 24 {
			rb := readBuf(block)
			out.ModTime = fileTimeToTime(rb.uint64())
			out.AccessTime = fileTimeToTime(rb.uint64())
			out.CreateTime = fileTimeToTime(rb.uint64())
		}
	}
	return out, nil
}

func (e *ExtraNTFS) ParseFromCentralData(data []byte, _ CFHSentinels) (ExtraField, error) {
	if len(data) == 0 {
		return &ExtraNTFS{}, nil
	}
	return e.ParseFromLocalData(data)
}

// ExtraUnixOld is the original PKWARE Unix extra field (0x000d):
// atime, mtime (4 bytes each), uid, gid (2 bytes each), followed by
// optional device-number/link-target data this core does not interpret.
type ExtraUnixOld struct {
	AccessTime time.Time
	ModTime    time.Time
	UID        uint16
	GID        uint16
	Rest       []byte
}

func (e *ExtraUnixOld) HeaderID() uint16 { return idUnixOld }

func (e *ExtraUnixOld) LocalData() ([]byte, error) {
	buf := make([]byte, 12+len(e.Rest))
	b := writeBuf(buf)
	b.uint32(uint32(e.AccessTime.Unix()))
	b.uint32(uint32(e.ModTime.Unix()))
	b.uint16(e.UID)
	b.uint16(e.GID)
	copy(buf[12:], e.Rest)
	return buf, nil
}

// CentralData carries only atime/mtime, matching APPNOTE's central-directory trimming of this field.
func (e *ExtraUnixOld) CentralData() ([]byte, error) {
	buf := make([]byte, 8)
	b := writeBuf(buf)
	b.uint32(uint32(e.AccessTime.Unix()))
	b.uint32(uint32(e.ModTime.Unix()))
	return buf, nil
}

func (e *ExtraUnixOld) ParseFromLocalData(data []byte) (ExtraField, error) {
	if len(data) < 12 {
		return nil, newErr(ErrCorruptField, "", "unix extra too short")
	}
	b := readBuf(data)
	at := time.Unix(int64(b.uint32()), 0).UTC()
	mt := time.Unix(int64(b.uint32()), 0).UTC()
	uid := b.uint16()
	gid := b.uint16()
	return &ExtraUnixOld{AccessTime: at, ModTime: mt, UID: uid, GID: gid, Rest: append([]byte(nil), b...)}, nil
}

func (e *ExtraUnixOld) ParseFromCentralData(data []byte, _ CFHSentinels) (ExtraField, error) {
	if len(data) < 8 {
		return &ExtraUnixOld{}, nil
	}
	b := readBuf(data)
	at := time.Unix(int64(b.uint32()), 0).UTC()
	mt := time.Unix(int64(b.uint32()), 0).UTC()
	return &ExtraUnixOld{AccessTime: at, ModTime: mt}, nil
}

// ExtraInfoZipUnixOld is the Info-ZIP "UX" extra (0x5855): UID/GID as
// 2-byte fields, with no timestamps (distinct from 0x000d above).
type ExtraInfoZipUnixOld struct {
	UID uint16
	GID uint16
}

func (e *ExtraInfoZipUnixOld) HeaderID() uint16 { return idInfoZipUnixOld }

func (e *ExtraInfoZipUnixOld) LocalData() ([]byte, error) {
	buf := make([]byte, 4)
	b := writeBuf(buf)
	b.uint16(e.UID)
	b.uint16(e.GID)
	return buf, nil
}

func (e *ExtraInfoZipUnixOld) CentralData() ([]byte, error) { return nil, nil }

func (e *ExtraInfoZipUnixOld) ParseFromLocalData(data []byte) (ExtraField, error) {
	if len(data) < 4 {
		return nil, newErr(ErrCorruptField, "", "info-zip unix extra too short")
	}
	b := readBuf(data)
	return &ExtraInfoZipUnixOld{UID: b.uint16(), GID: b.uint16()}, nil
}

func (e *ExtraInfoZipUnixOld) ParseFromCentralData(data []byte, _ CFHSentinels) (ExtraField, error) {
	if len(data) == 0 {
		return &ExtraInfoZipUnixOld{}, nil
	}
	return e.ParseFromLocalData(data)
}

// ExtraUnixN is the Info-ZIP "ux" extra (0x7875): version, then
// variable-length UID and GID (size-prefixed, little-endian).
type ExtraUnixN struct {
	Version uint8
	UID     uint64
	GID     uint64
	uidSize uint8
	gidSize uint8
}

func (e *ExtraUnixN) HeaderID() uint16 { return idUnixN }

func (e *ExtraUnixN) LocalData() ([]byte, error) {
	uidSize, gidSize := e.uidSize, e.gidSize
	if uidSize == 0 {
		uidSize = 4
	}
	if gidSize == 0 {
		gidSize = 4
	}
	buf := make([]byte, 0, 3+int(uidSize)+int(gidSize))
	buf = append(buf, 1, uidSize)
	buf = append(buf, leBytes(e.UID, int(uidSize))...)
	buf = append(buf, gidSize)
	buf = append(buf, leBytes(e.GID, int(gidSize))...)
	return buf, nil
}

// CentralData is empty: this field is a local-header-only convention.
func (e *ExtraUnixN) CentralData() ([]byte, error) { return nil, nil }

func leBytes(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(v >> (8 * uint(i)))
	}
	return out
}

func leUint(b []byte) uint64 {
	var v uint64
	for i, x := range b {
		v |= uint64(x) << (8 * uint(i))
	}
	return v
}

func (e *ExtraUnixN) ParseFromLocalData(data []byte) (ExtraField, error) {
	if len(data) < 3 {
		return nil, newErr(ErrCorruptField, "", "unix-n extra too short")
	}
	b := readBuf(data)
	version := b.uint8()
	uidSize := int(b.uint8())
	if uidSize > len(b) {
		return nil, newErr(ErrCorruptField, "", "unix-n uid size overruns extra")
	}
	uid := leUint(b.sub(uidSize))
	if len(b) < 1 {
		return nil, newErr(ErrCorruptField, "", "unix-n extra missing gid")
	}
	gidSize := int(b.uint8())
	if gidSize > len(b) {
		return nil, newErr(ErrCorruptField, "", "unix-n gid size overruns extra")
	}
	gid := leUint(b.sub(gidSize))
	return &ExtraUnixN{Version: version, UID: uid, GID: gid, uidSize: uint8(uidSize), gidSize: uint8(gidSize)}, nil
}

func (e *ExtraUnixN) ParseFromCentralData(data []byte, _ CFHSentinels) (ExtraField, error) {
	if len(data) == 0 {
		return &ExtraUnixN{}, nil
	}
	return e.ParseFromLocalData(data)
}
