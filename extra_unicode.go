package zipkit

import "hash/crc32"

// ExtraUnicodePath is the Info-ZIP Unicode path extra field (0x7075):
// `u8 version | u32 nameCrc32 | utf8Bytes[]`. NameCRC32 is computed
// over the original (possibly mis-decoded) name bytes so consumers can
// detect a stale extra, per §4.5.
type ExtraUnicodePath struct {
	Version  uint8
	NameCRC32 uint32
	Name     string
}

func (e *ExtraUnicodePath) HeaderID() uint16 { return idUnicodePath }

func (e *ExtraUnicodePath) LocalData() ([]byte, error)   { return encodeUnicodeExtra(e.Version, e.NameCRC32, e.Name), nil }
func (e *ExtraUnicodePath) CentralData() ([]byte, error) { return e.LocalData() }

func (e *ExtraUnicodePath) ParseFromLocalData(data []byte) (ExtraField, error) {
	v, crc, name, err := decodeUnicodeExtra(data)
	if err != nil {
		return nil, err
	}
	return &ExtraUnicodePath{Version: v, NameCRC32: crc, Name: name}, nil
}

func (e *ExtraUnicodePath) ParseFromCentralData(data []byte, _ CFHSentinels) (ExtraField, error) {
	return e.ParseFromLocalData(data)
}

// StaleAgainst reports whether the Unicode path is stale relative to
// rawName: the embedded CRC no longer matches the raw name bytes the
// reader actually decoded.
func (e *ExtraUnicodePath) StaleAgainst(rawName []byte) bool {
	return crc32.ChecksumIEEE(rawName) != e.NameCRC32
}

// ExtraUnicodeComment is the Info-ZIP Unicode comment extra field (0x6375).
type ExtraUnicodeComment struct {
	Version   uint8
	CommentCRC32 uint32
	Comment   string
}

func (e *ExtraUnicodeComment) HeaderID() uint16 { return idUnicodeComment }

func (e *ExtraUnicodeComment) LocalData() ([]byte, error)   { return encodeUnicodeExtra(e.Version, e.CommentCRC32, e.Comment), nil }
func (e *ExtraUnicodeComment) CentralData() ([]byte, error) { return e.LocalData() }

func (e *ExtraUnicodeComment) ParseFromLocalData(data []byte) (ExtraField, error) {
	v, crc, comment, err := decodeUnicodeExtra(data)
	if err != nil {
		return nil, err
	}
	return &ExtraUnicodeComment{Version: v, CommentCRC32: crc, Comment: comment}, nil
}

func (e *ExtraUnicodeComment) ParseFromCentralData(data []byte, _ CFHSentinels) (ExtraField, error) {
	return e.ParseFromLocalData(data)
}

func (e *ExtraUnicodeComment) StaleAgainst(rawComment []byte) bool {
	return crc32.ChecksumIEEE(rawComment) != e.CommentCRC32
}

func encodeUnicodeExtra(version uint8, crc uint32, text string) []byte {
	buf := make([]byte, 5+len(text))
	b := writeBuf(buf)
	if version == 0 {
		version = 1
	}
	b.uint8(version)
	b.uint32(crc)
	copy(buf[5:], text)
	return buf
}

func decodeUnicodeExtra(data []byte) (version uint8, crc uint32, text string, err error) {
	if len(data) < 5 {
		return 0, 0, "", newErr(ErrCorruptField, "", "unicode extra too short")
	}
	b := readBuf(data)
	version = b.uint8()
	crc = b.uint32()
	text = string(b)
	return version, crc, text, nil
}
