package zipkit

import (
	"bytes"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReaderSeesDataDescriptorSizesAfterBody(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	e := &Entry{Name: "a.bin", Method: Deflate, Size: SizeUnknown}
	require.NoError(t, w.PutEntry(e))
	payload := bytes.Repeat([]byte("abcdefgh"), 100)
	_, err := w.Write(payload)
	require.NoError(t, err)
	_, err = w.Finish("")
	require.NoError(t, err)

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	got, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Size) // unknown at LFH time, before the body is read

	data, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, int64(len(payload)), got.Size)
}

func TestStreamReaderMultipleEntriesSequentially(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.PutEntry(&Entry{Name: "one", Method: Deflate, Size: SizeUnknown}))
	_, err := w.Write([]byte("111"))
	require.NoError(t, err)
	require.NoError(t, w.PutEntry(&Entry{Name: "two", Method: Deflate, Size: SizeUnknown}))
	_, err = w.Write([]byte("2222"))
	require.NoError(t, err)
	_, err = w.Finish("")
	require.NoError(t, err)

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))

	e1, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", e1.Name)
	d1, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, "111", string(d1))

	e2, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", e2.Name)
	d2, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, "2222", string(d2))

	_, err = sr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReaderReadWithoutNextErrors(t *testing.T) {
	sr := NewStreamReader(bytes.NewReader(nil))
	_, err := sr.Read(make([]byte, 4))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidUsage, kind)
}

func TestStreamReaderSkipsSplitMarker(t *testing.T) {
	var buf bytes.Buffer
	// PK00 split-archive marker, only legal at the very start of a stream.
	buf.Write([]byte{0x50, 0x4b, 0x30, 0x30})
	w := NewWriter(&buf)
	require.NoError(t, w.PutEntry(&Entry{Name: "after-marker.txt", Method: Store, Size: 2, CompressedSize: 2, CRC32: int64(crc32.ChecksumIEEE([]byte("ok")))}))
	_, err := w.Write([]byte("ok"))
	require.NoError(t, err)
	_, err = w.Finish("")
	require.NoError(t, err)

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	e, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "after-marker.txt", e.Name)
	data, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestStreamReaderSkipsAPKSigningBlockBeforeCentralDirectory(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.PutEntry(&Entry{Name: "classes.dex", Method: Store, Size: 8, CompressedSize: 8, CRC32: int64(crc32.ChecksumIEEE([]byte("dexbytes")))}))
	_, err := w.Write([]byte("dexbytes"))
	require.NoError(t, err)

	// Splice an APK Signing Block in right where the central directory
	// would normally start: an 8-byte little-endian size (covering
	// everything after the size field, trailing magic included),
	// arbitrary payload, then the 16-byte magic trailer.
	inner := bytes.Repeat([]byte{0xaa}, 24)
	block := &bytes.Buffer{}
	sizeField := make([]byte, 8)
	sf := writeBuf(sizeField)
	sf.uint64(uint64(len(inner) + len(apkSigBlockMagic)))
	block.Write(sizeField)
	block.Write(inner)
	block.Write(apkSigBlockMagic)

	head := buf.Bytes()
	full := append(append([]byte{}, head...), block.Bytes()...)

	// Append a real central directory + EOCD after the signing block by
	// finishing a second writer fed the same entry bytes, then splicing
	// its central directory region on.
	var plain bytes.Buffer
	w2 := NewWriter(&plain)
	require.NoError(t, w2.PutEntry(&Entry{Name: "classes.dex", Method: Store, Size: 8, CompressedSize: 8, CRC32: int64(crc32.ChecksumIEEE([]byte("dexbytes")))}))
	_, err = w2.Write([]byte("dexbytes"))
	require.NoError(t, err)
	report, err := w2.Finish("")
	require.NoError(t, err)
	plainBytes := plain.Bytes()
	cdAndEOCD := plainBytes[report.CentralDirOffset:]
	full = append(full, cdAndEOCD...)

	sr := NewStreamReader(bytes.NewReader(full))
	e, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "classes.dex", e.Name)
	data, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, "dexbytes", string(data))

	_, err = sr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReaderRejectsOversizedSigningBlockSizeField(t *testing.T) {
	body := []byte("e")
	entry := &Entry{
		Name:           "e",
		Method:         Store,
		Size:           int64(len(body)),
		CompressedSize: int64(len(body)),
		CRC32:          int64(crc32.ChecksumIEEE(body)),
	}
	var buf bytes.Buffer
	require.NoError(t, writeLocalHeader(&buf, entry, []byte("e"), nil))
	buf.Write(body)

	sizeField := make([]byte, 8)
	sf := writeBuf(sizeField)
	sf.uint64(uint64(streamMemoryGuard) + 1)
	buf.Write(sizeField)
	buf.Write(bytes.Repeat([]byte{0xaa}, 16)) // not a real block, just enough to read past the size field

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	e, err := sr.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, "e", e.Name)

	_, err = sr.Next()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrBadSignature, kind)
}

func TestStreamReaderStoredWithDataDescriptorStopsAtNextEntry(t *testing.T) {
	first := bytes.Repeat([]byte("store-me"), 50)
	second := []byte("second entry")

	var buf bytes.Buffer
	e1 := &Entry{Name: "a.bin", Method: Store, GPFlag: gpDataDescriptor}
	require.NoError(t, writeLocalHeader(&buf, e1, []byte("a.bin"), nil))
	buf.Write(first)
	require.NoError(t, writeDataDescriptor(&buf, crc32.ChecksumIEEE(first), uint64(len(first)), uint64(len(first)), false))

	e2 := &Entry{
		Name:           "b.bin",
		Method:         Store,
		Size:           int64(len(second)),
		CompressedSize: int64(len(second)),
		CRC32:          int64(crc32.ChecksumIEEE(second)),
	}
	require.NoError(t, writeLocalHeader(&buf, e2, []byte("b.bin"), nil))
	buf.Write(second)

	require.NoError(t, writeEOCD(&buf, 0, 0, 0, 0, 0, nil))

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))

	got1, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.bin", got1.Name)
	data1, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, first, data1)
	assert.Equal(t, int64(len(first)), got1.Size)
	assert.Equal(t, int64(len(first)), got1.CompressedSize)

	got2, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "b.bin", got2.Name)
	data2, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, second, data2)

	_, err = sr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReaderStoredWithZip64DataDescriptor(t *testing.T) {
	content := []byte("small content, big descriptor")

	var buf bytes.Buffer
	e := &Entry{Name: "c.bin", Method: Store, GPFlag: gpDataDescriptor}
	e.AddExtraAsFirst(&ExtraZip64{UncompressedSize: u64ptr(0), CompressedSize: u64ptr(0)})
	extraBytes := mergeLocalData(e.GetExtra(false))
	require.NoError(t, writeLocalHeader(&buf, e, []byte("c.bin"), extraBytes))
	buf.Write(content)
	require.NoError(t, writeDataDescriptor(&buf, crc32.ChecksumIEEE(content), uint64(len(content)), uint64(len(content)), true))
	require.NoError(t, writeEOCD(&buf, 0, 0, 0, 0, 0, nil))

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	got, err := sr.Next()
	require.NoError(t, err)
	data, err := io.ReadAll(sr)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, int64(len(content)), got.Size)

	_, err = sr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReaderDraconicModeDecodesCleanEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.PutEntry(&Entry{Name: "x.txt", Method: Store}))
	_, err := w.Write([]byte("y"))
	require.NoError(t, err)
	_, err = w.Finish("")
	require.NoError(t, err)

	sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
	sr.SetExtraParseMode(ModeDraconic)
	e, err := sr.Next()
	require.NoError(t, err)
	assert.Equal(t, "x.txt", e.Name)
}
