package zipkit

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryIsDirectory(t *testing.T) {
	assert.True(t, (&Entry{Name: "a/b/"}).IsDirectory())
	assert.False(t, (&Entry{Name: "a/b"}).IsDirectory())
}

func TestEntryNeedsZip64(t *testing.T) {
	assert.False(t, (&Entry{Size: 10}).NeedsZip64())
	assert.True(t, (&Entry{Size: uint32max}).NeedsZip64())
	assert.True(t, (&Entry{CompressedSize: uint32max}).NeedsZip64())
	assert.True(t, (&Entry{LocalHeaderOffset: uint32max}).NeedsZip64())
	assert.True(t, (&Entry{DiskNumberStart: uint16max}).NeedsZip64())
}

func TestEntryFileModeRoundTripUnix(t *testing.T) {
	e := &Entry{Name: "bin/tool"}
	e.SetFileMode(0755)
	assert.Equal(t, PlatformUnix, e.Platform)
	assert.Equal(t, os.FileMode(0755), e.FileMode()&0777)
}

func TestEntryFileModeDirectory(t *testing.T) {
	e := &Entry{Name: "dir/"}
	e.SetFileMode(0755 | os.ModeDir)
	assert.True(t, e.FileMode().IsDir())
}

func TestEntryBaseName(t *testing.T) {
	assert.Equal(t, "file.txt", (&Entry{Name: "a/b/file.txt"}).BaseName())
}

func TestAddExtraReplacesExistingByID(t *testing.T) {
	e := &Entry{}
	e.AddExtra(&ExtraZip64{UncompressedSize: u64ptr(1)})
	e.AddExtra(&ExtraZip64{UncompressedSize: u64ptr(2)})

	extras := e.GetExtra(false)
	require.Len(t, extras, 1)
	z := extras[0].(*ExtraZip64)
	assert.Equal(t, uint64(2), *z.UncompressedSize)
}

func TestAddExtraAsFirstReordersAndDisplaces(t *testing.T) {
	e := &Entry{}
	e.AddExtra(&ExtraInfoZipUnixOld{UID: 1})
	e.AddExtraAsFirst(&ExtraZip64{UncompressedSize: u64ptr(1)})
	e.AddExtraAsFirst(&ExtraZip64{UncompressedSize: u64ptr(2)})

	extras := e.GetExtra(false)
	require.Len(t, extras, 2)
	assert.Equal(t, idZip64, extras[0].HeaderID())
	z := extras[0].(*ExtraZip64)
	assert.Equal(t, uint64(2), *z.UncompressedSize)
}

func TestRemoveExtraReportsWhetherSomethingWasRemoved(t *testing.T) {
	e := &Entry{}
	e.AddExtra(&ExtraZip64{UncompressedSize: u64ptr(1)})
	assert.True(t, e.RemoveExtra(idZip64))
	assert.False(t, e.RemoveExtra(idZip64))
}

func TestGetExtraIncludesUnparseableTailOnlyWhenRequested(t *testing.T) {
	e := &Entry{}
	e.unparseableExtra = []byte{1, 2, 3}
	assert.Len(t, e.GetExtra(false), 0)
	tailIncluded := e.GetExtra(true)
	require.Len(t, tailIncluded, 1)
	tail, ok := tailIncluded[0].(*ExtraUnparseableTail)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, tail.Data)
}

func TestMergeExtrasUpdatesExistingFieldBySameID(t *testing.T) {
	e := &Entry{}
	e.extras = []ExtraField{&ExtraZip64{UncompressedSize: u64ptr(1), CompressedSize: u64ptr(1)}}

	replacement := &ExtraZip64{UncompressedSize: u64ptr(99), CompressedSize: u64ptr(99)}
	e.mergeExtras([]ExtraField{replacement}, true, CFHSentinels{})

	extras := e.GetExtra(false)
	require.Len(t, extras, 1)
	z, ok := extras[0].(*ExtraZip64)
	require.True(t, ok)
	assert.Equal(t, uint64(99), *z.UncompressedSize)
}

func TestMergeExtrasAppendsUnseenID(t *testing.T) {
	e := &Entry{}
	e.mergeExtras([]ExtraField{&ExtraInfoZipUnixOld{UID: 1, GID: 2}}, true, CFHSentinels{})
	extras := e.GetExtra(false)
	require.Len(t, extras, 1)
	assert.Equal(t, idInfoZipUnixOld, extras[0].HeaderID())
}

func TestSetExtraParsesLocalBytesInBestEffortMode(t *testing.T) {
	e := &Entry{}
	data, err := (&ExtraZip64{UncompressedSize: u64ptr(1), CompressedSize: u64ptr(2)}).LocalData()
	require.NoError(t, err)

	require.NoError(t, e.setExtra(data))
	extras := e.GetExtra(false)
	require.Len(t, extras, 1)
	z, ok := extras[0].(*ExtraZip64)
	require.True(t, ok)
	assert.Equal(t, uint64(1), *z.UncompressedSize)
	assert.Equal(t, uint64(2), *z.CompressedSize)
}

func TestSetCentralDirectoryExtraUsesEntrySentinelsToDisambiguate(t *testing.T) {
	offset := uint64(1 << 33)
	data, err := (&ExtraZip64{LocalHeaderOffset: &offset}).CentralData()
	require.NoError(t, err)

	e := &Entry{LocalHeaderOffset: int64(offset)}
	require.NoError(t, e.setCentralDirectoryExtra(data))

	extras := e.GetExtra(false)
	require.Len(t, extras, 1)
	z, ok := extras[0].(*ExtraZip64)
	require.True(t, ok)
	assert.Nil(t, z.UncompressedSize)
	require.NotNil(t, z.LocalHeaderOffset)
	assert.Equal(t, offset, *z.LocalHeaderOffset)
}

func TestEntryEqual(t *testing.T) {
	mk := func() *Entry {
		e := &Entry{Name: "a", Size: 1, CompressedSize: 1, CRC32: 7, Time: time.Unix(0, 0)}
		e.AddExtra(&ExtraZip64{UncompressedSize: u64ptr(1), CompressedSize: u64ptr(1)})
		return e
	}
	a, b := mk(), mk()
	assert.True(t, a.Equal(b))

	b.Name = "b"
	assert.False(t, a.Equal(b))

	var nilEntry *Entry
	assert.True(t, nilEntry.Equal(nil))
	assert.False(t, a.Equal(nil))
}
