package zipkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtraZip64LocalRoundTrip(t *testing.T) {
	u, c := uint64(1<<33), uint64(1<<32+7)
	e := &ExtraZip64{UncompressedSize: &u, CompressedSize: &c}
	data, err := e.LocalData()
	require.NoError(t, err)
	assert.Len(t, data, 16)

	parsed, err := (&ExtraZip64{}).ParseFromLocalData(data)
	require.NoError(t, err)
	got := parsed.(*ExtraZip64)
	require.NotNil(t, got.UncompressedSize)
	require.NotNil(t, got.CompressedSize)
	assert.Equal(t, u, *got.UncompressedSize)
	assert.Equal(t, c, *got.CompressedSize)
}

func TestExtraZip64LocalDataRequiresBothSizes(t *testing.T) {
	e := &ExtraZip64{UncompressedSize: u64ptr(5)}
	_, err := e.LocalData()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidUsage, kind)
}

func TestExtraZip64CentralDataOnlyOverflowingFields(t *testing.T) {
	offset := uint64(1 << 33)
	e := &ExtraZip64{LocalHeaderOffset: &offset}
	data, err := e.CentralData()
	require.NoError(t, err)
	assert.Len(t, data, 8)

	parsed, err := (&ExtraZip64{}).ParseFromCentralData(data, CFHSentinels{LocalHeaderOffset: true})
	require.NoError(t, err)
	got := parsed.(*ExtraZip64)
	assert.Nil(t, got.UncompressedSize)
	assert.Nil(t, got.CompressedSize)
	require.NotNil(t, got.LocalHeaderOffset)
	assert.Equal(t, offset, *got.LocalHeaderOffset)
}

func TestExtraZip64CentralDataFixedFieldOrder(t *testing.T) {
	uSize := uint64(10)
	cSize := uint64(20)
	off := uint64(30)
	disk := uint32(1)
	e := &ExtraZip64{UncompressedSize: &uSize, CompressedSize: &cSize, LocalHeaderOffset: &off, DiskStart: &disk}
	data, err := e.CentralData()
	require.NoError(t, err)
	assert.Len(t, data, 8+8+8+4)

	sentinels := CFHSentinels{Size: true, CompressedSize: true, LocalHeaderOffset: true, DiskStart: true}
	parsed, err := (&ExtraZip64{}).ParseFromCentralData(data, sentinels)
	require.NoError(t, err)
	got := parsed.(*ExtraZip64)
	assert.Equal(t, uSize, *got.UncompressedSize)
	assert.Equal(t, cSize, *got.CompressedSize)
	assert.Equal(t, off, *got.LocalHeaderOffset)
	assert.Equal(t, disk, *got.DiskStart)
}
