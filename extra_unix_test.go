package zipkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtraExtendedTimestampLocalCarriesAllThree(t *testing.T) {
	mt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	at := mt.Add(time.Hour)
	ct := mt.Add(2 * time.Hour)
	e := &ExtraExtendedTimestamp{HasModTime: true, HasAccessTime: true, HasCreateTime: true, ModTime: mt, AccessTime: at, CreateTime: ct}

	data, err := e.LocalData()
	require.NoError(t, err)
	assert.Len(t, data, 1+4+4+4)

	parsed, err := (&ExtraExtendedTimestamp{}).ParseFromLocalData(data)
	require.NoError(t, err)
	got := parsed.(*ExtraExtendedTimestamp)
	assert.True(t, got.HasModTime)
	assert.True(t, got.HasAccessTime)
	assert.True(t, got.HasCreateTime)
	assert.Equal(t, mt.Unix(), got.ModTime.Unix())
	assert.Equal(t, at.Unix(), got.AccessTime.Unix())
	assert.Equal(t, ct.Unix(), got.CreateTime.Unix())
}

func TestExtraExtendedTimestampCentralOnlyCarriesModTime(t *testing.T) {
	mt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	e := &ExtraExtendedTimestamp{HasModTime: true, HasAccessTime: true, ModTime: mt, AccessTime: mt}

	data, err := e.CentralData()
	require.NoError(t, err)
	assert.Len(t, data, 5)

	parsed, err := (&ExtraExtendedTimestamp{}).ParseFromCentralData(data, CFHSentinels{})
	require.NoError(t, err)
	got := parsed.(*ExtraExtendedTimestamp)
	assert.True(t, got.HasModTime)
	assert.False(t, got.HasAccessTime)
	assert.False(t, got.HasCreateTime)
}

func TestExtraNTFSRoundTrip(t *testing.T) {
	mt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	e := &ExtraNTFS{ModTime: mt, AccessTime: mt, CreateTime: mt}
	data, err := e.LocalData()
	require.NoError(t, err)

	parsed, err := (&ExtraNTFS{}).ParseFromLocalData(data)
	require.NoError(t, err)
	got := parsed.(*ExtraNTFS)
	assert.Equal(t, mt.Unix(), got.ModTime.Unix())
	assert.Equal(t, mt.Unix(), got.AccessTime.Unix())
	assert.Equal(t, mt.Unix(), got.CreateTime.Unix())
}

func TestExtraUnixOldRoundTrip(t *testing.T) {
	at := time.Unix(1000, 0).UTC()
	mt := time.Unix(2000, 0).UTC()
	e := &ExtraUnixOld{AccessTime: at, ModTime: mt, UID: 501, GID: 20}
	data, err := e.LocalData()
	require.NoError(t, err)

	parsed, err := (&ExtraUnixOld{}).ParseFromLocalData(data)
	require.NoError(t, err)
	got := parsed.(*ExtraUnixOld)
	assert.Equal(t, at.Unix(), got.AccessTime.Unix())
	assert.Equal(t, mt.Unix(), got.ModTime.Unix())
	assert.Equal(t, uint16(501), got.UID)
	assert.Equal(t, uint16(20), got.GID)

	central, err := e.CentralData()
	require.NoError(t, err)
	assert.Len(t, central, 8)
}

func TestExtraUnixNRoundTripWithNonDefaultSizes(t *testing.T) {
	e := &ExtraUnixN{Version: 1, UID: 70000, GID: 70001, uidSize: 8, gidSize: 8}
	data, err := e.LocalData()
	require.NoError(t, err)

	parsed, err := (&ExtraUnixN{}).ParseFromLocalData(data)
	require.NoError(t, err)
	got := parsed.(*ExtraUnixN)
	assert.Equal(t, uint64(70000), got.UID)
	assert.Equal(t, uint64(70001), got.GID)
}

func TestExtraInfoZipUnixOldRoundTrip(t *testing.T) {
	e := &ExtraInfoZipUnixOld{UID: 12, GID: 34}
	data, err := e.LocalData()
	require.NoError(t, err)

	parsed, err := (&ExtraInfoZipUnixOld{}).ParseFromLocalData(data)
	require.NoError(t, err)
	got := parsed.(*ExtraInfoZipUnixOld)
	assert.Equal(t, uint16(12), got.UID)
	assert.Equal(t, uint16(34), got.GID)
}
