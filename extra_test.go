package zipkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildExtraRecord(id uint16, data []byte) []byte {
	rec := make([]byte, 4+len(data))
	b := writeBuf(rec)
	b.uint16(id)
	b.uint16(uint16(len(data)))
	copy(rec[4:], data)
	return rec
}

func TestParseExtrasKnownAndUnknown(t *testing.T) {
	zip64 := buildExtraRecord(idZip64, make([]byte, 16))
	unknown := buildExtraRecord(0x9999, []byte{1, 2, 3})
	data := append(append([]byte{}, zip64...), unknown...)

	fields, tail, err := parseExtras(data, true, ModeBestEffort, CFHSentinels{})
	require.NoError(t, err)
	assert.Nil(t, tail)
	require.Len(t, fields, 2)
	_, ok := fields[0].(*ExtraZip64)
	assert.True(t, ok)
	unrec, ok := fields[1].(*ExtraUnrecognized)
	require.True(t, ok)
	assert.Equal(t, uint16(0x9999), unrec.ID)
	assert.Equal(t, []byte{1, 2, 3}, unrec.Local)
}

func TestParseExtrasMalformedFramingModes(t *testing.T) {
	truncated := []byte{0x01, 0x00, 0xff, 0xff} // declares 65535 bytes of data that aren't present

	_, _, err := parseExtras(truncated, true, ModeDraconic, CFHSentinels{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrCorruptField, kind)

	fields, tail, err := parseExtras(truncated, true, ModeBestEffort, CFHSentinels{})
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Equal(t, truncated, tail)

	fields, tail, err = parseExtras(truncated, true, ModeOnlyParseableLenient, CFHSentinels{})
	require.NoError(t, err)
	assert.Empty(t, fields)
	assert.Nil(t, tail)
}

func TestParseExtrasStrictForKnownFailsOnBadKnownField(t *testing.T) {
	// idNTFS with too few bytes to even hold the reserved field.
	bad := buildExtraRecord(idNTFS, []byte{0x01})

	_, _, err := parseExtras(bad, true, ModeStrictForKnown, CFHSentinels{})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrCorruptField, kind)

	fields, _, err := parseExtras(bad, true, ModeOnlyParseableLenient, CFHSentinels{})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	unrec, ok := fields[0].(*ExtraUnrecognized)
	require.True(t, ok)
	assert.Equal(t, idNTFS, unrec.ID)
}

func TestMergeLocalAndCentralDataRoundTrip(t *testing.T) {
	u := uint64(123)
	fields := []ExtraField{&ExtraZip64{UncompressedSize: &u, CompressedSize: &u}}
	local := mergeLocalData(fields)
	central := mergeCentralData(fields)

	parsedLocal, tail, err := parseExtras(local, true, ModeDraconic, CFHSentinels{})
	require.NoError(t, err)
	assert.Nil(t, tail)
	require.Len(t, parsedLocal, 1)
	z := parsedLocal[0].(*ExtraZip64)
	require.NotNil(t, z.UncompressedSize)
	assert.Equal(t, u, *z.UncompressedSize)

	parsedCentral, _, err := parseExtras(central, false, ModeDraconic, CFHSentinels{Size: true, CompressedSize: true})
	require.NoError(t, err)
	require.Len(t, parsedCentral, 1)
}
