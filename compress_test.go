package zipkit

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripCompressor(t *testing.T, method uint16, payload []byte) []byte {
	t.Helper()
	comp, ok := lookupCompressor(method)
	require.True(t, ok)
	var buf bytes.Buffer
	wc, err := comp(&buf)
	require.NoError(t, err)
	_, err = wc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	decomp, ok := lookupDecompressor(method)
	require.True(t, ok)
	rc, err := decomp(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer rc.Close()
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	out := roundTripCompressor(t, Store, []byte("hello world"))
	assert.Equal(t, "hello world", string(out))
}

func TestDeflateRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 200)
	out := roundTripCompressor(t, Deflate, payload)
	assert.Equal(t, payload, out)
}

func TestZstdRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("zstandard payload "), 200)
	out := roundTripCompressor(t, ZSTD, payload)
	assert.Equal(t, payload, out)
}

func TestRegisterCompressorAddsMethod(t *testing.T) {
	const customMethod uint16 = 9001
	RegisterCompressor(customMethod, Compressor(storeCompressor))
	RegisterDecompressor(customMethod, Decompressor(storeDecompressor))

	out := roundTripCompressor(t, customMethod, []byte("custom"))
	assert.Equal(t, "custom", string(out))
}

func TestLookupUnknownMethod(t *testing.T) {
	_, ok := lookupCompressor(0x4242)
	assert.False(t, ok)
	_, ok = lookupDecompressor(0x4242)
	assert.False(t, ok)
}
