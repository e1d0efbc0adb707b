package zipkit

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// Compression method codes, per §6.3.
const (
	Store          uint16 = 0
	Shrunk         uint16 = 1
	ReducedFactor1 uint16 = 2
	ReducedFactor2 uint16 = 3
	ReducedFactor3 uint16 = 4
	ReducedFactor4 uint16 = 5
	Imploded       uint16 = 6
	Deflate        uint16 = 8
	Deflate64      uint16 = 9
	BZIP2          uint16 = 12
	LZMA           uint16 = 14
	ZSTD           uint16 = 93
	XZ             uint16 = 95
	AESEncrypted   uint16 = 99
)

// Decompressor returns a new decompressing io.ReadCloser reading from r.
type Decompressor func(r io.Reader) (io.ReadCloser, error)

// Compressor returns a new compressing io.WriteCloser writing to w.
// Close must flush and finalize the compressed stream but must not
// close w.
type Compressor func(w io.Writer) (io.WriteCloser, error)

var (
	decompressors sync.Map // map[uint16]Decompressor
	compressors   sync.Map // map[uint16]Compressor

	flateReaderPool sync.Pool
	flateWriterPool sync.Pool
)

func init() {
	decompressors.Store(Store, Decompressor(storeDecompressor))
	decompressors.Store(Deflate, Decompressor(deflateDecompressor))
	decompressors.Store(ZSTD, Decompressor(zstdDecompressor))

	compressors.Store(Store, Compressor(storeCompressor))
	compressors.Store(Deflate, Compressor(deflateCompressor))
	compressors.Store(ZSTD, Compressor(zstdCompressor))
}

// RegisterDecompressor registers a decompressor for method process-wide.
// The registry is read-only once per-process initialization of the
// core's built-ins has run; callers add to it but never mutate an
// existing process's view concurrently with lookups racing (§9).
func RegisterDecompressor(method uint16, d Decompressor) {
	decompressors.Store(method, d)
}

// RegisterCompressor registers a compressor for method process-wide.
func RegisterCompressor(method uint16, c Compressor) {
	compressors.Store(method, c)
}

func lookupDecompressor(method uint16) (Decompressor, bool) {
	v, ok := decompressors.Load(method)
	if !ok {
		return nil, false
	}
	return v.(Decompressor), true
}

func lookupCompressor(method uint16) (Compressor, bool) {
	v, ok := compressors.Load(method)
	if !ok {
		return nil, false
	}
	return v.(Compressor), true
}

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

func storeDecompressor(r io.Reader) (io.ReadCloser, error) {
	return nopReadCloser{r}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func storeCompressor(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// pooledFlateReader returns flate readers to a sync.Pool on Close,
// matching xenking-zipstream's pooled-reader idiom, generalized from
// compress/flate to klauspost/compress/flate.
type pooledFlateReader struct {
	mu sync.Mutex
	fr io.ReadCloser
}

func deflateDecompressor(r io.Reader) (io.ReadCloser, error) {
	if fr, ok := flateReaderPool.Get().(io.ReadCloser); ok {
		if rs, ok := fr.(flate.Resetter); ok && rs.Reset(r, nil) == nil {
			return &pooledFlateReader{fr: fr}, nil
		}
	}
	return &pooledFlateReader{fr: flate.NewReader(r)}, nil
}

func (r *pooledFlateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, newErr(ErrInvalidUsage, "", "read after close")
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return nil
	}
	err := r.fr.Close()
	flateReaderPool.Put(r.fr)
	r.fr = nil
	return err
}

type pooledFlateWriter struct {
	fw *flate.Writer
}

// deflateChunkSize caps input fed to the deflater per write call, per
// §4.2b ("avoids historically pathological large-buffer behavior in
// some implementations").
const deflateChunkSize = 8 * 1024

func deflateCompressor(w io.Writer) (io.WriteCloser, error) {
	if pw, ok := flateWriterPool.Get().(*flate.Writer); ok {
		pw.Reset(w)
		return &pooledFlateWriter{fw: pw}, nil
	}
	fw, err := flate.NewWriter(w, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	return &pooledFlateWriter{fw: fw}, nil
}

func (w *pooledFlateWriter) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > deflateChunkSize {
			chunk = chunk[:deflateChunkSize]
		}
		wn, err := w.fw.Write(chunk)
		n += wn
		if err != nil {
			return n, err
		}
		p = p[len(chunk):]
	}
	return n, nil
}

func (w *pooledFlateWriter) Close() error {
	err := w.fw.Close()
	flateWriterPool.Put(w.fw)
	return err
}

func zstdDecompressor(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &zstdReadCloser{dec: dec}, nil
}

// zstdReadCloser adapts a *zstd.Decoder (which has a no-arg Close) to
// io.ReadCloser, grounded on buildbarn-bb-storage's NewZstdReadCloser.
type zstdReadCloser struct {
	dec *zstd.Decoder
}

func (r *zstdReadCloser) Read(p []byte) (int, error) { return r.dec.Read(p) }
func (r *zstdReadCloser) Close() error {
	r.dec.Close()
	return nil
}

func zstdCompressor(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}
