package zipkit

import "io"

// SegmentedReaderAt is implemented by split/spanned archive sources:
// the concrete channel type the reader detects split archives by,
// per §4.3 ("Detected by the channel's concrete type"). Seeks are
// (disk, offset) tuples rather than a single linear offset.
type SegmentedReaderAt interface {
	ReadAtDisk(p []byte, disk uint32, offset int64) (n int, err error)
	NumDisks() int
}

// Segments composes per-segment io.ReaderAt values (e.g. one open
// file per .z01/.z02/.../.zip segment) into a SegmentedReaderAt,
// generalizing the teacher's offset-indexed multiReaderAt (io.go) from
// "concatenate logical parts by cumulative offset" to "address
// physical disks directly by index".
type Segments struct {
	parts    []io.ReaderAt
	maxDisks int
}

// NewSegments builds a SegmentedReaderAt from parts in disk order. If
// maxDisks > 0 and len(parts) exceeds it, NewSegments returns an
// ErrUnsupportedFeature error (§4.3's configurable maxDisks guard).
func NewSegments(parts []io.ReaderAt, maxDisks int) (*Segments, error) {
	if maxDisks > 0 && len(parts) > maxDisks {
		return nil, newErr(ErrUnsupportedFeature, "", "split archive exceeds configured maxDisks")
	}
	return &Segments{parts: parts, maxDisks: maxDisks}, nil
}

func (s *Segments) ReadAtDisk(p []byte, disk uint32, offset int64) (int, error) {
	if int(disk) >= len(s.parts) {
		return 0, newErr(ErrCorruptField, "", "disk number out of range")
	}
	return s.parts[disk].ReadAt(p, offset)
}

func (s *Segments) NumDisks() int { return len(s.parts) }

// singleDiskAdapter lets a plain io.ReaderAt satisfy SegmentedReaderAt
// as disk 0, so the reader's hot path never needs two code paths.
type singleDiskAdapter struct {
	io.ReaderAt
}

func (s singleDiskAdapter) ReadAtDisk(p []byte, disk uint32, offset int64) (int, error) {
	if disk != 0 {
		return 0, newErr(ErrUnsupportedFeature, "", "split archive access on a non-segmented source")
	}
	return s.ReadAt(p, offset)
}

func (s singleDiskAdapter) NumDisks() int { return 1 }

func asSegmented(r io.ReaderAt) SegmentedReaderAt {
	if sr, ok := r.(SegmentedReaderAt); ok {
		return sr
	}
	return singleDiskAdapter{r}
}
