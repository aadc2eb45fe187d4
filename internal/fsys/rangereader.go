package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// DefaultBlockSize is the fetch granularity when none is configured.
const DefaultBlockSize = 4 << 20

// RangeFetcher returns up to n bytes of the file starting at off. A short
// (or empty) result means the end of the file was reached; io.EOF may be
// returned instead of an empty slice.
type RangeFetcher func(ctx context.Context, off int64, n int) ([]byte, error)

// SizeFunc reports the total file length, used to seek relative to the end.
type SizeFunc func(ctx context.Context) (int64, error)

// RangeReader reads a remote file lazily, one ranged fetch per block. It
// does no I/O until the first Read, so a missing file surfaces there.
type RangeReader struct {
	ctx       context.Context //nolint:containedctx // bound at Open, used by io.Reader calls
	path      string
	blockSize int
	fetch     RangeFetcher
	size      SizeFunc

	off    int64  // logical read position
	buf    []byte // most recent block
	bufOff int64  // file offset of buf[0]
	end    int64  // known file length, -1 until observed
	closed bool
}

// NewRangeReader creates a reader. size may be nil, in which case Seek
// relative to the end is unsupported.
func NewRangeReader(ctx context.Context, path string, blockSize int, fetch RangeFetcher, size SizeFunc) *RangeReader {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	return &RangeReader{
		ctx:       ctx,
		path:      path,
		blockSize: blockSize,
		fetch:     fetch,
		size:      size,
		end:       -1,
	}
}

// Read implements io.Reader.
func (r *RangeReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fs.ErrClosed
	}

	if len(p) == 0 {
		return 0, nil
	}

	if r.end >= 0 && r.off >= r.end {
		return 0, io.EOF
	}

	if r.off < r.bufOff || r.off >= r.bufOff+int64(len(r.buf)) {
		if err := r.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.buf[r.off-r.bufOff:])
	r.off += int64(n)

	return n, nil
}

func (r *RangeReader) fill() error {
	data, err := r.fetch(r.ctx, r.off, r.blockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if len(data) < r.blockSize {
		r.end = r.off + int64(len(data))
	}

	if len(data) == 0 {
		r.buf = nil
		return io.EOF
	}

	r.buf = data
	r.bufOff = r.off

	return nil
}

// Seek implements io.Seeker.
func (r *RangeReader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, fs.ErrClosed
	}

	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		if r.end < 0 {
			if r.size == nil {
				return 0, fmt.Errorf("fsys: %s: seek from end: size unknown", r.path)
			}

			n, err := r.size(r.ctx)
			if err != nil {
				return 0, err
			}

			r.end = n
		}

		abs = r.end + offset
	default:
		return 0, fmt.Errorf("fsys: %s: invalid whence %d", r.path, whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("fsys: %s: negative position %d", r.path, abs)
	}

	r.off = abs

	return abs, nil
}

// Write always fails on a read handle.
func (r *RangeReader) Write([]byte) (int, error) {
	return 0, ErrReadOnly
}

// Close drops the buffered block. Further reads fail with fs.ErrClosed.
func (r *RangeReader) Close() error {
	r.closed = true
	r.buf = nil

	return nil
}
