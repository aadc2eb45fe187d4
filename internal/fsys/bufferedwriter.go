package fsys

import (
	"bytes"
	"context"
	"io/fs"
)

// FlushFunc uploads the complete file content.
type FlushFunc func(ctx context.Context, data []byte) error

// BufferedWriter collects writes in memory and uploads them in one go on
// Close. Nothing reaches the service before Close.
type BufferedWriter struct {
	ctx    context.Context //nolint:containedctx // bound at Open, used by Close
	path   string
	flush  FlushFunc
	buf    bytes.Buffer
	closed bool
}

// NewBufferedWriter creates a writer that hands its content to flush on Close.
func NewBufferedWriter(ctx context.Context, path string, flush FlushFunc) *BufferedWriter {
	return &BufferedWriter{ctx: ctx, path: path, flush: flush}
}

// Write implements io.Writer.
func (w *BufferedWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}

	return w.buf.Write(p)
}

// Read always fails on a write handle.
func (w *BufferedWriter) Read([]byte) (int, error) {
	return 0, ErrWriteOnly
}

// Len returns the number of bytes buffered so far.
func (w *BufferedWriter) Len() int {
	return w.buf.Len()
}

// Close uploads the buffered content. A second Close fails with fs.ErrClosed.
func (w *BufferedWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}

	w.closed = true
	data := w.buf.Bytes()

	return w.flush(w.ctx, data)
}
