// Package fsys defines the filesystem abstraction that storage adapters
// implement, plus the shared pieces they build on: glob expansion, lazy
// ranged reads, buffered writes and unique-key derivation.
package fsys

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Entry describes one file or directory. Path is relative to the root the
// listing was issued against and never starts with a slash.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Mode selects how Open treats a path.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the conventional open-mode strings. Binary and text
// modes are the same thing for remote files.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "r", "rb":
		return ModeRead, nil
	case "w", "wb":
		return ModeWrite, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// File is an open remote file. Read handles reject Write with ErrReadOnly,
// write handles reject Read with ErrWriteOnly. A File has a single owner and
// must not be shared between goroutines.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// FileSystem is the contract every storage adapter fulfills. Paths may be
// scheme-qualified URIs or bare relative paths; implementations resolve
// them per call. Implementations are safe for concurrent use.
type FileSystem interface {
	// List returns the entries under path in provider order.
	List(ctx context.Context, path string, recursive bool) ([]Entry, error)
	// Glob returns the paths matching pattern in listing order.
	Glob(ctx context.Context, pattern string) ([]string, error)
	// Open returns a handle. No data moves until the first Read or Close.
	Open(ctx context.Context, path string, mode Mode) (File, error)
	// Info describes a single path.
	Info(ctx context.Context, path string) (Entry, error)
	// Size returns the length of the file at path in bytes.
	Size(ctx context.Context, path string) (int64, error)
	// UniqueKey returns a token that changes whenever the file is modified.
	UniqueKey(ctx context.Context, path string) (string, error)
	// Close releases idle network resources.
	Close() error
}
