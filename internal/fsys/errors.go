package fsys

import (
	"errors"
	"io/fs"
)

var (
	ErrInvalidMode = errors.New("fsys: invalid open mode")
	ErrReadOnly    = errors.New("fsys: file opened for reading")
	ErrWriteOnly   = errors.New("fsys: file opened for writing")
	ErrBadPattern  = errors.New("fsys: malformed glob pattern")
)

// NotFoundError reports a path the storage service does not know. It does
// not wrap the service response; callers test for it with errors.As or
// errors.Is(err, fs.ErrNotExist).
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "fsys: " + e.Path + ": no such file or directory"
}

func (e *NotFoundError) Unwrap() error {
	return fs.ErrNotExist
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError

	return errors.As(err, &nf)
}
