package fs

import (
	"errors"

	"github.com/osstudy/nanos/alloc"
	"github.com/osstudy/nanos/extent"
	"github.com/osstudy/nanos/wal"
)

var (
	ErrNotFound   = errors.New("fs: no such file or directory")
	ErrExist      = errors.New("fs: file exists")
	ErrNotDir     = errors.New("fs: not a directory")
	ErrNoSuchFile = errors.New("fs: no such file")
	ErrNoSpace    = errors.New("fs: out of storage")
	ErrInvalid    = errors.New("fs: invalid argument")
)

// Linux error numbers for the layer above.
const (
	ENOENT  int64 = 2  // No such file or directory
	EIO     int64 = 5  // I/O error
	EBUSY   int64 = 16 // Device or resource busy
	EEXIST  int64 = 17 // File exists
	ENOTDIR int64 = 20 // Not a directory
	EINVAL  int64 = 22 // Invalid argument
	ENOSPC  int64 = 28 // No space left on device
)

// Errno maps an error from this package (or the layers below it) to an
// error number; nil maps to 0.
func Errno(err error) int64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoSuchFile):
		return ENOENT
	case errors.Is(err, ErrExist):
		return EEXIST
	case errors.Is(err, ErrNotDir):
		return ENOTDIR
	case errors.Is(err, ErrNoSpace), errors.Is(err, wal.ErrLogFull):
		return ENOSPC
	case errors.Is(err, wal.ErrFlushInFlight):
		return EBUSY
	case errors.Is(err, ErrInvalid), errors.Is(err, extent.ErrBadLength),
		errors.Is(err, extent.ErrOverlap), errors.Is(err, alloc.ErrMisaligned):
		return EINVAL
	default:
		// device failures (*disk.IOError) included
		return EIO
	}
}
