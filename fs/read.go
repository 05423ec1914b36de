package fs

import (
	"log/slog"

	"github.com/osstudy/nanos/buf"
	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/extent"
	"github.com/osstudy/nanos/merge"
	"github.com/osstudy/nanos/tuple"
	"github.com/osstudy/nanos/util"
)

// Read fills dst with the bytes of the file t starting at offset and calls
// k with the number read. Reads stop at the end of the file; holes read as
// zeros.
func (fs *Filesystem) Read(t *tuple.Tuple, dst []byte, offset uint64, k func(uint64, error)) {
	f := fs.files[t]
	if f == nil {
		k(0, ErrNoSuchFile)
		return
	}
	f.read(dst, offset, k)
}

// ReadEntire calls k with the whole contents of the file t.
func (fs *Filesystem) ReadEntire(t *tuple.Tuple, k func([]byte, error)) {
	f := fs.files[t]
	if f == nil {
		k(nil, ErrNoSuchFile)
		return
	}
	f.readEntire(k)
}

func (f *File) readEntire(k func([]byte, error)) {
	b := make([]byte, util.Pad(f.length, f.fs.blocksize))
	f.read(b, 0, func(n uint64, err error) {
		if err != nil {
			k(nil, err)
			return
		}
		k(b[:n], nil)
	})
}

func (f *File) read(dst []byte, offset uint64, k func(uint64, error)) {
	if offset >= f.length || len(dst) == 0 {
		k(0, nil)
		return
	}
	q := common.MkRange(offset, util.Min(offset+uint64(len(dst)), f.length))
	m := merge.Begin(func(err error) {
		if err != nil {
			k(0, err)
			return
		}
		k(q.Span(), nil)
	})
	f.extents.RangeLookup(q, func(e *extent.Extent) {
		f.readExtent(e, q, dst, m.Branch())
	})
	f.extents.RangeFindGaps(q, func(gap common.Range) {
		zero(dst[gap.Start-q.Start : gap.End-q.Start])
	})
	m.Release(nil)
}

// readExtent copies the part of e inside q into dst, which holds q.
func (f *File) readExtent(e *extent.Extent, q common.Range, dst []byte, k func(error)) {
	i := q.Intersect(e.Range)
	b := buf.MkBuf(e.Storage(i.Start), i.Span(), f.fs.blocksize)
	f.fs.dev.Read(b.Data, b.Blocks, func(err error) {
		if err != nil {
			f.fs.logger.Error("extent read failed",
				slog.String("extent", e.String()),
				slog.String("error", err.Error()))
			k(err)
			return
		}
		copy(dst[i.Start-q.Start:i.End-q.Start], b.Bytes())
		k(nil)
	})
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
