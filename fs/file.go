package fs

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/extent"
	"github.com/osstudy/nanos/merge"
	"github.com/osstudy/nanos/tuple"
)

// File pairs a file's metadata node with its extent index and cached
// length. It is also a tuple.Node whose "contents" attribute reads and
// writes the file data.
type File struct {
	fs      *Filesystem
	md      *tuple.Tuple
	extents *extent.Map
	length  uint64
}

var _ tuple.Node = (*File)(nil)

func (fs *Filesystem) mkFile(md *tuple.Tuple) *File {
	return &File{
		fs:      fs,
		md:      md,
		extents: extent.MkMap(),
	}
}

func (f *File) Meta() *tuple.Tuple {
	return f.md
}

func (f *File) Length() uint64 {
	return f.length
}

// Extents visits the file's extents in logical order.
func (f *File) Extents(visit func(*extent.Extent)) {
	f.extents.Each(visit)
}

func (fs *Filesystem) ingestFile(md *tuple.Tuple) *File {
	f := fs.mkFile(md)
	if n, err := md.U64(symFileLength); err == nil {
		f.length = n
	} else {
		fs.logger.Warn("bad filelength", slog.String("error", err.Error()))
	}
	md.Child(symExtents).Iterate(func(a tuple.Symbol, v tuple.Value) bool {
		f.ingestExtent(a, v)
		return true
	})
	return f
}

func (f *File) ingestExtent(off tuple.Symbol, v tuple.Value) {
	rec, ok := v.(*tuple.Tuple)
	if !ok {
		panic(fmt.Sprintf("ingestExtent: extent %s is not a node", off))
	}
	start, err := strconv.ParseUint(string(off), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("ingestExtent: offset %q", off))
	}
	var vals [3]uint64
	for i, a := range []tuple.Symbol{symLength, symOffset, symAllocated} {
		n, err := rec.U64(a)
		if err != nil {
			panic(fmt.Sprintf("ingestExtent: %s: %v", a, err))
		}
		vals[i] = n
	}
	length, blockStart, allocated := vals[0], vals[1], vals[2]

	if err := f.fs.storage.SetArea(blockStart, allocated, true, true); err != nil {
		f.fs.logger.Warn("unable to reserve extent storage",
			slog.Uint64("start", blockStart),
			slog.Uint64("allocated", allocated),
			slog.String("error", err.Error()))
	}
	e := extent.MkExtent(common.MkRange(start, start+length), blockStart, allocated)
	if err := f.extents.Insert(e); err != nil {
		panic(fmt.Sprintf("ingestExtent: %v: %v", e, err))
	}
}

// extentRecord returns the node logged for e.
func (f *File) extentRecord(e *extent.Extent) *tuple.Tuple {
	extents := f.md.Child(symExtents)
	if extents == nil {
		return nil
	}
	return extents.Child(tuple.SymU64(e.Range.Start))
}

// SetExtentLength changes how much of e's allocation is in use and logs the
// new length; k runs when that record is durable. The extent may not grow
// past its allocation or into the next extent.
func (f *File) SetExtentLength(e *extent.Extent, length uint64, k func(error)) error {
	rec := f.extentRecord(e)
	if rec == nil {
		return fmt.Errorf("set extent length %v: %w", e, ErrNotFound)
	}
	old := e.Range.Span()
	if err := f.extents.SetLength(e, length); err != nil {
		return fmt.Errorf("set extent length %v: %w", e, err)
	}
	rec.Put(symLength, tuple.U64(length))
	if err := f.fs.log.Append(rec, symLength, tuple.U64(length), k); err != nil {
		f.extents.SetLength(e, old)
		rec.Put(symLength, tuple.U64(old))
		return fmt.Errorf("set extent length %v: %w", e, err)
	}
	return nil
}

// release frees the storage of every extent of f.
func (f *File) release() {
	f.extents.Each(func(e *extent.Extent) {
		f.freeExtent(e)
	})
}

func (f *File) freeExtent(e *extent.Extent) {
	if err := f.fs.storage.Free(e.BlockStart, e.Allocated); err != nil {
		f.fs.logger.Warn("unable to free extent storage",
			slog.Uint64("start", e.BlockStart),
			slog.Uint64("allocated", e.Allocated),
			slog.String("error", err.Error()))
	}
}

// Truncate sets the length of the file t to length, logs it and flushes.
// Extents past the new end are dropped and their storage returned once
// that is durable; an extent straddling it is trimmed. Growing exposes a
// hole.
func (fs *Filesystem) Truncate(t *tuple.Tuple, length uint64, k func(error)) {
	f := fs.files[t]
	if f == nil {
		k(ErrNoSuchFile)
		return
	}
	f.truncate(length, k)
}

func (f *File) truncate(length uint64, k func(error)) {
	if f.length == length {
		k(nil)
		return
	}
	fs := f.fs
	var dropped []*extent.Extent
	m := merge.Begin(func(err error) {
		if err != nil {
			k(err)
			return
		}
		for _, e := range dropped {
			f.freeExtent(e)
		}
		k(nil)
	})

	if length < f.length {
		extents := f.md.Child(symExtents)
		var err error
		f.extents.RangeLookup(common.MkRange(length, ^uint64(0)), func(e *extent.Extent) {
			if err != nil {
				return
			}
			if e.Range.Start < length {
				br := m.Branch()
				if err = f.SetExtentLength(e, length-e.Range.Start, br); err != nil {
					br(err)
				}
				return
			}
			off := tuple.SymU64(e.Range.Start)
			extents.Put(off, nil)
			if err = fs.logSet(extents, off, nil, m.Branch()); err != nil {
				return
			}
			f.extents.Remove(e)
			dropped = append(dropped, e)
		})
		if err != nil {
			fs.log.Flush(nil)
			m.Release(err)
			return
		}
	}

	old := f.length
	f.length = length
	f.md.Put(symFileLength, tuple.U64(length))
	err := fs.logSet(f.md, symFileLength, tuple.U64(length), m.Branch())
	if err != nil {
		f.length = old
		f.md.Put(symFileLength, tuple.U64(old))
	}
	fs.log.Flush(nil)
	m.Release(err)
}

// Get serves "contents" by reading the whole file; other attributes come
// from the metadata node.
func (f *File) Get(a tuple.Symbol, k func(tuple.Value, error)) {
	if a != symContents {
		f.md.Get(a, k)
		return
	}
	f.readEntire(func(b []byte, err error) {
		if err != nil {
			k(nil, err)
			return
		}
		k(tuple.Bytes(b), nil)
	})
}

// Set writes "contents" at offset 0; other attributes are stored on the
// metadata node and logged.
func (f *File) Set(a tuple.Symbol, v tuple.Value, k func(error)) {
	if a == symContents {
		b, ok := v.(tuple.Bytes)
		if !ok {
			k(fmt.Errorf("set contents to %T: %w", v, ErrInvalid))
			return
		}
		f.write(b, 0, func(_ uint64, err error) { k(err) })
		return
	}
	switch v.(type) {
	case nil, tuple.Bytes, *tuple.Tuple:
	default:
		k(fmt.Errorf("set %s to %T: %w", a, v, ErrInvalid))
		return
	}
	if a == symExtents || a == symFileLength {
		k(fmt.Errorf("set %s: %w", a, ErrInvalid))
		return
	}
	f.md.Put(a, v)
	if err := f.fs.logSet(f.md, a, v, k); err != nil {
		return
	}
	f.fs.log.Flush(nil)
}

func (f *File) Iterate(visit func(tuple.Symbol, tuple.Value) bool) {
	f.md.Iterate(visit)
}
