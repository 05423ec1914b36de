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

// Write stores src in the file t at offset and calls k with the number of
// bytes written once both the data and the metadata describing it are
// durable. Writing past the end extends the file; any hole left behind
// reads as zeros.
func (fs *Filesystem) Write(t *tuple.Tuple, src []byte, offset uint64, k func(uint64, error)) {
	f := fs.files[t]
	if f == nil {
		k(0, ErrNoSuchFile)
		return
	}
	f.write(src, offset, k)
}

func (f *File) write(src []byte, offset uint64, k func(uint64, error)) {
	if len(src) == 0 {
		k(0, nil)
		return
	}
	if util.SumOverflows(offset, uint64(len(src))) {
		k(0, ErrInvalid)
		return
	}
	q := common.MkRange(offset, offset+uint64(len(src)))
	util.DPrintf(5, "write: %v\n", q)

	mMeta := merge.Begin(func(err error) {
		if err != nil {
			k(0, err)
			return
		}
		k(q.Span(), nil)
	})
	mData := merge.Begin(func(err error) {
		f.dataComplete(q, mMeta, err)
	})

	// Cover the holes inside q first, so that every byte of q then lies in
	// exactly one extent. If that runs out of storage, nothing has been
	// written yet and the extents made so far are taken back.
	var fill filled
	var err error
	f.extents.RangeFindGaps(q, func(gap common.Range) {
		if err == nil {
			err = f.fillGap(gap, mMeta, &fill)
		}
	})
	if err != nil {
		f.unfill(&fill)
		mData.Release(err)
		return
	}
	f.extents.RangeLookup(q, func(e *extent.Extent) {
		i := q.Intersect(e.Range)
		f.writeExtent(e, i, src[i.Start-q.Start:i.End-q.Start], mData.Branch())
	})
	mData.Release(nil)
}

// dataComplete records the new length, if the write grew the file, and
// flushes the metadata once the data writes have finished.
func (f *File) dataComplete(q common.Range, mMeta *merge.Merge, err error) {
	fs := f.fs
	if err != nil {
		fs.log.Flush(nil)
		mMeta.Release(err)
		return
	}
	if old := f.length; old < q.End {
		f.length = q.End
		f.md.Put(symFileLength, tuple.U64(q.End))
		if err := fs.logSet(f.md, symFileLength, tuple.U64(q.End), mMeta.Branch()); err != nil {
			f.length = old
			f.md.Put(symFileLength, tuple.U64(old))
			fs.log.Flush(nil)
			mMeta.Release(err)
			return
		}
	}
	fs.log.Flush(nil)
	mMeta.Release(nil)
}

type grown struct {
	e   *extent.Extent
	old uint64
}

// filled is what filling the gaps of one write changed in the extent
// index.
type filled struct {
	created []*extent.Extent
	grown   []grown
}

// fillGap makes gap writable: an extent ending at gap.Start with
// allocation to spare grows into it, and the rest gets new extents of at
// most maxExtent bytes. Log completions are branches of m.
func (f *File) fillGap(gap common.Range, m *merge.Merge, fill *filled) error {
	curr := gap.Start
	if curr > 0 {
		prev := f.extents.LookupAtOrNext(curr - 1)
		if prev != nil && prev.Range.End == curr && prev.Allocated > prev.Range.Span() {
			old := prev.Range.Span()
			grow := util.Min(prev.Allocated-old, gap.Span())
			br := m.Branch()
			if err := f.SetExtentLength(prev, old+grow, br); err != nil {
				br(err)
				return err
			}
			fill.grown = append(fill.grown, grown{prev, old})
			curr += grow
		}
	}
	for curr < gap.End {
		r := common.MkRange(curr, util.Min(gap.End, curr+f.fs.maxExtent))
		e, err := f.createExtent(r, m.Branch())
		if err != nil {
			return err
		}
		fill.created = append(fill.created, e)
		curr = r.End
	}
	return nil
}

// unfill logs the extents in fill away again and frees their storage. The
// records of both land in the same flush, so no extent that was never
// written survives a remount.
func (f *File) unfill(fill *filled) {
	fs := f.fs
	extents := f.md.Child(symExtents)
	for i := len(fill.created) - 1; i >= 0; i-- {
		e := fill.created[i]
		off := tuple.SymU64(e.Range.Start)
		rec := extents.Lookup(off)
		extents.Put(off, nil)
		if err := fs.log.Append(extents, off, nil, fs.ignore("extent undo")); err != nil {
			extents.Put(off, rec)
			fs.logger.Error("unable to drop unwritten extent",
				slog.String("extent", e.String()),
				slog.String("error", err.Error()))
			continue
		}
		f.extents.Remove(e)
		f.freeExtent(e)
	}
	for i := len(fill.grown) - 1; i >= 0; i-- {
		g := fill.grown[i]
		if err := f.SetExtentLength(g.e, g.old, fs.ignore("extent undo")); err != nil {
			fs.logger.Error("unable to shrink unwritten extent",
				slog.String("extent", g.e.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (f *File) allocSize(length uint64) uint64 {
	n := uint64(1) << util.FindOrder(util.Pad(length, f.fs.alignment))
	return util.Max(n, f.fs.minExtent)
}

// createExtent allocates storage for r, indexes it and logs it. k runs
// when the record is durable; on failure k is called with the error that
// is also returned, and nothing is left allocated.
func (f *File) createExtent(r common.Range, k func(error)) (*extent.Extent, error) {
	fs := f.fs
	size := f.allocSize(r.Span())
	start, ok := fs.storage.AllocNext(size)
	if !ok {
		fs.logger.Error("out of storage",
			slog.Uint64("size", size),
			slog.Uint64("available", fs.storage.Available()))
		k(ErrNoSpace)
		return nil, ErrNoSpace
	}
	e := extent.MkExtent(r, start, size)
	if err := f.extents.Insert(e); err != nil {
		fs.storage.Free(start, size)
		k(err)
		return nil, err
	}

	extents := f.md.Child(symExtents)
	if extents == nil {
		extents = tuple.MkTuple()
		f.md.Put(symExtents, extents)
		if err := fs.log.Append(f.md, symExtents, extents, fs.ignore("extents")); err != nil {
			f.md.Put(symExtents, nil)
			f.extents.Remove(e)
			fs.storage.Free(start, size)
			k(err)
			return nil, err
		}
	}
	off := tuple.SymU64(r.Start)
	rec := tuple.MkTuple()
	rec.Put(symLength, tuple.U64(r.Span()))
	rec.Put(symOffset, tuple.U64(start))
	rec.Put(symAllocated, tuple.U64(size))
	extents.Put(off, rec)
	if err := fs.logSet(extents, off, rec, k); err != nil {
		extents.Put(off, nil)
		f.extents.Remove(e)
		fs.storage.Free(start, size)
		return nil, err
	}
	util.DPrintf(5, "createExtent: %v\n", e)
	return e, nil
}

// writeExtent writes src to the part i of e. Blocks only partly covered by
// i are read first unless the part not covered lies past the extent's end.
func (f *File) writeExtent(e *extent.Extent, i common.Range, src []byte, k func(error)) {
	fs := f.fs
	b := buf.MkBuf(e.Storage(i.Start), i.Span(), fs.blocksize)
	tailRMW := b.TailUnaligned() && i.End != e.Range.End
	plural := b.NBlocks() > 1
	head := b.HeadUnaligned() || (tailRMW && !plural)
	tail := tailRMW && plural

	m := merge.Begin(func(err error) {
		if err != nil {
			fs.logger.Error("extent read failed",
				slog.String("extent", e.String()),
				slog.String("error", err.Error()))
			k(err)
			return
		}
		b.Install(src)
		fs.dev.Write(b.Data, b.Blocks, k)
	})
	if head {
		blk, r := b.Block(0)
		fs.dev.Read(blk, r, m.Branch())
	}
	if tail {
		blk, r := b.Block(b.NBlocks() - 1)
		fs.dev.Read(blk, r, m.Branch())
	}
	m.Release(nil)
}
