// Package fs is a log-structured, extent-based filesystem.
//
// The metadata tree (directories, files and their extents) lives in memory
// and every change to it is appended to a write-ahead log at the start of
// the device; there is no superblock, mounting replays the log. File data
// lives in extents allocated from the rest of the device.
//
// Every operation is asynchronous and reports through a completion
// callback, which devices may invoke before the operation returns. A
// Filesystem is not safe for concurrent use.
package fs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/osstudy/nanos/alloc"
	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/disk"
	"github.com/osstudy/nanos/logging"
	"github.com/osstudy/nanos/tuple"
	"github.com/osstudy/nanos/util"
	"github.com/osstudy/nanos/wal"
)

const (
	symChildren   tuple.Symbol = "children"
	symExtents    tuple.Symbol = "extents"
	symFileLength tuple.Symbol = "filelength"
	symContents   tuple.Symbol = "contents"
	symLength     tuple.Symbol = "length"
	symOffset     tuple.Symbol = "offset"
	symAllocated  tuple.Symbol = "allocated"
	symDot        tuple.Symbol = "."
	symDotDot     tuple.Symbol = ".."
)

type Filesystem struct {
	dev     disk.BlockIO
	storage *alloc.Heap
	log     *wal.Log
	root    *tuple.Tuple
	files   map[*tuple.Tuple]*File

	blocksize   uint64
	alignment   uint64
	minExtent   uint64
	maxExtent   uint64
	journalSize uint64

	id     uuid.UUID
	logger *slog.Logger
}

type options struct {
	journalSize uint64
	alignment   uint64
	minExtent   uint64
	maxExtent   uint64
	logger      *slog.Logger
}

// Option configures Format and Mount. A device must be mounted with the
// journal size it was formatted with.
type Option func(*options) error

// WithJournalSize sets how many bytes at the start of the device hold the log.
func WithJournalSize(size uint64) Option {
	return func(o *options) error {
		if size == 0 || size%common.SECTORSIZE != 0 {
			return fmt.Errorf("journal size %d: %w", size, ErrInvalid)
		}
		o.journalSize = size
		return nil
	}
}

// WithAlignment sets the granularity extent allocations are padded to
// before rounding up to a power of two.
func WithAlignment(alignment uint64) Option {
	return func(o *options) error {
		if !util.IsPow2(alignment) || alignment < common.SECTORSIZE {
			return fmt.Errorf("alignment %d: %w", alignment, ErrInvalid)
		}
		o.alignment = alignment
		return nil
	}
}

// WithExtentSizes bounds extent allocations: no extent is allocated
// smaller than min, and a write creates extents of at most max bytes.
func WithExtentSizes(min uint64, max uint64) Option {
	return func(o *options) error {
		if !util.IsPow2(min) || min < common.SECTORSIZE || max < min {
			return fmt.Errorf("extent sizes %d, %d: %w", min, max, ErrInvalid)
		}
		o.minExtent = min
		o.maxExtent = max
		return nil
	}
}

// WithLogger replaces the logger taken from the mount context.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}

func mkOptions(dev disk.BlockIO, opts []Option) (*options, error) {
	o := &options{
		journalSize: common.JOURNALSIZE,
		alignment:   common.SECTORSIZE,
		minExtent:   common.MINEXTENTSIZE,
		maxExtent:   common.MAXEXTENTSIZE,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.journalSize > dev.Sectors()*common.SECTORSIZE {
		return nil, fmt.Errorf("journal of %d bytes on a %d sector device: %w",
			o.journalSize, dev.Sectors(), ErrNoSpace)
	}
	return o, nil
}

// Format writes an empty filesystem, holding only the root directory.
func Format(dev disk.BlockIO, k func(error), opts ...Option) {
	o, err := mkOptions(dev, opts)
	if err != nil {
		k(err)
		return
	}
	root := tuple.MkTuple()
	l := wal.MkLog(dev, o.journalSize, root)
	c := tuple.MkTuple()
	root.Put(symChildren, c)
	if err := l.Append(root, symChildren, c, nil); err != nil {
		k(fmt.Errorf("format: %w", err))
		return
	}
	l.Flush(k)
}

// Mount replays the log on dev and calls k with the mounted filesystem.
// The logger comes from ctx (see the logging package) unless WithLogger
// is given. A log that does not replay cleanly is corruption and panics.
func Mount(ctx context.Context, dev disk.BlockIO, k func(*Filesystem, error), opts ...Option) {
	o, err := mkOptions(dev, opts)
	if err != nil {
		k(nil, err)
		return
	}
	mnt := logging.NewMount(ctx, dev.Sectors(), o.journalSize)
	ctx = logging.WithMount(ctx, mnt)
	logger := o.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	} else {
		logger = mnt.Attach(logger)
	}

	fs := &Filesystem{
		dev:         dev,
		storage:     alloc.MkHeap(0, dev.Sectors()*common.SECTORSIZE, common.SECTORSIZE),
		root:        tuple.MkTuple(),
		files:       make(map[*tuple.Tuple]*File),
		blocksize:   common.SECTORSIZE,
		alignment:   o.alignment,
		minExtent:   o.minExtent,
		maxExtent:   o.maxExtent,
		journalSize: o.journalSize,
		id:          mnt.ID,
		logger:      logger,
	}
	if err := fs.storage.SetArea(0, o.journalSize, true, true); err != nil {
		panic("Mount: journal reservation")
	}

	mlog := logger.With(slog.String("op", "fs.Mount"))
	wal.Recover(dev, o.journalSize, fs.root, func(l *wal.Log, err error) {
		if err != nil {
			mlog.Error("log read failed", slog.String("error", err.Error()))
			k(nil, fmt.Errorf("mount: %w", err))
			return
		}
		fs.log = l
		if children(fs.root) == nil {
			mlog.Warn("root has no children, creating")
			c := tuple.MkTuple()
			fs.root.Put(symChildren, c)
			if err := fs.log.Append(fs.root, symChildren, c, fs.ignore("root")); err != nil {
				k(nil, fmt.Errorf("mount: %w", err))
				return
			}
			fs.log.Flush(nil)
		}
		fs.ingest(fs.root)
		fixupDirectory(fs.root, fs.root)
		mlog.Info("mounted",
			slog.Uint64("records", l.Records()),
			slog.Uint64("log_used", l.Used()),
			slog.Int("files", len(fs.files)),
			slog.Uint64("storage_used", fs.storage.Allocated()),
			slog.Uint64("storage_free", fs.storage.Available()))
		k(fs, nil)
	})
}

func (fs *Filesystem) ID() uuid.UUID {
	return fs.id
}

func (fs *Filesystem) Root() *tuple.Tuple {
	return fs.root
}

func (fs *Filesystem) BlockSize() uint64 {
	return fs.blocksize
}

// Available is the number of unallocated storage bytes.
func (fs *Filesystem) Available() uint64 {
	return fs.storage.Available()
}

// File returns the open file for the metadata node t, or nil.
func (fs *Filesystem) File(t *tuple.Tuple) *File {
	return fs.files[t]
}

// Node returns t as a tuple.Node, through its File when t is a file.
func (fs *Filesystem) Node(t *tuple.Tuple) tuple.Node {
	if f := fs.files[t]; f != nil {
		return f
	}
	return t
}

// Flush calls k once every logged change is durable.
func (fs *Filesystem) Flush(k func(error)) {
	fs.log.Flush(k)
}

// ignore returns a completion that only logs failures.
func (fs *Filesystem) ignore(what string) func(error) {
	return func(err error) {
		if err != nil {
			fs.logger.Warn("log write failed", slog.String("record", what), slog.String("error", err.Error()))
		}
	}
}

// logSet appends e.a = v. If the log rejects the record, k is failed with
// the error, which is also returned.
func (fs *Filesystem) logSet(e *tuple.Tuple, a tuple.Symbol, v tuple.Value, k func(error)) error {
	err := fs.log.Append(e, a, v, k)
	if err != nil {
		k(err)
	}
	return err
}

// ingest opens a File for every node below t carrying extents.
func (fs *Filesystem) ingest(t *tuple.Tuple) {
	if t.Child(symExtents) != nil {
		fs.files[t] = fs.ingestFile(t)
	}
	c := children(t)
	if c == nil {
		return
	}
	c.Iterate(func(a tuple.Symbol, v tuple.Value) bool {
		if a == symDot || a == symDotDot {
			return true
		}
		if n, ok := v.(*tuple.Tuple); ok {
			fs.ingest(n)
		}
		return true
	})
}
