package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/disk"
	"github.com/osstudy/nanos/extent"
	"github.com/osstudy/nanos/tuple"
	"github.com/osstudy/nanos/wal"
)

const (
	devSize     = 4 << 20
	journalSize = 64 * 1024
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type FsSuite struct {
	suite.Suite
	mem  *disk.BlockDevice
	dev  *disk.Counter
	opts []Option
	fs   *Filesystem
}

func (suite *FsSuite) SetupTest() {
	suite.mem = disk.NewMem(devSize)
	suite.dev = disk.MkCounter(suite.mem)
	suite.opts = []Option{WithJournalSize(journalSize), WithLogger(discard())}
	suite.format()
	suite.mount()
}

func TestFs(t *testing.T) {
	suite.Run(t, new(FsSuite))
}

func (suite *FsSuite) format() {
	var done bool
	Format(suite.dev, func(err error) {
		suite.Require().NoError(err)
		done = true
	}, suite.opts...)
	suite.Require().True(done)
}

func (suite *FsSuite) mount() {
	var fs *Filesystem
	Mount(context.Background(), suite.dev, func(f *Filesystem, err error) {
		suite.Require().NoError(err)
		fs = f
	}, suite.opts...)
	suite.Require().NotNil(fs)
	suite.fs = fs
	suite.dev.Reset()
}

func (suite *FsSuite) creat(path string) *tuple.Tuple {
	var f *File
	err := suite.wait(func(k func(error)) {
		suite.fs.Creat(nil, path, true, func(x *File, err error) {
			f = x
			k(err)
		})
	})
	suite.Require().NoError(err)
	return f.Meta()
}

func (suite *FsSuite) mkdir(path string, persistent bool) *tuple.Tuple {
	var d *tuple.Tuple
	err := suite.wait(func(k func(error)) {
		suite.fs.Mkdir(nil, path, persistent, func(x *tuple.Tuple, err error) {
			d = x
			k(err)
		})
	})
	suite.Require().NoError(err)
	return d
}

func (suite *FsSuite) mkentry(path string, entry *tuple.Tuple, recursive bool) error {
	return suite.wait(func(k func(error)) {
		suite.fs.Mkentry(nil, path, entry, true, recursive, k)
	})
}

func (suite *FsSuite) lookup(path string) *tuple.Tuple {
	t, err := suite.fs.Lookup(nil, path)
	suite.Require().NoError(err)
	return t
}

func (suite *FsSuite) write(t *tuple.Tuple, b []byte, off uint64) {
	var done bool
	suite.fs.Write(t, b, off, func(n uint64, err error) {
		suite.Require().NoError(err)
		suite.Equal(uint64(len(b)), n)
		done = true
	})
	suite.Require().True(done, "memory device completes inline")
}

func (suite *FsSuite) read(t *tuple.Tuple, n uint64, off uint64) []byte {
	b := make([]byte, n)
	var got uint64
	var done bool
	suite.fs.Read(t, b, off, func(n uint64, err error) {
		suite.Require().NoError(err)
		got = n
		done = true
	})
	suite.Require().True(done)
	return b[:got]
}

func (suite *FsSuite) readAll(t *tuple.Tuple) []byte {
	var data []byte
	suite.fs.ReadEntire(t, func(b []byte, err error) {
		suite.Require().NoError(err)
		data = b
	})
	return data
}

func (suite *FsSuite) wait(op func(k func(error))) error {
	var done bool
	var res error
	op(func(err error) {
		res = err
		done = true
	})
	suite.Require().True(done)
	return res
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func (suite *FsSuite) TestHoleZeroFill() {
	t := suite.creat("f")
	data := pattern(10, 1)
	suite.write(t, data, 5)
	suite.Equal(uint64(15), suite.fs.File(t).Length())

	got := suite.read(t, 15, 0)
	suite.Equal(append(make([]byte, 5), data...), got)
}

func (suite *FsSuite) TestReadPastEnd() {
	t := suite.creat("f")
	suite.write(t, pattern(100, 0), 0)
	suite.Empty(suite.read(t, 10, 100))
	suite.Empty(suite.read(t, 10, 5000))
	suite.Len(suite.read(t, 1000, 90), 10)
}

func (suite *FsSuite) TestUnalignedRoundTrip() {
	suite.opts = append(suite.opts, WithExtentSizes(4096, 4096))
	suite.mount()
	t := suite.creat("f")
	data := pattern(10000, 7)
	suite.write(t, data, 777)
	suite.Equal(data, suite.read(t, uint64(len(data)), 777))
	suite.Greater(suite.fs.File(t).extents.Len(), 1)

	// overwrite across the extent boundaries
	patch := pattern(5000, 99)
	suite.write(t, patch, 3001)
	copy(data[3001-777:], patch)
	suite.Equal(data, suite.read(t, uint64(len(data)), 777))

	suite.mount()
	t = suite.lookup("f")
	suite.Equal(data, suite.read(t, uint64(len(data)), 777))
}

func (suite *FsSuite) TestLengthNeverShrinks() {
	t := suite.creat("f")
	suite.write(t, pattern(1000, 0), 0)
	suite.write(t, pattern(10, 0), 100)
	f := suite.fs.File(t)
	suite.Equal(uint64(1000), f.Length())
	suite.write(t, pattern(10, 0), 2000)
	suite.Equal(uint64(2010), f.Length())
	n, err := t.U64(symFileLength)
	suite.NoError(err)
	suite.Equal(uint64(2010), n)
}

func (suite *FsSuite) TestAppendGrowsExtent() {
	t := suite.creat("f")
	suite.write(t, pattern(1000, 0), 0)
	suite.write(t, pattern(1000, 1), 1000)
	f := suite.fs.File(t)
	suite.Equal(1, f.extents.Len(), "the first extent has room for the second write")
	suite.Equal(pattern(1000, 1), suite.read(t, 1000, 1000))
}

func (suite *FsSuite) TestSharedBlockReadModifyWrite() {
	t := suite.creat("f")
	suite.dev.Reset()
	suite.write(t, pattern(1000, 0), 0)
	suite.Equal(uint64(0), suite.dev.Reads, "a fresh extent needs no reads")

	suite.dev.Reset()
	suite.write(t, pattern(50, 1), 100)
	suite.Equal(uint64(1), suite.dev.Reads)

	suite.dev.Reset()
	suite.write(t, pattern(50, 2), 150)
	suite.Equal(uint64(1), suite.dev.Reads)

	want := pattern(1000, 0)
	copy(want[100:], pattern(50, 1))
	copy(want[150:], pattern(50, 2))
	suite.Equal(want, suite.read(t, 1000, 0))
}

func (suite *FsSuite) TestTwoEdgeReadModifyWrite() {
	t := suite.creat("f")
	suite.write(t, pattern(4096, 0), 0)
	suite.dev.Reset()
	// both edges unaligned, in different blocks
	suite.write(t, pattern(600, 1), 300)
	suite.Equal(uint64(2), suite.dev.Reads)
	want := pattern(4096, 0)
	copy(want[300:], pattern(600, 1))
	suite.Equal(want, suite.read(t, 4096, 0))
}

func (suite *FsSuite) TestOutOfStorage() {
	// stale bytes everywhere, so unwritten extents would show
	size := uint64(journalSize + 8192)
	suite.mem = disk.NewMem(size)
	stale := make([]byte, size)
	for i := range stale {
		stale[i] = 0xee
	}
	suite.mem.Write(stale, common.MkRange(0, suite.mem.Sectors()), func(err error) {
		suite.Require().NoError(err)
	})
	suite.dev = disk.MkCounter(suite.mem)
	suite.opts = append(suite.opts, WithExtentSizes(4096, 4096))
	suite.format()
	suite.mount()

	t := suite.creat("f")
	var err error
	suite.fs.Write(t, pattern(3*4096, 0), 0, func(n uint64, e error) {
		suite.Equal(uint64(0), n)
		err = e
	})
	suite.True(errors.Is(err, ErrNoSpace))
	suite.Equal(ENOSPC, Errno(err))
	f := suite.fs.File(t)
	suite.Equal(0, f.extents.Len(), "the extents made before running out are dropped")
	suite.Equal(uint64(0), f.Length())
	suite.Equal(uint64(8192), suite.fs.Available())

	suite.write(t, []byte{1}, 0)
	suite.write(t, []byte{2}, 8000)
	suite.Equal(uint64(0), suite.fs.Available())
	suite.Equal(make([]byte, 7999), suite.read(t, 7999, 1))

	suite.mount()
	got := suite.readAll(suite.lookup("f"))
	suite.Require().Len(got, 8001)
	suite.Equal(byte(1), got[0])
	suite.Equal(make([]byte, 7999), got[1:8000])
	suite.Equal(byte(2), got[8000])
}

func (suite *FsSuite) TestRemount() {
	suite.mkdir("etc", true)
	t := suite.creat("etc/hosts")
	data := []byte("127.0.0.1 localhost\n")
	suite.write(t, data, 0)
	before := tuple.Dump(suite.fs.Root())
	used := suite.fs.storage.Allocated()

	suite.mount()
	suite.Equal(before, tuple.Dump(suite.fs.Root()))
	suite.Equal(used, suite.fs.storage.Allocated(), "extents are reserved again")
	t = suite.lookup("/etc/hosts")
	suite.Equal(data, suite.readAll(t))

	etc := suite.lookup("etc")
	suite.Same(suite.fs.Root(), children(etc).Child(".."))
	suite.Same(etc, suite.lookup("etc/."))
}

func (suite *FsSuite) TestMkentry() {
	d := mkDir()
	suite.NoError(suite.mkentry("a/b/c", d, true))
	suite.Same(d, suite.lookup("a/b/c"))

	err := suite.mkentry("x/y", mkDir(), false)
	suite.True(errors.Is(err, ErrNotFound))
	suite.Equal(ENOENT, Errno(err))

	err = suite.mkentry("a/b", mkDir(), false)
	suite.True(errors.Is(err, ErrExist))

	suite.creat("a/f")
	err = suite.mkentry("a/f/g", mkDir(), true)
	suite.True(errors.Is(err, ErrNotDir))
	suite.Equal(ENOTDIR, Errno(err))

	_, err = suite.fs.Lookup(nil, "a/nope")
	suite.True(errors.Is(err, ErrNotFound))

	// relative to a directory
	b := suite.lookup("a/b")
	err = suite.wait(func(k func(error)) {
		suite.fs.Creat(b, "g", true, func(_ *File, err error) { k(err) })
	})
	suite.NoError(err)
	suite.NotNil(suite.lookup("a/b/g"))
	g, err := suite.fs.Lookup(b, "../b/g")
	suite.NoError(err)
	suite.Same(suite.lookup("a/b/g"), g)

	suite.mount()
	suite.NotNil(suite.lookup("a/b/c"))
	suite.NotNil(suite.lookup("a/b/g"))
}

func (suite *FsSuite) TestNonPersistent() {
	suite.mkdir("proc", false)
	suite.NotNil(suite.lookup("proc"))
	suite.mount()
	_, err := suite.fs.Lookup(nil, "proc")
	suite.True(errors.Is(err, ErrNotFound))
}

func (suite *FsSuite) TestDelete() {
	suite.Require().NoError(suite.mkentry("d/e", mkDir(), true))
	t := suite.creat("d/e/f")
	suite.write(t, pattern(8192, 0), 0)
	free := suite.fs.Available()

	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Delete(nil, "d", k) }))
	suite.Nil(suite.fs.File(t))
	suite.Greater(suite.fs.Available(), free)
	_, err := suite.fs.Lookup(nil, "d/e/f")
	suite.True(errors.Is(err, ErrNotFound))

	err = suite.wait(func(k func(error)) { suite.fs.Delete(nil, "d", k) })
	suite.True(errors.Is(err, ErrNotFound))

	suite.mount()
	_, err = suite.fs.Lookup(nil, "d")
	suite.True(errors.Is(err, ErrNotFound))
	suite.Equal(uint64(devSize-journalSize), suite.fs.Available())
}

func (suite *FsSuite) TestRename() {
	suite.Require().NoError(suite.mkentry("a/b", mkDir(), true))
	t := suite.creat("a/f")
	suite.write(t, []byte("hello"), 0)

	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Rename(nil, "a/f", nil, "a/b/g", k) }))
	suite.Same(t, suite.lookup("a/b/g"))
	_, err := suite.fs.Lookup(nil, "a/f")
	suite.True(errors.Is(err, ErrNotFound))

	err = suite.wait(func(k func(error)) { suite.fs.Rename(nil, "a", nil, "a/b/a", k) })
	suite.True(errors.Is(err, ErrInvalid), "a directory cannot move below itself")

	// replace an existing file
	old := suite.creat("x")
	suite.write(old, pattern(4096, 0), 0)
	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Rename(nil, "a/b/g", nil, "x", k) }))
	suite.Nil(suite.fs.File(old))
	suite.Same(t, suite.lookup("x"))

	suite.mount()
	suite.Equal([]byte("hello"), suite.readAll(suite.lookup("x")))
	_, err = suite.fs.Lookup(nil, "a/b/g")
	suite.True(errors.Is(err, ErrNotFound))
}

func (suite *FsSuite) TestRenameDirectory() {
	suite.Require().NoError(suite.mkentry("a/b", mkDir(), true))
	suite.mkdir("z", true)
	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Rename(nil, "a/b", nil, "z/b", k) }))
	suite.Same(suite.lookup("z"), suite.lookup("z/b/.."))
	_, err := suite.fs.Lookup(nil, "a/b")
	suite.True(errors.Is(err, ErrNotFound))

	suite.mount()
	b := suite.lookup("z/b")
	suite.Same(suite.lookup("z"), children(b).Child(".."))
}

func (suite *FsSuite) TestExchange() {
	f1 := suite.creat("one")
	f2 := suite.creat("two")
	suite.write(f1, []byte("1"), 0)
	suite.write(f2, []byte("2"), 0)
	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Exchange(nil, "one", nil, "two", k) }))
	suite.Same(f2, suite.lookup("one"))
	suite.Same(f1, suite.lookup("two"))

	err := suite.wait(func(k func(error)) { suite.fs.Exchange(nil, "one", nil, "three", k) })
	suite.True(errors.Is(err, ErrNotFound))

	suite.mount()
	suite.Equal([]byte("2"), suite.readAll(suite.lookup("one")))
	suite.Equal([]byte("1"), suite.readAll(suite.lookup("two")))
}

func (suite *FsSuite) TestRenameIsOneLogWrite() {
	suite.creat("a")
	suite.mkdir("d", true)
	suite.dev.Reset()
	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Rename(nil, "a", nil, "d/a", k) }))
	suite.Equal(uint64(1), suite.dev.Writes)
	suite.Equal(uint64(0), suite.dev.Reads)

	suite.creat("b")
	suite.dev.Reset()
	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Exchange(nil, "b", nil, "d/a", k) }))
	suite.Equal(uint64(1), suite.dev.Writes)
}

func (suite *FsSuite) TestRenameCrash() {
	d := disk.MkDeferred(suite.mem)
	var fs *Filesystem
	Mount(context.Background(), d, func(f *Filesystem, err error) {
		suite.Require().NoError(err)
		fs = f
	}, suite.opts...)
	d.Run()
	suite.Require().NotNil(fs)
	fs.Creat(nil, "f", true, func(_ *File, err error) { suite.NoError(err) })
	d.Run()
	fs.Mkdir(nil, "d", true, func(_ *tuple.Tuple, err error) { suite.NoError(err) })
	d.Run()

	var done bool
	fs.Rename(nil, "f", nil, "d/f", func(err error) {
		suite.NoError(err)
		done = true
	})
	suite.Equal(1, d.Pending(), "both records go out in one write")
	suite.False(done)

	// the device stops before that write
	suite.mount()
	suite.NotNil(suite.lookup("f"))
	_, err := suite.fs.Lookup(nil, "d/f")
	suite.True(errors.Is(err, ErrNotFound))

	d.Run()
	suite.True(done)
	suite.mount()
	suite.NotNil(suite.lookup("d/f"))
	_, err = suite.fs.Lookup(nil, "f")
	suite.True(errors.Is(err, ErrNotFound))
}

func (suite *FsSuite) TestTruncate() {
	suite.opts = append(suite.opts, WithExtentSizes(4096, 4096))
	suite.mount()
	t := suite.creat("f")
	data := pattern(3*4096, 3)
	suite.write(t, data, 0)
	free := suite.fs.Available()

	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Truncate(t, 5000, k) }))
	f := suite.fs.File(t)
	suite.Equal(uint64(5000), f.Length())
	suite.Equal(2, f.extents.Len())
	suite.Equal(free+4096, suite.fs.Available())
	suite.Equal(data[:5000], suite.readAll(t))

	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Truncate(t, 5000, k) }))

	suite.mount()
	t = suite.lookup("f")
	suite.Equal(data[:5000], suite.readAll(t))

	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Truncate(t, 6000, k) }))
	got := suite.readAll(t)
	suite.Equal(data[:5000], got[:5000])
	suite.Equal(make([]byte, 1000), got[5000:])

	err := suite.wait(func(k func(error)) { suite.fs.Truncate(tuple.MkTuple(), 0, k) })
	suite.Equal(ErrNoSuchFile, err)
}

func (suite *FsSuite) TestSetExtentLength() {
	t := suite.creat("f")
	suite.write(t, pattern(1000, 0), 0)
	f := suite.fs.File(t)
	var e *extent.Extent
	f.Extents(func(x *extent.Extent) { e = x })
	suite.Require().NotNil(e)

	suite.NoError(f.SetExtentLength(e, 2000, nil))
	suite.True(errors.Is(f.SetExtentLength(e, e.Allocated+1, nil), extent.ErrBadLength))
	suite.Equal(uint64(2000), e.Range.End)
	suite.NoError(suite.wait(suite.fs.Flush))

	suite.mount()
	f = suite.fs.File(suite.lookup("f"))
	f.Extents(func(x *extent.Extent) { e = x })
	suite.Equal(common.MkRange(0, 2000), e.Range)
}

func (suite *FsSuite) TestContentsNode() {
	t := suite.creat("f")
	n := suite.fs.Node(t)
	suite.IsType(&File{}, n)
	suite.NoError(suite.wait(func(k func(error)) { n.Set("contents", tuple.Bytes("payload"), k) }))

	var got tuple.Value
	n.Get("contents", func(v tuple.Value, err error) {
		suite.NoError(err)
		got = v
	})
	suite.Equal(tuple.Bytes("payload"), got)

	err := suite.wait(func(k func(error)) { n.Set("contents", tuple.MkTuple(), k) })
	suite.True(errors.Is(err, ErrInvalid))

	suite.NoError(suite.wait(func(k func(error)) { n.Set("mode", tuple.Bytes("0644"), k) }))
	suite.mount()
	s, ok := suite.lookup("f").String("mode")
	suite.True(ok)
	suite.Equal("0644", s)

	d := suite.fs.Node(suite.fs.Root())
	suite.IsType(&tuple.Tuple{}, d)
}

func (suite *FsSuite) TestGraft() {
	src := tuple.MkTuple()
	c := tuple.MkTuple()
	src.Put(symChildren, c)
	dev := mkDir()
	children(dev).Put("null", tuple.MkTuple())
	c.Put("dev", dev)
	suite.mkdir("etc", true)

	suite.NoError(suite.wait(func(k func(error)) { suite.fs.Graft(src, k) }))
	suite.NotNil(suite.lookup("dev/null"))
	suite.NotNil(suite.lookup("etc"))
	suite.Same(suite.fs.Root(), suite.lookup("dev/.."))

	suite.mount()
	_, err := suite.fs.Lookup(nil, "dev")
	suite.True(errors.Is(err, ErrNotFound), "grafts are not logged")
}

func (suite *FsSuite) TestDeferredDevice() {
	d := disk.MkDeferred(suite.mem)
	var fs *Filesystem
	Mount(context.Background(), d, func(f *Filesystem, err error) {
		suite.Require().NoError(err)
		fs = f
	}, suite.opts...)
	suite.Nil(fs, "nothing happens until the device runs")
	d.Run()
	suite.Require().NotNil(fs)

	var f *File
	fs.Creat(nil, "f", true, func(x *File, err error) {
		suite.NoError(err)
		f = x
	})
	suite.Nil(f, "not acknowledged before the log write lands")
	d.Run()
	suite.Require().NotNil(f)

	var written uint64
	var done bool
	fs.Write(f.Meta(), pattern(3000, 5), 100, func(n uint64, err error) {
		suite.NoError(err)
		written = n
		done = true
	})
	suite.False(done)
	d.Run()
	suite.True(done)
	suite.Equal(uint64(3000), written)

	var data []byte
	fs.ReadEntire(f.Meta(), func(b []byte, err error) {
		suite.NoError(err)
		data = b
	})
	d.Run()
	suite.Equal(append(make([]byte, 100), pattern(3000, 5)...), data)
}

func (suite *FsSuite) TestCreateWriteFailure() {
	faulty := disk.MkFaulty(suite.mem)
	var fs *Filesystem
	Mount(context.Background(), faulty, func(f *Filesystem, err error) {
		suite.Require().NoError(err)
		fs = f
	}, suite.opts...)
	suite.Require().NotNil(fs)

	faulty.FailWrites = true
	var cerr, derr error
	var done bool
	fs.Creat(nil, "f", true, func(f *File, err error) {
		suite.Nil(f)
		cerr = err
		done = true
	})
	suite.True(done)
	suite.Equal(EIO, Errno(cerr))
	fs.Mkdir(nil, "d", true, func(d *tuple.Tuple, err error) {
		suite.Nil(d)
		derr = err
	})
	suite.Error(derr)

	suite.mount()
	_, err := suite.fs.Lookup(nil, "f")
	suite.True(errors.Is(err, ErrNotFound), "never acknowledged, never durable")

	// the records stay staged for the next flush
	faulty.FailWrites = false
	suite.NoError(suite.wait(fs.Flush))
	suite.mount()
	suite.NotNil(suite.lookup("f"))
	suite.NotNil(suite.lookup("d"))
}

func (suite *FsSuite) TestLengthRejectedByLog() {
	d := disk.MkDeferred(suite.mem)
	var fs *Filesystem
	Mount(context.Background(), d, func(f *Filesystem, err error) {
		suite.Require().NoError(err)
		fs = f
	}, suite.opts...)
	d.Run()
	suite.Require().NotNil(fs)
	var f, g *File
	fs.Creat(nil, "f", true, func(x *File, err error) { f = x })
	d.Run()
	fs.Creat(nil, "g", true, func(x *File, err error) { g = x })
	d.Run()
	suite.Require().NotNil(f)
	suite.Require().NotNil(g)

	// g's data lands while f's length record is being flushed
	var ferr, gerr error
	fs.Write(f.Meta(), pattern(100, 1), 0, func(_ uint64, err error) { ferr = err })
	fs.Write(g.Meta(), pattern(100, 2), 0, func(_ uint64, err error) { gerr = err })
	d.Run()
	suite.NoError(ferr)
	suite.True(errors.Is(gerr, wal.ErrFlushInFlight))
	suite.Equal(uint64(100), f.Length())
	suite.Equal(uint64(0), g.Length())
	n, err := g.Meta().U64(symFileLength)
	suite.NoError(err)
	suite.Equal(uint64(0), n)

	// the read of the shared block, then the data write, after which
	// f's length record is in flight
	fs.Write(f.Meta(), pattern(10, 3), 100, func(_ uint64, err error) { ferr = err })
	suite.True(d.Step())
	suite.True(d.Step())
	var terr error
	fs.Truncate(g.Meta(), 50, func(err error) { terr = err })
	d.Run()
	suite.NoError(ferr)
	suite.True(errors.Is(terr, wal.ErrFlushInFlight))
	suite.Equal(uint64(0), g.Length())

	suite.mount()
	suite.Equal(uint64(110), suite.fs.File(suite.lookup("f")).Length())
	suite.Equal(uint64(0), suite.fs.File(suite.lookup("g")).Length())
}

func (suite *FsSuite) TestRejectedUndoIsLogged() {
	var out bytes.Buffer
	d := disk.MkDeferred(suite.mem)
	var fs *Filesystem
	opts := append(suite.opts, WithLogger(slog.New(slog.NewTextHandler(&out, nil))))
	Mount(context.Background(), d, func(f *Filesystem, err error) {
		suite.Require().NoError(err)
		fs = f
	}, opts...)
	d.Run()
	suite.Require().NotNil(fs)

	fs.Creat(nil, "f", true, func(_ *File, err error) { suite.NoError(err) })
	suite.Equal(1, d.Pending())
	fs.relog(children(fs.Root()), "f", fs.Root(), "rename")
	s := out.String()
	suite.Contains(s, "unable to log undo")
	suite.Contains(s, "op=rename")
	suite.Contains(s, wal.ErrFlushInFlight.Error())
	d.Run()
}

func (suite *FsSuite) TestUnformatted() {
	suite.mem = disk.NewMem(devSize)
	suite.dev = disk.MkCounter(suite.mem)
	suite.Panics(func() { suite.mount() })
}

func (suite *FsSuite) TestJournalTooLarge() {
	var err error
	Format(disk.NewMem(4096), func(e error) { err = e }, WithJournalSize(8192))
	suite.True(errors.Is(err, ErrNoSpace))
	err = WithJournalSize(1000)(&options{})
	suite.True(errors.Is(err, ErrInvalid))
}

func TestErrno(t *testing.T) {
	assert := assert.New(t)
	ioerr := errors.New("device gone")
	for _, tc := range []struct {
		err   error
		errno int64
	}{
		{nil, 0},
		{ErrNotFound, ENOENT},
		{ErrNoSuchFile, ENOENT},
		{ErrExist, EEXIST},
		{ErrNotDir, ENOTDIR},
		{ErrNoSpace, ENOSPC},
		{wal.ErrLogFull, ENOSPC},
		{wal.ErrFlushInFlight, EBUSY},
		{extent.ErrOverlap, EINVAL},
		{ioerr, EIO},
	} {
		assert.Equal(tc.errno, Errno(tc.err), "%v", tc.err)
	}
	assert.Equal(EEXIST, Errno(errors.Join(ioerr, ErrExist)))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []tuple.Symbol{"a", "b"}, split("/a//b/"))
	assert.Empty(t, split("/"))
}
