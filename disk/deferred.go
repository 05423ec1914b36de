package disk

import (
	"github.com/osstudy/nanos/common"
)

// Deferred queues every request instead of performing it, so callers can
// observe the engine with operations in flight and choose when they land.
type Deferred struct {
	dev     BlockIO
	pending []func()
}

var _ BlockIO = (*Deferred)(nil)

func MkDeferred(dev BlockIO) *Deferred {
	return &Deferred{dev: dev}
}

func (d *Deferred) Sectors() uint64 {
	return d.dev.Sectors()
}

func (d *Deferred) Read(buf []byte, blocks common.Range, k func(error)) {
	d.pending = append(d.pending, func() { d.dev.Read(buf, blocks, k) })
}

func (d *Deferred) Write(buf []byte, blocks common.Range, k func(error)) {
	d.pending = append(d.pending, func() { d.dev.Write(buf, blocks, k) })
}

func (d *Deferred) Pending() int {
	return len(d.pending)
}

// Step performs the oldest queued request. It reports false if none was
// queued.
func (d *Deferred) Step() bool {
	if len(d.pending) == 0 {
		return false
	}
	op := d.pending[0]
	d.pending = d.pending[1:]
	op()
	return true
}

// Run performs queued requests, including any queued by their completions,
// until none remain. It returns how many ran.
func (d *Deferred) Run() int {
	var n int
	for d.Step() {
		n++
	}
	return n
}

// Counter passes requests through to a device and counts them.
type Counter struct {
	dev            BlockIO
	Reads          uint64
	Writes         uint64
	SectorsRead    uint64
	SectorsWritten uint64
}

var _ BlockIO = (*Counter)(nil)

func MkCounter(dev BlockIO) *Counter {
	return &Counter{dev: dev}
}

func (c *Counter) Sectors() uint64 {
	return c.dev.Sectors()
}

func (c *Counter) Read(buf []byte, blocks common.Range, k func(error)) {
	c.Reads++
	c.SectorsRead += blocks.Span()
	c.dev.Read(buf, blocks, k)
}

func (c *Counter) Write(buf []byte, blocks common.Range, k func(error)) {
	c.Writes++
	c.SectorsWritten += blocks.Span()
	c.dev.Write(buf, blocks, k)
}

func (c *Counter) Reset() {
	c.Reads, c.Writes, c.SectorsRead, c.SectorsWritten = 0, 0, 0, 0
}

// Faulty passes requests through to a device, failing them while the
// matching flag is set.
type Faulty struct {
	dev        BlockIO
	FailReads  bool
	FailWrites bool
}

var _ BlockIO = (*Faulty)(nil)

func MkFaulty(dev BlockIO) *Faulty {
	return &Faulty{dev: dev}
}

func (f *Faulty) Sectors() uint64 {
	return f.dev.Sectors()
}

func (f *Faulty) Read(buf []byte, blocks common.Range, k func(error)) {
	if f.FailReads {
		k(ioErr("read", blocks, "injected failure"))
		return
	}
	f.dev.Read(buf, blocks, k)
}

func (f *Faulty) Write(buf []byte, blocks common.Range, k func(error)) {
	if f.FailWrites {
		k(ioErr("write", blocks, "injected failure"))
		return
	}
	f.dev.Write(buf, blocks, k)
}
