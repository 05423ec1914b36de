package wal

import (
	"errors"
	"fmt"

	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/disk"
	"github.com/osstudy/nanos/tuple"
	"github.com/osstudy/nanos/util"
)

var (
	ErrLogFull       = errors.New("wal: log segment full")
	ErrFlushInFlight = errors.New("wal: flush in flight")
)

// Log stages metadata records in memory and makes them durable in batches.
// Completions registered with Append fire, in order, when the flush that
// carries their record has been written.
//
// A Log is not safe for concurrent use.
type Log struct {
	dev  disk.BlockIO
	size uint64 // bytes reserved for the segment

	dict    *dictionary
	staging []byte // encoded records, without the LOGEND terminator
	records uint64

	completions []func(error) // waiting for the next flush
	inflight    []func(error) // waiting for the flush being written
	flushing    bool
	dirty       bool // records staged since the last flush
}

// MkLog returns an empty log over the first size bytes of dev, with root
// interned as the root node.
func MkLog(dev disk.BlockIO, size uint64, root *tuple.Tuple) *Log {
	if size%common.SECTORSIZE != 0 || size/common.SECTORSIZE > dev.Sectors() {
		panic("MkLog: size")
	}
	l := &Log{
		dev:  dev,
		size: size,
		dict: mkDictionary(root),
	}
	util.DPrintf(1, "MkLog: size %d\n", size)
	return l
}

func (l *Log) Size() uint64 {
	return l.size
}

// Used is the number of segment bytes holding records.
func (l *Log) Used() uint64 {
	return uint64(len(l.staging))
}

// Records is the number of records in the segment, replayed or appended.
func (l *Log) Records() uint64 {
	return l.records
}

// Append stages e.a = v. k runs once the record is durable, or with the
// error that prevented it. A full segment or a flush in flight rejects the
// record, leaving the log unchanged, and k is not called.
func (l *Log) Append(e *tuple.Tuple, a tuple.Symbol, v tuple.Value, k func(error)) error {
	if l.flushing {
		return ErrFlushInFlight
	}
	m := l.dict.mark()
	rec := l.dict.encodeRecord(nil, e, a, v)
	if uint64(len(l.staging)+len(rec))+1 > l.size {
		l.dict.rollback(m)
		util.DPrintf(1, "Append: %d bytes does not fit, %d used\n", len(rec), len(l.staging))
		return ErrLogFull
	}
	util.DPrintf(5, "Append: %s, %d bytes at %d\n", a, len(rec), len(l.staging))
	l.staging = append(l.staging, rec...)
	l.records += 1
	l.dirty = true
	if k != nil {
		l.completions = append(l.completions, k)
	}
	return nil
}

// Flush writes every staged record. k, which may be nil, runs once they
// are durable; it runs immediately when nothing has been staged since the
// last flush. A Flush while another is in flight joins it.
func (l *Log) Flush(k func(error)) {
	if l.flushing {
		if k != nil {
			l.inflight = append(l.inflight, k)
		}
		return
	}
	if !l.dirty && len(l.completions) == 0 {
		if k != nil {
			k(nil)
		}
		return
	}
	if k != nil {
		l.completions = append(l.completions, k)
	}
	l.inflight = l.completions
	l.completions = nil
	l.dirty = false
	l.write(l.flushed)
}

// write issues the single device write of the segment prefix.
func (l *Log) write(k func(error)) {
	n := util.Pad(uint64(len(l.staging))+1, common.SECTORSIZE)
	b := make([]byte, n)
	copy(b, l.staging)
	b[len(l.staging)] = LOGEND
	l.flushing = true
	util.DPrintf(5, "write: %d bytes, %d waiting\n", n, len(l.inflight))
	l.dev.Write(b, common.MkRange(0, n/common.SECTORSIZE), k)
}

func (l *Log) flushed(err error) {
	util.DPrintf(5, "flushed: err %v\n", err)
	done := l.inflight
	l.inflight = nil
	l.flushing = false
	if err != nil {
		// still staged; the next flush writes them again
		l.dirty = true
	}
	for _, k := range done {
		k(err)
	}
}

// Recover reads the segment from dev and replays it into root, then calls
// k with a log that appends after the replayed records. A segment that
// does not end in LOGEND is corruption and panics.
func Recover(dev disk.BlockIO, size uint64, root *tuple.Tuple, k func(*Log, error)) {
	l := MkLog(dev, size, root)
	b := make([]byte, size)
	dev.Read(b, common.MkRange(0, size/common.SECTORSIZE), func(err error) {
		if err != nil {
			k(nil, err)
			return
		}
		if err := l.replay(b); err != nil {
			panic(err)
		}
		k(l, nil)
	})
}

func (l *Log) replay(b []byte) error {
	r := &decoder{b: b}
	var tag byte
	for {
		start := r.off
		tag = r.u8()
		if r.err != nil {
			return r.err
		}
		if tag != RECORDPRESENT {
			r.off = start
			break
		}
		l.dict.decodeRecord(r)
		if r.err != nil {
			return r.err
		}
		l.records += 1
	}
	if tag != LOGEND {
		return &CorruptError{Off: r.off, Msg: fmt.Sprintf("bad log tag %d", tag)}
	}
	l.staging = append([]byte(nil), b[:r.off]...)
	util.DPrintf(1, "replay: %d records, %d bytes\n", l.records, r.off)
	return nil
}
