// Package extent maps a file's logical byte ranges onto storage.
package extent

import (
	"errors"
	"fmt"
	"sort"

	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/util"
)

var (
	ErrOverlap   = errors.New("extent: overlaps an existing extent")
	ErrBadLength = errors.New("extent: length outside allocation")
	ErrNotFound  = errors.New("extent: not in index")
)

// An Extent backs the logical range Range with storage starting at the byte
// address BlockStart, of which Allocated bytes were reserved. Only the used
// length (Range.End) ever changes, through Map.SetLength.
type Extent struct {
	Range      common.Range
	BlockStart uint64
	Allocated  uint64
}

func MkExtent(r common.Range, blockStart uint64, allocated uint64) *Extent {
	return &Extent{Range: r, BlockStart: blockStart, Allocated: allocated}
}

func (e *Extent) String() string {
	return fmt.Sprintf("[%d, %d)@%#x/%d", e.Range.Start, e.Range.End, e.BlockStart, e.Allocated)
}

// Storage returns the storage address of logical offset off.
func (e *Extent) Storage(off uint64) uint64 {
	return e.BlockStart + off - e.Range.Start
}

// Map holds one file's extents sorted by logical start. Extents never
// overlap.
type Map struct {
	extents []*Extent
}

func MkMap() *Map {
	return &Map{}
}

func (m *Map) Len() int {
	return len(m.extents)
}

// first returns the index of the first extent ending after off.
func (m *Map) first(off uint64) int {
	return sort.Search(len(m.extents), func(i int) bool {
		return m.extents[i].Range.End > off
	})
}

func (m *Map) index(e *Extent) int {
	i := m.first(e.Range.Start)
	for ; i < len(m.extents); i++ {
		if m.extents[i] == e {
			return i
		}
		if m.extents[i].Range.Start > e.Range.Start {
			break
		}
	}
	return -1
}

// Insert adds e, failing without change if it overlaps a stored extent.
func (m *Map) Insert(e *Extent) error {
	if e.Range.Empty() {
		return ErrOverlap
	}
	i := m.first(e.Range.Start)
	if i < len(m.extents) && m.extents[i].Range.Overlaps(e.Range) {
		util.DPrintf(1, "extent insert: %v overlaps %v\n", e, m.extents[i])
		return ErrOverlap
	}
	m.extents = append(m.extents, nil)
	copy(m.extents[i+1:], m.extents[i:])
	m.extents[i] = e
	return nil
}

func (m *Map) Remove(e *Extent) bool {
	i := m.index(e)
	if i < 0 {
		return false
	}
	m.extents = append(m.extents[:i], m.extents[i+1:]...)
	return true
}

// LookupAtOrNext returns the extent containing off, or else the first one
// after it, or nil.
func (m *Map) LookupAtOrNext(off uint64) *Extent {
	i := m.first(off)
	if i == len(m.extents) {
		return nil
	}
	return m.extents[i]
}

// Next returns the extent following e, or nil.
func (m *Map) Next(e *Extent) *Extent {
	i := m.index(e)
	if i < 0 || i+1 >= len(m.extents) {
		return nil
	}
	return m.extents[i+1]
}

// RangeLookup calls visit, in ascending order, on every extent overlapping
// q. visit may be nil. It reports whether any extent overlapped.
func (m *Map) RangeLookup(q common.Range, visit func(*Extent)) bool {
	var found bool
	// copy so that visit may remove the extent it is given
	var hits []*Extent
	for i := m.first(q.Start); i < len(m.extents); i++ {
		e := m.extents[i]
		if e.Range.Start >= q.End {
			break
		}
		hits = append(hits, e)
	}
	for _, e := range hits {
		found = true
		if visit != nil {
			visit(e)
		}
	}
	return found
}

// RangeFindGaps calls visit, in ascending order, on every part of q that no
// extent covers.
func (m *Map) RangeFindGaps(q common.Range, visit func(common.Range)) {
	curr := q.Start
	for i := m.first(q.Start); i < len(m.extents) && curr < q.End; i++ {
		e := m.extents[i]
		if e.Range.Start >= q.End {
			break
		}
		if e.Range.Start > curr {
			visit(common.MkRange(curr, e.Range.Start))
		}
		curr = util.Max(curr, e.Range.End)
	}
	if curr < q.End {
		visit(common.MkRange(curr, q.End))
	}
}

// SetLength changes how much of e's allocation is in use. The new range
// must stay within the allocation and clear of every other extent.
func (m *Map) SetLength(e *Extent, length uint64) error {
	if length == 0 || length > e.Allocated {
		return ErrBadLength
	}
	i := m.index(e)
	if i < 0 {
		return ErrNotFound
	}
	end := e.Range.Start + length
	if i+1 < len(m.extents) && m.extents[i+1].Range.Start < end {
		return ErrOverlap
	}
	e.Range.End = end
	return nil
}

// Each visits every extent in ascending order.
func (m *Map) Each(visit func(*Extent)) {
	m.RangeLookup(common.MkRange(0, ^uint64(0)), visit)
}
