package alloc

import (
	"github.com/osstudy/nanos/util"
)

// Heap hands out byte addresses in [base, base+length) in multiples of
// unit, one bitmap bit per unit. Returned addresses are aligned (relative
// to base) to the allocation size rounded up to a power of two.
type Heap struct {
	bm   *Bitmap
	base uint64
	unit uint64
	next uint64 // bit to start the next search at
}

func MkHeap(base uint64, length uint64, unit uint64) *Heap {
	if !util.IsPow2(unit) {
		panic("MkHeap: unit")
	}
	h := &Heap{
		bm:   MkBitmap(length / unit),
		base: base,
		unit: unit,
		next: 0,
	}
	return h
}

func (h *Heap) Unit() uint64 {
	return h.unit
}

func (h *Heap) bits(size uint64) uint64 {
	return util.RoundUp(size, h.unit)
}

func (h *Heap) addr(bit uint64) uint64 {
	return h.base + bit*h.unit
}

func (h *Heap) checkAddr(a uint64) (uint64, error) {
	if a < h.base || (a-h.base)%h.unit != 0 {
		return 0, ErrMisaligned
	}
	return (a - h.base) / h.unit, nil
}

// Alloc reserves size bytes, returning false when the space is exhausted.
func (h *Heap) Alloc(size uint64) (uint64, bool) {
	bit, ok := h.bm.Alloc(h.bits(size))
	if !ok {
		return 0, false
	}
	return h.addr(bit), true
}

// AllocNext is a next-fit allocation: the search begins after the previous
// allocation and wraps around.
func (h *Heap) AllocNext(size uint64) (uint64, bool) {
	nbits := h.bits(size)
	bit, ok := h.bm.AllocWithOffset(nbits, h.next)
	if !ok {
		return 0, false
	}
	h.next = bit + (uint64(1) << util.FindOrder(nbits))
	return h.addr(bit), true
}

func (h *Heap) Free(a uint64, size uint64) error {
	bit, err := h.checkAddr(a)
	if err != nil {
		return err
	}
	return h.bm.Free(bit, h.bits(size))
}

// SetArea reserves (set) or releases (!set) the bytes [a, a+size) with no
// alignment constraint beyond the unit.
func (h *Heap) SetArea(a uint64, size uint64, validate bool, set bool) error {
	bit, err := h.checkAddr(a)
	if err != nil {
		return err
	}
	return h.bm.SetArea(bit, h.bits(size), validate, set)
}

func (h *Heap) Allocated() uint64 {
	return h.bm.NumAllocated() * h.unit
}

func (h *Heap) Available() uint64 {
	return h.bm.NumFree() * h.unit
}
