// Package alloc tracks free storage with a power-of-two bitmap allocator.
//
// Allocations are rounded up to the next power of two and aligned to that
// size, which keeps the search simple and lets differently sized
// allocations (e.g. a page and a megabyte) share one space. The map is
// grown lazily in EXTENDBITS increments as searches probe past its
// current end.
package alloc

import (
	"errors"
	"math/bits"

	"github.com/osstudy/nanos/util"
)

const (
	WORDBITS   uint64 = 64
	EXTENDBITS uint64 = 4096
)

var (
	ErrMisaligned   = errors.New("alloc: range not aligned to its size")
	ErrOutOfRange   = errors.New("alloc: range exceeds bitmap length")
	ErrNotAllocated = errors.New("alloc: range not allocated")
	ErrAlreadySet   = errors.New("alloc: range already in requested state")
)

func mask(n uint64) uint64 {
	if n >= WORDBITS {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// Bitmap allocates bit numbers in [0, maxbits).
type Bitmap struct {
	maxbits uint64
	words   []uint64
}

func MkBitmap(maxbits uint64) *Bitmap {
	if maxbits == 0 {
		panic("MkBitmap")
	}
	b := &Bitmap{
		maxbits: maxbits,
	}
	b.words = make([]uint64, util.Min(EXTENDBITS, util.Pad(maxbits, WORDBITS))/WORDBITS)
	return b
}

func (b *Bitmap) MaxBits() uint64 {
	return b.maxbits
}

// mapBits is how many bits are currently backed by words.
func (b *Bitmap) mapBits() uint64 {
	return uint64(len(b.words)) * WORDBITS
}

// extend makes sure bit is backed by the map, growing it if needed.
func (b *Bitmap) extend(bit uint64) {
	if bit < b.mapBits() {
		return
	}
	limit := util.Pad(b.maxbits, WORDBITS)
	n := util.Min(util.Pad(bit+1, EXTENDBITS), limit)
	if n <= b.mapBits() {
		return
	}
	util.DPrintf(5, "bitmap extend: %d -> %d bits\n", b.mapBits(), n)
	words := make([]uint64, n/WORDBITS)
	copy(words, b.words)
	b.words = words
}

// wordOp sets or clears mask in the word at index w, or (set == false)
// reports whether every bit of mask is already val.
func (b *Bitmap) wordOp(w uint64, m uint64, set bool, val bool) bool {
	if set {
		if val {
			b.words[w] |= m
		} else {
			b.words[w] &^= m
		}
		return true
	}
	masked := b.words[w] & m
	if val {
		return masked == m
	}
	return masked == 0
}

// forRange applies wordOp over the bits [start, start+nbits).
func (b *Bitmap) forRange(start uint64, nbits uint64, set bool, val bool) bool {
	if nbits == 0 {
		return true
	}
	end := start + nbits
	head := start % WORDBITS
	tail := end % WORDBITS

	m := ^uint64(0)
	single := head+nbits <= WORDBITS
	if head != 0 {
		m &^= mask(head)
	}
	if tail != 0 && single {
		m &= mask(tail)
	}
	r := b.wordOp(start/WORDBITS, m, set, val)
	if !r || single {
		return r
	}

	for w := start/WORDBITS + 1; w < end/WORDBITS; w++ {
		if !b.wordOp(w, ^uint64(0), set, val) {
			return false
		}
	}
	if tail != 0 {
		if !b.wordOp(end/WORDBITS, mask(tail), set, val) {
			return false
		}
	}
	return true
}

func (b *Bitmap) alloc(nbits uint64, startbit uint64, endbit uint64) (uint64, bool) {
	order := util.FindOrder(nbits)
	stride := uint64(1) << order
	bit := startbit &^ mask(order)

	if stride >= WORDBITS {
		for bit+stride <= endbit {
			b.extend(bit + stride - 1)
			if b.forRange(bit, stride, false, false) {
				b.forRange(bit, stride, true, true)
				return bit, true
			}
			bit += stride
		}
		return 0, false
	}

	shift := bit % WORDBITS
	bit -= shift
	for ; bit+shift+stride <= endbit; shift, bit = 0, bit+WORDBITS {
		b.extend(util.Min(bit+WORDBITS, b.maxbits) - 1)
		w := b.words[bit/WORDBITS]
		if w == ^uint64(0) {
			continue
		}
		m := mask(stride) << shift
		for shift < WORDBITS && bit+shift+stride <= endbit {
			if w&m == 0 {
				b.words[bit/WORDBITS] |= m
				return bit + shift, true
			}
			m <<= stride
			shift += stride
		}
	}
	return 0, false
}

// Alloc returns the first free run of nbits (rounded up to a power of two),
// aligned to that size.
func (b *Bitmap) Alloc(nbits uint64) (uint64, bool) {
	if nbits == 0 {
		return 0, false
	}
	return b.alloc(nbits, 0, b.maxbits)
}

// AllocWithOffset starts the search at hint (aligned down to the allocation
// order) and wraps around to the start of the space if nothing fits beyond
// it.
func (b *Bitmap) AllocWithOffset(nbits uint64, hint uint64) (uint64, bool) {
	if nbits == 0 {
		return 0, false
	}
	bit, ok := b.alloc(nbits, hint, b.maxbits)
	if !ok && hint > 0 {
		return b.alloc(nbits, 0, util.Min(hint, b.maxbits))
	}
	return bit, ok
}

// Free releases an allocation made by Alloc. The run must be aligned to
// its (power-of-two) size and fully allocated.
func (b *Bitmap) Free(bit uint64, nbits uint64) error {
	size := uint64(1) << util.FindOrder(nbits)
	if bit&(size-1) != 0 {
		util.DPrintf(1, "bitmap free: bit %d not aligned to %d\n", bit, size)
		return ErrMisaligned
	}
	if util.SumOverflows(bit, size) || bit+size > b.maxbits {
		util.DPrintf(1, "bitmap free: bit %d size %d exceeds %d\n", bit, size, b.maxbits)
		return ErrOutOfRange
	}
	b.extend(bit + size - 1)
	if !b.forRange(bit, size, false, true) {
		util.DPrintf(1, "bitmap free: bit %d size %d not allocated\n", bit, size)
		return ErrNotAllocated
	}
	b.forRange(bit, size, true, false)
	return nil
}

// SetArea marks (set) or clears (!set) [start, start+nbits) without any
// power-of-two constraint. With validate, it fails without mutating if any
// bit is already in the requested state.
func (b *Bitmap) SetArea(start uint64, nbits uint64, validate bool, set bool) error {
	if util.SumOverflows(start, nbits) || start >= b.maxbits || start+nbits > b.maxbits {
		return ErrOutOfRange
	}
	if nbits == 0 {
		return nil
	}
	b.extend(start + nbits - 1)
	if validate && !b.forRange(start, nbits, false, !set) {
		return ErrAlreadySet
	}
	b.forRange(start, nbits, true, set)
	return nil
}

// IsSet reports whether bit is allocated.
func (b *Bitmap) IsSet(bit uint64) bool {
	if bit >= b.mapBits() {
		return false
	}
	return b.words[bit/WORDBITS]&(uint64(1)<<(bit%WORDBITS)) != 0
}

func (b *Bitmap) NumAllocated() uint64 {
	var n uint64
	for _, w := range b.words {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}

func (b *Bitmap) NumFree() uint64 {
	return b.maxbits - b.NumAllocated()
}
