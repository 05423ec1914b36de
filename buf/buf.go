// buf stages extent I/O in scratch buffers covering whole device blocks
package buf

import (
	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/util"
)

// A Buf covers the device blocks holding Len bytes of data that start Off
// bytes into the first block.
type Buf struct {
	Data      []byte
	Blocks    common.Range // in blocks, not bytes
	Off       uint64
	Len       uint64
	blocksize uint64
}

// MkBuf allocates a buffer for length bytes at storage address addr.
func MkBuf(addr uint64, length uint64, blocksize uint64) *Buf {
	off := addr & (blocksize - 1)
	padded := util.Pad(off+length, blocksize)
	start := addr / blocksize
	b := &Buf{
		Data:      make([]byte, padded),
		Blocks:    common.MkRange(start, start+padded/blocksize),
		Off:       off,
		Len:       length,
		blocksize: blocksize,
	}
	util.DPrintf(20, "MkBuf: addr %#x len %d -> blocks %v off %d\n", addr, length, b.Blocks, off)
	return b
}

func (b *Buf) NBlocks() uint64 {
	return b.Blocks.Span()
}

// Bytes is the data portion of the buffer.
func (b *Buf) Bytes() []byte {
	return b.Data[b.Off : b.Off+b.Len]
}

// Block returns the i'th block of the buffer and its device block range.
func (b *Buf) Block(i uint64) ([]byte, common.Range) {
	if i >= b.NBlocks() {
		panic("buf: block index")
	}
	bn := b.Blocks.Start + i
	return b.Data[i*b.blocksize : (i+1)*b.blocksize], common.MkRange(bn, bn+1)
}

// HeadUnaligned reports whether the data starts inside a block.
func (b *Buf) HeadUnaligned() bool {
	return b.Off != 0
}

// TailUnaligned reports whether the data ends inside a block.
func (b *Buf) TailUnaligned() bool {
	return (b.Off+b.Len)&(b.blocksize-1) != 0
}

// Install copies src into the data portion.
func (b *Buf) Install(src []byte) {
	if uint64(len(src)) != b.Len {
		panic("buf: install length")
	}
	copy(b.Bytes(), src)
}
