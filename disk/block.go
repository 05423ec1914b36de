package disk

import (
	"github.com/tchajed/goose/machine/disk"

	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/util"
)

const sectorsPerBlock = disk.BlockSize / common.SECTORSIZE

// BlockDevice serves sector requests from a goose block disk, completing
// each one before returning. Partial blocks are read, patched and written
// back.
type BlockDevice struct {
	d       disk.Disk
	nblocks uint64
}

var _ BlockIO = (*BlockDevice)(nil)

func MkBlockDevice(d disk.Disk, nblocks uint64) *BlockDevice {
	return &BlockDevice{d: d, nblocks: nblocks}
}

// NewMem returns an in-memory device of at least size bytes.
func NewMem(size uint64) *BlockDevice {
	n := util.RoundUp(size, disk.BlockSize)
	return MkBlockDevice(disk.NewMemDisk(n), n)
}

func (b *BlockDevice) Sectors() uint64 {
	return b.nblocks * sectorsPerBlock
}

// each calls f for every block touched by the sectors blocks, with the byte
// range of the block it covers and the matching offset into the request.
func each(blocks common.Range, f func(bn uint64, lo uint64, hi uint64, off uint64)) {
	s := blocks.Start
	for s < blocks.End {
		bn := s / sectorsPerBlock
		end := util.Min(blocks.End, (bn+1)*sectorsPerBlock)
		lo := (s % sectorsPerBlock) * common.SECTORSIZE
		hi := lo + (end-s)*common.SECTORSIZE
		f(bn, lo, hi, (s-blocks.Start)*common.SECTORSIZE)
		s = end
	}
}

func (b *BlockDevice) Read(buf []byte, blocks common.Range, k func(error)) {
	if err := checkArgs("read", buf, blocks, b.Sectors()); err != nil {
		k(err)
		return
	}
	util.DPrintf(10, "BlockDevice read %v\n", blocks)
	each(blocks, func(bn, lo, hi, off uint64) {
		blk := b.d.Read(bn)
		copy(buf[off:off+hi-lo], blk[lo:hi])
	})
	k(nil)
}

func (b *BlockDevice) Write(buf []byte, blocks common.Range, k func(error)) {
	if err := checkArgs("write", buf, blocks, b.Sectors()); err != nil {
		k(err)
		return
	}
	util.DPrintf(10, "BlockDevice write %v\n", blocks)
	each(blocks, func(bn, lo, hi, off uint64) {
		var blk disk.Block
		if lo == 0 && hi == disk.BlockSize {
			blk = util.CloneByteSlice(buf[off : off+disk.BlockSize])
		} else {
			blk = b.d.Read(bn)
			copy(blk[lo:hi], buf[off:off+hi-lo])
		}
		b.d.Write(bn, blk)
	})
	b.d.Barrier()
	k(nil)
}
