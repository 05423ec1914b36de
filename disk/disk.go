// Package disk is the block I/O contract the filesystem issues its reads and
// writes against, plus the devices that implement it.
//
// Devices are addressed in SECTORSIZE sectors. Every operation completes
// through a callback carrying only a status; there is no partial transfer.
package disk

import (
	"fmt"

	"github.com/osstudy/nanos/common"
)

type BlockIO interface {
	// Read fills buf with the sectors blocks and then calls k.
	//
	// Expects len(buf) >= blocks.Span()*SECTORSIZE.
	Read(buf []byte, blocks common.Range, k func(error))

	// Write stores buf to the sectors blocks and then calls k.
	Write(buf []byte, blocks common.Range, k func(error))

	// Sectors reports the device size in sectors.
	Sectors() uint64
}

// An IOError is a failed device operation.
type IOError struct {
	Op     string
	Blocks common.Range
	Msg    string
}

func (e *IOError) Error() string {
	return fmt.Sprintf("disk %s [%d, %d): %s", e.Op, e.Blocks.Start, e.Blocks.End, e.Msg)
}

func ioErr(op string, blocks common.Range, format string, a ...interface{}) *IOError {
	return &IOError{Op: op, Blocks: blocks, Msg: fmt.Sprintf(format, a...)}
}

// checkArgs validates a request against a device of the given size.
func checkArgs(op string, buf []byte, blocks common.Range, sectors uint64) error {
	if blocks.End < blocks.Start || blocks.End > sectors {
		return ioErr(op, blocks, "out of bounds (%d sectors)", sectors)
	}
	if uint64(len(buf)) < blocks.Span()*common.SECTORSIZE {
		return ioErr(op, blocks, "buffer of %d bytes too short", len(buf))
	}
	return nil
}
