package disk

import (
	"golang.org/x/sys/unix"

	"github.com/osstudy/nanos/common"
	"github.com/osstudy/nanos/util"
)

// FileDevice is a device image in a host file (or block device), accessed
// with positioned reads and writes. Writes are synced before completing.
type FileDevice struct {
	fd      int
	sectors uint64
}

var _ BlockIO = (*FileDevice)(nil)

// OpenFile opens the image at path. A regular file is created if needed
// and sized to sectors; sectors == 0 keeps the size of an existing image.
func OpenFile(path string, sectors uint64) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	size := uint64(stat.Size)
	if sectors == 0 {
		sectors = size / common.SECTORSIZE
	} else if (stat.Mode&unix.S_IFREG) != 0 && size != sectors*common.SECTORSIZE {
		err = unix.Ftruncate(fd, int64(sectors*common.SECTORSIZE))
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	util.DPrintf(1, "OpenFile %s: %d sectors\n", path, sectors)
	return &FileDevice{fd: fd, sectors: sectors}, nil
}

func (d *FileDevice) Sectors() uint64 {
	return d.sectors
}

func (d *FileDevice) Read(buf []byte, blocks common.Range, k func(error)) {
	if err := checkArgs("read", buf, blocks, d.sectors); err != nil {
		k(err)
		return
	}
	n := blocks.Span() * common.SECTORSIZE
	// reads past the end of a short image see zeros
	for i := range buf[:n] {
		buf[i] = 0
	}
	_, err := unix.Pread(d.fd, buf[:n], int64(blocks.Start*common.SECTORSIZE))
	if err != nil {
		k(ioErr("read", blocks, "%v", err))
		return
	}
	k(nil)
}

func (d *FileDevice) Write(buf []byte, blocks common.Range, k func(error)) {
	if err := checkArgs("write", buf, blocks, d.sectors); err != nil {
		k(err)
		return
	}
	n := blocks.Span() * common.SECTORSIZE
	_, err := unix.Pwrite(d.fd, buf[:n], int64(blocks.Start*common.SECTORSIZE))
	if err != nil {
		k(ioErr("write", blocks, "%v", err))
		return
	}
	// NOTE: on macOS this flushes to the drive without a disk barrier
	// (that takes fcntl F_FULLFSYNC).
	err = unix.Fsync(d.fd)
	if err != nil {
		k(ioErr("write", blocks, "sync: %v", err))
		return
	}
	k(nil)
}

func (d *FileDevice) Close() error {
	return unix.Close(d.fd)
}
