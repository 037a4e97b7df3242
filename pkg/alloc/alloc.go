// Package alloc manages the pool of free sectors on a device. The inode
// layer treats it as opaque: it only ever asks for a contiguous run and
// gives runs back.
package alloc

import (
	"sync"

	"github.com/example/blockfs/pkg/device"
)

// Allocator hands out contiguous runs of sectors.
type Allocator interface {
	// Allocate finds count free contiguous sectors, marks them in use,
	// and returns the first one. Allocating zero sectors always succeeds.
	Allocate(count uint32) (device.SectorNum, bool)

	// Release returns the run [start, start+count) to the pool.
	Release(start device.SectorNum, count uint32)
}

var _ Allocator = (*Bitmap)(nil)

const bitsPerByte = 8

// Bitmap is a first-fit contiguous sector allocator. A set bit means the
// sector is in use. Safe for concurrent use.
type Bitmap struct {
	mu    sync.Mutex
	bits  []byte
	count uint32
}

// NewBitmap creates an allocator for a device with count sectors, all
// initially free.
func NewBitmap(count uint32) *Bitmap {
	return &Bitmap{
		bits:  make([]byte, (count+bitsPerByte-1)/bitsPerByte),
		count: count,
	}
}

func (bm *Bitmap) isSet(n uint32) bool {
	return bm.bits[n/bitsPerByte]&(1<<(n%bitsPerByte)) != 0
}

func (bm *Bitmap) set(n uint32) {
	bm.bits[n/bitsPerByte] |= 1 << (n % bitsPerByte)
}

func (bm *Bitmap) clear(n uint32) {
	bm.bits[n/bitsPerByte] &^= 1 << (n % bitsPerByte)
}

// Allocate implements Allocator by scanning for the first run of count
// free sectors.
func (bm *Bitmap) Allocate(count uint32) (device.SectorNum, bool) {
	if count == 0 {
		return 0, true
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()

	var run uint32
	for n := uint32(0); n < bm.count; n++ {
		if bm.isSet(n) {
			run = 0
			continue
		}
		run++
		if run == count {
			first := n + 1 - count
			for i := first; i <= n; i++ {
				bm.set(i)
			}
			return device.SectorNum(first), true
		}
	}
	return 0, false
}

// Release implements Allocator. Releasing a sector that is not in use
// panics: it indicates a double free.
func (bm *Bitmap) Release(start device.SectorNum, count uint32) {
	if count == 0 {
		return
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()

	for i := uint32(start); i < uint32(start)+count; i++ {
		if !bm.isSet(i) {
			panic("alloc: releasing a sector that is not allocated")
		}
		bm.clear(i)
	}
}

// Reserve marks the run [start, start+count) as in use without going
// through allocation. Used at format/mount time for fixed metadata
// regions.
func (bm *Bitmap) Reserve(start device.SectorNum, count uint32) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	for i := uint32(start); i < uint32(start)+count; i++ {
		bm.set(i)
	}
}

// Free reports how many sectors are currently unallocated.
func (bm *Bitmap) Free() uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	var free uint32
	for n := uint32(0); n < bm.count; n++ {
		if !bm.isSet(n) {
			free++
		}
	}
	return free
}

// SectorsFor returns how many device sectors the bitmap occupies when
// persisted on a device with the given sector size. The bitmap's size is
// fixed at construction, so no locking is needed.
func (bm *Bitmap) SectorsFor(sectorSize int) uint32 {
	return uint32((len(bm.bits) + sectorSize - 1) / sectorSize)
}

// Flush writes the bitmap into the run of sectors beginning at start.
func (bm *Bitmap) Flush(dev device.Device, start device.SectorNum) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	size := dev.SectorSize()
	buf := make([]byte, size)
	for i := uint32(0); i < bm.SectorsFor(size); i++ {
		for j := range buf {
			buf[j] = 0
		}
		copy(buf, bm.bits[int(i)*size:])
		dev.WriteSector(start+device.SectorNum(i), buf)
	}
}

// Load replaces the bitmap contents from the run of sectors beginning at
// start.
func (bm *Bitmap) Load(dev device.Device, start device.SectorNum) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	size := dev.SectorSize()
	buf := make([]byte, size)
	for i := uint32(0); i < bm.SectorsFor(size); i++ {
		dev.ReadSector(start+device.SectorNum(i), buf)
		copy(bm.bits[int(i)*size:], buf)
	}
}
