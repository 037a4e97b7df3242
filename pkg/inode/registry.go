package inode

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/example/blockfs/pkg/alloc"
	"github.com/example/blockfs/pkg/device"
)

// Registry is the open-inode table: a mutex-guarded map from sector
// number to the single shared handle for that sector. It is created at
// filesystem start-up and owns no sectors itself; membership slots are
// non-owning.
type Registry struct {
	dev   device.Device
	alloc alloc.Allocator
	log   *log.Entry

	mu     sync.Mutex
	inodes map[device.SectorNum]*Inode
}

// NewRegistry creates a registry over the given device and allocator.
// It panics if an inode record cannot occupy exactly one sector of the
// device.
func NewRegistry(dev device.Device, a alloc.Allocator) *Registry {
	checkLayout(dev.SectorSize())
	return &Registry{
		dev:    dev,
		alloc:  a,
		log:    log.WithField("component", "inode"),
		inodes: make(map[device.SectorNum]*Inode),
	}
}

// Create initializes an inode with length bytes of content and writes
// its record to sector. The data sectors are allocated as one contiguous
// run and zero-filled. On allocation failure nothing is written and no
// sectors are held.
func (r *Registry) Create(sector device.SectorNum, length int32) error {
	if length < 0 {
		return opError("create", sector, ErrNegative)
	}

	sectorSize := r.dev.SectorSize()
	sectors := sectorsFor(length, sectorSize)

	start, ok := r.alloc.Allocate(sectors)
	if !ok {
		return opError("create", sector, ErrNoSpace)
	}

	buf := make([]byte, sectorSize)
	encodeRecord(Record{Start: start, Length: length}, buf)
	r.dev.WriteSector(sector, buf)

	zeros := make([]byte, sectorSize)
	for i := uint32(0); i < sectors; i++ {
		r.dev.WriteSector(start+device.SectorNum(i), zeros)
	}

	r.log.WithFields(log.Fields{
		"sector":  sector,
		"start":   start,
		"length":  length,
		"sectors": sectors,
	}).Debug("created inode")
	return nil
}

// Open returns a handle for the inode stored at sector. If the inode is
// already open the existing handle is shared and its reference count
// incremented; otherwise a new handle is registered and its record is
// loaded from the device.
//
// A new handle becomes visible in the table before its record has been
// read, so concurrent openers of the same sector do not serialize behind
// the device read of a different sector; they instead wait on the
// handle's loading state. The registry lock is never held across device
// I/O.
func (r *Registry) Open(sector device.SectorNum) (*Inode, error) {
	r.mu.Lock()
	if h, ok := r.inodes[sector]; ok {
		h.refs++
		r.mu.Unlock()
		<-h.loaded
		if h.loadErr != nil {
			// The loader already unregistered the handle; our reference
			// dies with it.
			return nil, h.loadErr
		}
		return h, nil
	}

	h := &Inode{
		sector: sector,
		reg:    r,
		refs:   1,
		loaded: make(chan struct{}),
	}
	r.inodes[sector] = h
	r.mu.Unlock()

	buf := make([]byte, r.dev.SectorSize())
	r.dev.ReadSector(sector, buf)
	rec, err := decodeRecord(buf)
	if err != nil {
		r.mu.Lock()
		delete(r.inodes, sector)
		r.mu.Unlock()
		h.loadErr = opError("open", sector, err)
		close(h.loaded)
		return nil, h.loadErr
	}

	h.rec = rec
	close(h.loaded)
	return h, nil
}

// OpenCount reports how many inodes are currently open. Intended for
// tests and diagnostics.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inodes)
}
