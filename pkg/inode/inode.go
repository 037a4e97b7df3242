// Package inode maps a file's byte stream onto a run of device sectors
// and tracks which inodes are open in memory. Every caller that opens a
// given sector shares one Inode handle; the registry enforces the
// deduplication and reference counting, and reclamation of a removed
// inode's sectors happens exactly once, at the last close.
package inode

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/example/blockfs/pkg/device"
)

// Inode is the in-memory handle for one open inode. Handles are shared:
// all concurrent openers of the same sector receive the same *Inode.
//
// The reference count is guarded by the owning registry's lock; the
// removed flag by mu. The record is immutable once the handle leaves its
// loading state.
type Inode struct {
	sector device.SectorNum
	reg    *Registry

	refs int // guarded by reg.mu

	mu      sync.Mutex
	removed bool // guarded by mu

	rec     Record        // immutable after loaded is closed
	loaded  chan struct{} // closed once rec is valid or loadErr is set
	loadErr error         // set before loaded is closed

	// dirMu belongs to the directory layer: this package initializes it
	// and exposes DirLock/DirUnlock but never acquires it.
	dirMu sync.Mutex
}

// Inumber returns the sector number identifying this inode. The sector
// number is fixed for the handle's lifetime, so no lock is needed.
func (h *Inode) Inumber() device.SectorNum {
	return h.sector
}

// Length returns the size of the inode's content in bytes. Length is
// fixed at creation; there is no growth path.
func (h *Inode) Length() int64 {
	return int64(h.rec.Length)
}

// Reopen takes an additional reference on an already-open handle and
// returns it. A nil handle is returned unchanged.
func (h *Inode) Reopen() *Inode {
	if h == nil {
		return nil
	}
	h.reg.mu.Lock()
	h.refs++
	h.reg.mu.Unlock()
	return h
}

// Remove marks the inode for deletion. The caller must hold the inode
// open. Content stays readable and writable through existing handles;
// the record sector and data sectors are released when the last holder
// closes.
func (h *Inode) Remove() {
	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()
	h.reg.log.WithField("sector", h.sector).Debug("inode marked removed")
}

// Close drops one reference. When the count reaches zero the handle is
// unregistered, and if the inode was removed its record sector and data
// sectors go back to the allocator. Closing a nil handle is a no-op.
func (h *Inode) Close() {
	if h == nil {
		return
	}
	r := h.reg

	r.mu.Lock()
	h.refs--
	last := h.refs == 0
	if last {
		delete(r.inodes, h.sector)
	}
	r.mu.Unlock()

	if !last {
		return
	}

	h.mu.Lock()
	removed := h.removed
	h.mu.Unlock()

	if removed {
		sectors := h.rec.Sectors(r.dev.SectorSize())
		r.alloc.Release(h.sector, 1)
		r.alloc.Release(h.rec.Start, sectors)
		r.log.WithFields(log.Fields{
			"sector":  h.sector,
			"start":   h.rec.Start,
			"sectors": sectors,
		}).Debug("released removed inode")
	}
}

// DirLock acquires the handle's directory lock. The lock exists purely
// for the directory layer to serialize its own mutations of directory
// content stored in this inode; the inode core never takes it.
func (h *Inode) DirLock() {
	if h == nil {
		return
	}
	h.dirMu.Lock()
}

// DirUnlock releases the handle's directory lock.
func (h *Inode) DirUnlock() {
	if h == nil {
		return
	}
	h.dirMu.Unlock()
}
