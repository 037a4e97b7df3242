// Package fsys ties the device, allocator, inode registry, and root
// directory together into a mountable volume.
//
// Volume layout: sector 0 holds the root directory's inode record, the
// free-space bitmap occupies a fixed run of sectors after it, and file
// content lives beyond that. The layout is fully determined by the
// device geometry, so mounting needs no superblock.
package fsys

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/example/blockfs/pkg/alloc"
	"github.com/example/blockfs/pkg/device"
	"github.com/example/blockfs/pkg/dir"
	"github.com/example/blockfs/pkg/inode"
)

// RootSector is where the root directory's inode record lives.
const RootSector device.SectorNum = 0

// bitmapStart is the first sector of the persisted free-space bitmap.
const bitmapStart device.SectorNum = 1

// DefaultRootEntries is the root directory capacity used by Format when
// the caller does not choose one.
const DefaultRootEntries = 64

// Options configures Format.
type Options struct {
	// RootEntries is the number of directory slots in the root
	// directory. Zero means DefaultRootEntries.
	RootEntries int
}

// FileSystem is a mounted volume.
type FileSystem struct {
	dev  device.Device
	bm   *alloc.Bitmap
	reg  *inode.Registry
	root *dir.Directory
	log  *log.Entry
}

func metadataSectors(dev device.Device) uint32 {
	bm := alloc.NewBitmap(uint32(dev.NumSectors()))
	return 1 + bm.SectorsFor(dev.SectorSize())
}

// Format writes an empty filesystem to the device: a reserved metadata
// region, a fresh bitmap, and an empty root directory. Any existing
// content is lost.
func Format(dev device.Device, opts Options) error {
	entries := opts.RootEntries
	if entries == 0 {
		entries = DefaultRootEntries
	}

	bm := alloc.NewBitmap(uint32(dev.NumSectors()))
	bm.Reserve(0, metadataSectors(dev))

	reg := inode.NewRegistry(dev, bm)
	if err := reg.Create(RootSector, int32(entries*dir.EntrySize)); err != nil {
		return fmt.Errorf("formatting root directory: %w", err)
	}

	bm.Flush(dev, bitmapStart)
	log.WithFields(log.Fields{
		"sectors":     dev.NumSectors(),
		"sectorSize":  dev.SectorSize(),
		"rootEntries": entries,
	}).Info("formatted volume")
	return nil
}

// Mount loads the bitmap and opens the root directory of a previously
// formatted device.
func Mount(dev device.Device) (*FileSystem, error) {
	bm := alloc.NewBitmap(uint32(dev.NumSectors()))
	bm.Load(dev, bitmapStart)

	reg := inode.NewRegistry(dev, bm)
	rootInode, err := reg.Open(RootSector)
	if err != nil {
		return nil, fmt.Errorf("mounting: %w", err)
	}

	fs := &FileSystem{
		dev:  dev,
		bm:   bm,
		reg:  reg,
		root: dir.Open(rootInode),
		log:  log.WithField("component", "fsys"),
	}
	fs.log.WithField("sectors", dev.NumSectors()).Info("mounted volume")
	return fs, nil
}

// Registry exposes the open-inode registry, for layers that work with
// raw sector numbers.
func (f *FileSystem) Registry() *inode.Registry {
	return f.reg
}

// Create makes a file of exactly length bytes: one sector for its inode
// record, a contiguous zero-filled run for its content, and a root
// directory entry. Nothing is left behind on failure.
func (f *FileSystem) Create(name string, length int32) error {
	sector, ok := f.bm.Allocate(1)
	if !ok {
		return fmt.Errorf("creating %q: %w", name, inode.ErrNoSpace)
	}

	if err := f.reg.Create(sector, length); err != nil {
		f.bm.Release(sector, 1)
		return fmt.Errorf("creating %q: %w", name, err)
	}

	if err := f.root.Add(name, sector); err != nil {
		// Roll back by opening the fresh inode and removing it.
		if h, openErr := f.reg.Open(sector); openErr == nil {
			h.Remove()
			h.Close()
		}
		return fmt.Errorf("creating %q: %w", name, err)
	}

	f.bm.Flush(f.dev, bitmapStart)
	f.log.WithFields(log.Fields{
		"name":   name,
		"sector": sector,
		"length": length,
	}).Debug("created file")
	return nil
}

// Open looks up name in the root directory and opens its inode. The
// caller closes the returned handle.
func (f *FileSystem) Open(name string) (*inode.Inode, error) {
	sector, ok := f.root.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("opening %q: %w", name, dir.ErrNotFound)
	}
	h, err := f.reg.Open(sector)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}
	return h, nil
}

// OpenFile opens name wrapped in a positioned File.
func (f *FileSystem) OpenFile(name string) (*File, error) {
	h, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	return NewFile(h), nil
}

// Remove deletes name. Holders that still have the file open keep
// access; its sectors return to the pool at the last close, and the
// bitmap is persisted on the next Sync.
func (f *FileSystem) Remove(name string) error {
	if err := f.root.Remove(f.reg, name); err != nil {
		return err
	}
	f.bm.Flush(f.dev, bitmapStart)
	f.log.WithField("name", name).Debug("removed file")
	return nil
}

// List returns the names in the root directory.
func (f *FileSystem) List() []string {
	return f.root.List()
}

// Stat returns the inode sector and length for name without keeping it
// open.
func (f *FileSystem) Stat(name string) (device.SectorNum, int64, error) {
	h, err := f.Open(name)
	if err != nil {
		return 0, 0, err
	}
	defer h.Close()
	return h.Inumber(), h.Length(), nil
}

// FreeSectors reports how many sectors remain unallocated.
func (f *FileSystem) FreeSectors() uint32 {
	return f.bm.Free()
}

// Sync persists the free-space bitmap.
func (f *FileSystem) Sync() {
	f.bm.Flush(f.dev, bitmapStart)
}

// Unmount closes the root directory and persists the bitmap. The
// filesystem must not be used afterwards.
func (f *FileSystem) Unmount() {
	f.root.Close()
	f.bm.Flush(f.dev, bitmapStart)
	f.log.Info("unmounted volume")
}
