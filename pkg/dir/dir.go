// Package dir implements a flat directory stored in an inode's data
// region: a fixed-size array of entries mapping names to inode sectors.
// All mutations are serialized with the inode's directory lock, which
// the inode layer provisions but never takes itself.
package dir

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/example/blockfs/pkg/device"
	"github.com/example/blockfs/pkg/inode"
)

// NameMax is the longest entry name, in bytes.
const NameMax = 14

// EntrySize is the on-disk size of one directory entry: 4-byte inode
// sector, NameMax+1 name bytes (NUL padded), one in-use byte.
const EntrySize = 4 + NameMax + 1 + 1

var (
	ErrNotFound    = errors.New("no such file")
	ErrExists      = errors.New("file already exists")
	ErrNameTooLong = errors.New("name too long")
	ErrFull        = errors.New("directory full")
)

type entry struct {
	Sector device.SectorNum
	Name   string
	InUse  bool
}

func encodeEntry(e entry, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Sector))
	copy(buf[4:4+NameMax], e.Name)
	if e.InUse {
		buf[EntrySize-1] = 1
	}
}

func decodeEntry(buf []byte) entry {
	name := buf[4 : 4+NameMax+1]
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	return entry{
		Sector: device.SectorNum(binary.LittleEndian.Uint32(buf[0:4])),
		Name:   string(name[:n]),
		InUse:  buf[EntrySize-1] != 0,
	}
}

// Directory provides name lookup over an open directory inode. It owns
// the handle it is opened with and closes it on Close.
type Directory struct {
	inode *inode.Inode
}

// Open wraps an open inode as a directory, taking ownership of the
// handle.
func Open(h *inode.Inode) *Directory {
	return &Directory{inode: h}
}

// Close releases the underlying inode handle.
func (d *Directory) Close() {
	d.inode.Close()
}

// Inode returns the directory's underlying handle. The caller must not
// close it.
func (d *Directory) Inode() *inode.Inode {
	return d.inode
}

// Capacity returns how many entries the directory can hold.
func (d *Directory) Capacity() int {
	return int(d.inode.Length() / EntrySize)
}

func (d *Directory) readEntry(i int, buf []byte) entry {
	if n := d.inode.ReadAt(buf, int64(i*EntrySize)); n != EntrySize {
		panic(fmt.Sprintf("dir: short entry read: %d of %d bytes", n, EntrySize))
	}
	return decodeEntry(buf)
}

func (d *Directory) writeEntry(i int, e entry, buf []byte) {
	encodeEntry(e, buf)
	if n := d.inode.WriteAt(buf, int64(i*EntrySize)); n != EntrySize {
		panic(fmt.Sprintf("dir: short entry write: %d of %d bytes", n, EntrySize))
	}
}

// lookup scans for a live entry with the given name. Callers hold the
// directory lock.
func (d *Directory) lookup(name string, buf []byte) (entry, int, bool) {
	for i := 0; i < d.Capacity(); i++ {
		e := d.readEntry(i, buf)
		if e.InUse && e.Name == name {
			return e, i, true
		}
	}
	return entry{}, 0, false
}

// Lookup returns the inode sector recorded for name.
func (d *Directory) Lookup(name string) (device.SectorNum, bool) {
	buf := make([]byte, EntrySize)
	d.inode.DirLock()
	defer d.inode.DirUnlock()

	e, _, ok := d.lookup(name, buf)
	return e.Sector, ok
}

// Add records name as referring to the inode stored at sector.
func (d *Directory) Add(name string, sector device.SectorNum) error {
	if name == "" || len(name) > NameMax {
		return fmt.Errorf("adding %q: %w", name, ErrNameTooLong)
	}

	buf := make([]byte, EntrySize)
	d.inode.DirLock()
	defer d.inode.DirUnlock()

	if _, _, ok := d.lookup(name, buf); ok {
		return fmt.Errorf("adding %q: %w", name, ErrExists)
	}

	for i := 0; i < d.Capacity(); i++ {
		if e := d.readEntry(i, buf); !e.InUse {
			d.writeEntry(i, entry{Sector: sector, Name: name, InUse: true}, buf)
			return nil
		}
	}
	return fmt.Errorf("adding %q: %w", name, ErrFull)
}

// Remove deletes name from the directory and marks its inode removed.
// The inode's sectors are reclaimed once its last holder closes; callers
// that still have it open keep full access until then.
func (d *Directory) Remove(reg *inode.Registry, name string) error {
	buf := make([]byte, EntrySize)
	d.inode.DirLock()
	defer d.inode.DirUnlock()

	e, i, ok := d.lookup(name, buf)
	if !ok {
		return fmt.Errorf("removing %q: %w", name, ErrNotFound)
	}

	h, err := reg.Open(e.Sector)
	if err != nil {
		return fmt.Errorf("removing %q: %w", name, err)
	}
	h.Remove()
	h.Close()

	e.InUse = false
	d.writeEntry(i, e, buf)
	return nil
}

// List returns the names of all live entries in slot order.
func (d *Directory) List() []string {
	buf := make([]byte, EntrySize)
	d.inode.DirLock()
	defer d.inode.DirUnlock()

	var names []string
	for i := 0; i < d.Capacity(); i++ {
		if e := d.readEntry(i, buf); e.InUse {
			names = append(names, e.Name)
		}
	}
	return names
}
