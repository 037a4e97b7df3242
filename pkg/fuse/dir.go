package fuse

import (
	"context"
	"errors"
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/example/blockfs/pkg/dir"
	"github.com/example/blockfs/pkg/fsys"
)

// Dir is the volume's single, flat root directory.
type Dir struct {
	vol *fsys.FileSystem
}

var (
	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeRemover        = (*Dir)(nil)
)

// Attr sets the attributes of the root directory.
func (d *Dir) Attr(ctx context.Context, attr *fuse.Attr) error {
	attr.Inode = 1
	attr.Mode = os.ModeDir | 0o755
	return nil
}

// Lookup resolves a name to a file node.
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	sector, length, err := d.vol.Stat(name)
	if err != nil {
		if errors.Is(err, dir.ErrNotFound) {
			return nil, fuse.ENOENT
		}
		return nil, fuse.EIO
	}
	return &File{vol: d.vol, name: name, sector: sector, size: length}, nil
}

// ReadDirAll lists the volume's files.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names := d.vol.List()
	dirents := make([]fuse.Dirent, 0, len(names))
	for _, name := range names {
		dirents = append(dirents, fuse.Dirent{Name: name, Type: fuse.DT_File})
	}
	return dirents, nil
}

// Remove deletes a file. Open handles keep access until their last
// close.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if req.Dir {
		return fuse.ENOENT
	}
	if err := d.vol.Remove(req.Name); err != nil {
		if errors.Is(err, dir.ErrNotFound) {
			return fuse.ENOENT
		}
		return fuse.EIO
	}
	return nil
}
