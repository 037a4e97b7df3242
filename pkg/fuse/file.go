package fuse

import (
	"context"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/example/blockfs/pkg/device"
	"github.com/example/blockfs/pkg/fsys"
	"github.com/example/blockfs/pkg/inode"
)

// File is a node for one fixed-size file in the volume.
type File struct {
	vol    *fsys.FileSystem
	name   string
	sector device.SectorNum
	size   int64
}

var (
	_ fs.Node       = (*File)(nil)
	_ fs.NodeOpener = (*File)(nil)
)

// Attr sets the file's attributes. The FUSE inode number is the
// record's sector, offset past the root's.
func (f *File) Attr(ctx context.Context, attr *fuse.Attr) error {
	attr.Inode = uint64(f.sector) + 2
	attr.Mode = 0o644
	attr.Size = uint64(f.size)
	return nil
}

// Open takes a reference on the file's inode for the lifetime of the
// kernel handle.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	h, err := f.vol.Open(f.name)
	if err != nil {
		return nil, fuse.ENOENT
	}
	return &fileHandle{h: h}, nil
}

type fileHandle struct {
	h *inode.Inode
}

var (
	_ fs.Handle         = (*fileHandle)(nil)
	_ fs.HandleReader   = (*fileHandle)(nil)
	_ fs.HandleWriter   = (*fileHandle)(nil)
	_ fs.HandleReleaser = (*fileHandle)(nil)
)

// Read serves a kernel read from the inode's content. Reads past the
// end return empty data.
func (fh *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n := fh.h.ReadAt(buf, req.Offset)
	resp.Data = buf[:n]
	return nil
}

// Write serves a kernel write. The file's length is fixed, so a write
// that runs past the end fails rather than growing the file.
func (fh *fileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n := fh.h.WriteAt(req.Data, req.Offset)
	resp.Size = n
	if n < len(req.Data) {
		return fuse.Errno(syscall.EFBIG)
	}
	return nil
}

// Release drops the reference taken in Open.
func (fh *fileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	fh.h.Close()
	return nil
}
