// Package fuse exposes a mounted volume through the kernel's FUSE
// interface. The volume's namespace is flat, so the tree is one root
// directory of fixed-size files. Files are created with the blockfs
// tool, not through the mount: lengths are fixed at creation, which
// does not fit FUSE's create-then-write model.
package fuse

import (
	"bazil.org/fuse/fs"

	"github.com/example/blockfs/pkg/fsys"
)

// FS implements the FUSE filesystem over a mounted volume.
type FS struct {
	vol *fsys.FileSystem
}

var _ fs.FS = (*FS)(nil)

// NewFS creates a FUSE filesystem serving vol.
func NewFS(vol *fsys.FileSystem) *FS {
	return &FS{vol: vol}
}

// Root returns the root directory node.
func (f *FS) Root() (fs.Node, error) {
	return &Dir{vol: f.vol}, nil
}
