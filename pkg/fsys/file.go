package fsys

import (
	"fmt"
	"io"

	"github.com/example/blockfs/pkg/inode"
)

// File is a positioned reader/writer over an open inode handle, the
// usual cursor-style view the outer layers want. It owns the handle and
// closes it on Close.
//
// Files have the length they were created with; writing past the end
// stops there rather than growing the file.
type File struct {
	h   *inode.Inode
	pos int64
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.Closer          = (*File)(nil)
	_ io.ReaderAt        = (*File)(nil)
	_ io.WriterAt        = (*File)(nil)
)

// NewFile wraps an open handle, taking ownership of it.
func NewFile(h *inode.Inode) *File {
	return &File{h: h}
}

// Inode returns the underlying handle. The caller must not close it.
func (f *File) Inode() *inode.Inode {
	return f.h
}

// Length returns the file's fixed size in bytes.
func (f *File) Length() int64 {
	return f.h.Length()
}

// Read reads from the current position, advancing it. Returns io.EOF at
// the end of the file.
func (f *File) Read(p []byte) (int, error) {
	n := f.h.ReadAt(p, f.pos)
	f.pos += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes at the current position, advancing it. A write that runs
// past the end of the file is truncated and reported as a short write.
func (f *File) Write(p []byte) (int, error) {
	n := f.h.WriteAt(p, f.pos)
	f.pos += int64(n)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// ReadAt reads at an absolute offset without moving the cursor.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n := f.h.ReadAt(p, off)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes at an absolute offset without moving the cursor.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n := f.h.WriteAt(p, off)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Seek repositions the cursor.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.h.Length() + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("seek: negative position %d", pos)
	}
	f.pos = pos
	return pos, nil
}

// Close releases the underlying handle.
func (f *File) Close() error {
	f.h.Close()
	return nil
}
