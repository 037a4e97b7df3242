package inode

import (
	"github.com/example/blockfs/pkg/device"
)

// sectorFor returns the device sector holding byte offset off of the
// inode's content, or ok=false when the offset is at or past the end.
// Offsets beyond the recorded length never map to a sector: there is no
// growth path.
func (h *Inode) sectorFor(off int64) (device.SectorNum, bool) {
	if off < 0 || off >= h.Length() {
		return 0, false
	}
	return h.rec.Start + device.SectorNum(off/int64(h.reg.dev.SectorSize())), true
}

// ReadAt reads up to len(p) bytes of the inode's content starting at
// byte offset off and returns the number of bytes copied. A read at or
// past the end of the content copies nothing; short reads are not
// errors.
//
// Whole aligned sectors are read directly into p; partial chunks go
// through a sector-sized bounce buffer. Concurrent reads and writes of
// overlapping ranges are not serialized by this layer; callers that need
// that must arrange their own exclusion.
func (h *Inode) ReadAt(p []byte, off int64) int {
	sectorSize := h.reg.dev.SectorSize()
	var bounce []byte
	read := 0
	size := len(p)

	for size > 0 {
		sector, ok := h.sectorFor(off)
		if !ok {
			break
		}
		sectorOfs := int(off % int64(sectorSize))

		// Bytes left in the content, bytes left in the sector, lesser of
		// the two, capped by the remaining request.
		left := h.Length() - off
		sectorLeft := sectorSize - sectorOfs
		chunk := sectorLeft
		if left < int64(chunk) {
			chunk = int(left)
		}
		if size < chunk {
			chunk = size
		}
		if chunk <= 0 {
			break
		}

		if sectorOfs == 0 && chunk == sectorSize {
			h.reg.dev.ReadSector(sector, p[read:read+sectorSize])
		} else {
			if bounce == nil {
				bounce = make([]byte, sectorSize)
			}
			h.reg.dev.ReadSector(sector, bounce)
			copy(p[read:read+chunk], bounce[sectorOfs:sectorOfs+chunk])
		}

		size -= chunk
		off += int64(chunk)
		read += chunk
	}
	return read
}

// WriteAt writes up to len(p) bytes of p into the inode's content
// starting at byte offset off and returns the number of bytes written.
// Writing at or past the end of the content writes nothing: the length
// fixed at creation is never extended.
//
// Whole aligned sectors are written directly from p. A partial chunk
// preserves the sector's bytes outside the written sub-range: the sector
// is read into the bounce buffer first, except when the chunk starts at
// in-sector offset 0 and runs to the sector's end, in which case a
// zeroed buffer suffices. The same overlapping-range caveat as ReadAt
// applies.
func (h *Inode) WriteAt(p []byte, off int64) int {
	sectorSize := h.reg.dev.SectorSize()
	var bounce []byte
	written := 0
	size := len(p)

	for size > 0 {
		sector, ok := h.sectorFor(off)
		if !ok {
			break
		}
		sectorOfs := int(off % int64(sectorSize))

		left := h.Length() - off
		sectorLeft := sectorSize - sectorOfs
		chunk := sectorLeft
		if left < int64(chunk) {
			chunk = int(left)
		}
		if size < chunk {
			chunk = size
		}
		if chunk <= 0 {
			break
		}

		if sectorOfs == 0 && chunk == sectorSize {
			h.reg.dev.WriteSector(sector, p[written:written+sectorSize])
		} else {
			if bounce == nil {
				bounce = make([]byte, sectorSize)
			}

			// If the sector holds live bytes before or after the chunk,
			// merge with the existing content; otherwise start zeroed.
			if sectorOfs > 0 || chunk < sectorLeft {
				h.reg.dev.ReadSector(sector, bounce)
			} else {
				for i := range bounce {
					bounce[i] = 0
				}
			}
			copy(bounce[sectorOfs:sectorOfs+chunk], p[written:written+chunk])
			h.reg.dev.WriteSector(sector, bounce)
		}

		size -= chunk
		off += int64(chunk)
		written += chunk
	}
	return written
}
