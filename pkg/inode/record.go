package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/example/blockfs/pkg/device"
)

// Magic identifies a serialized inode record ("INOD").
const Magic uint32 = 0x494e4f44

// recordBytes is the size of the encoded header; the rest of the sector
// is zero padding.
const recordBytes = 12

// Record is the on-disk inode descriptor. It occupies exactly one device
// sector: start sector, signed length in bytes, magic marker, padding.
// Records are written once at creation and never mutated.
type Record struct {
	Start  device.SectorNum
	Length int32
}

// Sectors returns the number of data sectors the record's content
// occupies on a device with the given sector size.
func (r Record) Sectors(sectorSize int) uint32 {
	return sectorsFor(r.Length, sectorSize)
}

func sectorsFor(length int32, sectorSize int) uint32 {
	return uint32((int64(length) + int64(sectorSize) - 1) / int64(sectorSize))
}

// checkLayout verifies that a record fits in one sector of the given
// size. The record layout is a build-time property, so a mismatch is a
// programming or configuration error, not a runtime condition.
func checkLayout(sectorSize int) {
	if sectorSize < recordBytes {
		panic(fmt.Sprintf(
			"inode: record needs %d bytes, sector size is only %d",
			recordBytes, sectorSize,
		))
	}
}

// encodeRecord serializes r into buf, which must be one sector long.
// The padding beyond the header is zeroed.
func encodeRecord(r Record, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Start))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Length))
	binary.LittleEndian.PutUint32(buf[8:12], Magic)
}

// decodeRecord parses a sector-sized buffer into a Record, validating
// the magic marker.
func decodeRecord(buf []byte) (Record, error) {
	if magic := binary.LittleEndian.Uint32(buf[8:12]); magic != Magic {
		return Record{}, fmt.Errorf("magic %#08x: %w", magic, ErrBadRecord)
	}
	return Record{
		Start:  device.SectorNum(binary.LittleEndian.Uint32(buf[0:4])),
		Length: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}
