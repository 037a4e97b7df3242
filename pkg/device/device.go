// Package device abstracts the fixed-size sector storage underneath the
// filesystem. Sector transfers are synchronous and assumed to succeed;
// a device that cannot satisfy a transfer panics rather than returning
// an error, matching the goose disk contract.
package device

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"
)

// SectorNum addresses one sector of a device.
type SectorNum uint32

// Device is the sector-level storage contract. ReadSector and WriteSector
// transfer exactly one sector; buf must be SectorSize bytes long.
type Device interface {
	// SectorSize returns the size of one sector in bytes.
	SectorSize() int

	// NumSectors returns the total number of addressable sectors.
	NumSectors() SectorNum

	// ReadSector reads sector n into buf.
	ReadSector(n SectorNum, buf []byte)

	// WriteSector writes buf to sector n.
	WriteSector(n SectorNum, buf []byte)
}

// GooseDisk adapts a goose disk.Disk (memory- or file-backed) to the
// Device interface. Sectors are disk.BlockSize bytes.
type GooseDisk struct {
	d disk.Disk
}

// NewGooseDisk wraps d as a Device.
func NewGooseDisk(d disk.Disk) *GooseDisk {
	return &GooseDisk{d: d}
}

func (g *GooseDisk) SectorSize() int {
	return int(disk.BlockSize)
}

func (g *GooseDisk) NumSectors() SectorNum {
	return SectorNum(g.d.Size())
}

func (g *GooseDisk) ReadSector(n SectorNum, buf []byte) {
	if len(buf) != int(disk.BlockSize) {
		panic(fmt.Sprintf("device: read buffer is %d bytes, sector is %d", len(buf), disk.BlockSize))
	}
	copy(buf, g.d.Read(uint64(n)))
}

func (g *GooseDisk) WriteSector(n SectorNum, buf []byte) {
	if len(buf) != int(disk.BlockSize) {
		panic(fmt.Sprintf("device: write buffer is %d bytes, sector is %d", len(buf), disk.BlockSize))
	}
	b := make(disk.Block, disk.BlockSize)
	copy(b, buf)
	g.d.Write(uint64(n), b)
}

// Close releases the underlying goose disk.
func (g *GooseDisk) Close() {
	g.d.Close()
}

// Barrier flushes buffered writes on the underlying goose disk.
func (g *GooseDisk) Barrier() {
	g.d.Barrier()
}

// MemDevice is an in-memory Device with a configurable sector size.
// It exists so tests can exercise sector-boundary arithmetic with small
// sectors; production code uses GooseDisk.
type MemDevice struct {
	sectorSize int
	sectors    [][]byte
}

// NewMemDevice creates a zero-filled in-memory device.
func NewMemDevice(sectorSize, numSectors int) *MemDevice {
	sectors := make([][]byte, numSectors)
	for i := range sectors {
		sectors[i] = make([]byte, sectorSize)
	}
	return &MemDevice{sectorSize: sectorSize, sectors: sectors}
}

func (m *MemDevice) SectorSize() int {
	return m.sectorSize
}

func (m *MemDevice) NumSectors() SectorNum {
	return SectorNum(len(m.sectors))
}

func (m *MemDevice) ReadSector(n SectorNum, buf []byte) {
	if len(buf) != m.sectorSize {
		panic(fmt.Sprintf("device: read buffer is %d bytes, sector is %d", len(buf), m.sectorSize))
	}
	copy(buf, m.sectors[n])
}

func (m *MemDevice) WriteSector(n SectorNum, buf []byte) {
	if len(buf) != m.sectorSize {
		panic(fmt.Sprintf("device: write buffer is %d bytes, sector is %d", len(buf), m.sectorSize))
	}
	copy(m.sectors[n], buf)
}
