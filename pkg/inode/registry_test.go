package inode

import (
	"errors"
	"sync"
	"testing"

	"github.com/example/blockfs/pkg/alloc"
	"github.com/example/blockfs/pkg/device"
)

const testSectorSize = 64

// newTestRegistry builds a registry over an in-memory device. The first
// metaSectors sectors are reserved for inode records so data allocations
// never collide with them.
func newTestRegistry(t *testing.T, numSectors int, metaSectors uint32) (*Registry, *alloc.Bitmap) {
	t.Helper()
	dev := device.NewMemDevice(testSectorSize, numSectors)
	bm := alloc.NewBitmap(uint32(numSectors))
	bm.Reserve(0, metaSectors)
	return NewRegistry(dev, bm), bm
}

func TestOpenDeduplicates(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	if err := r.Create(0, 100); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	a, err := r.Open(0)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	b, err := r.Open(0)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if a != b {
		t.Errorf("two opens of the same sector returned distinct handles")
	}
	if got := r.OpenCount(); got != 1 {
		t.Errorf("OpenCount: got %d, want 1", got)
	}

	// The handle stays registered until the second close.
	a.Close()
	if got := r.OpenCount(); got != 1 {
		t.Errorf("OpenCount after first close: got %d, want 1", got)
	}
	b.Close()
	if got := r.OpenCount(); got != 0 {
		t.Errorf("OpenCount after last close: got %d, want 0", got)
	}
}

func TestConcurrentOpenSameSector(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	if err := r.Create(1, 30); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const openers = 8
	handles := make([]*Inode, openers)
	var wg sync.WaitGroup
	for i := 0; i < openers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Open(1)
			if err != nil {
				t.Errorf("concurrent Open failed: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for i := 1; i < openers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("opener %d got a different handle", i)
		}
	}
	if got := r.OpenCount(); got != 1 {
		t.Errorf("OpenCount: got %d, want 1", got)
	}

	for i := 0; i < openers; i++ {
		handles[i].Close()
	}
	if got := r.OpenCount(); got != 0 {
		t.Errorf("OpenCount after closes: got %d, want 0", got)
	}
}

func TestOpenDistinctSectors(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	for sector := device.SectorNum(0); sector < 3; sector++ {
		if err := r.Create(sector, 10); err != nil {
			t.Fatalf("Create(%d) failed: %v", sector, err)
		}
	}

	var handles []*Inode
	for sector := device.SectorNum(0); sector < 3; sector++ {
		h, err := r.Open(sector)
		if err != nil {
			t.Fatalf("Open(%d) failed: %v", sector, err)
		}
		handles = append(handles, h)
	}
	if handles[0] == handles[1] || handles[1] == handles[2] {
		t.Errorf("distinct sectors share a handle")
	}
	if got := r.OpenCount(); got != 3 {
		t.Errorf("OpenCount: got %d, want 3", got)
	}
	for _, h := range handles {
		h.Close()
	}
}

func TestReopen(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	if err := r.Create(0, 10); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	h, err := r.Open(0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := h.Reopen(); got != h {
		t.Errorf("Reopen returned a different handle")
	}

	h.Close()
	if got := r.OpenCount(); got != 1 {
		t.Errorf("OpenCount after closing one of two refs: got %d, want 1", got)
	}
	h.Close()
	if got := r.OpenCount(); got != 0 {
		t.Errorf("OpenCount after final close: got %d, want 0", got)
	}

	var nilHandle *Inode
	if nilHandle.Reopen() != nil {
		t.Errorf("Reopen of nil handle should return nil")
	}
}

func TestCreateZeroLength(t *testing.T) {
	r, bm := newTestRegistry(t, 32, 4)
	free := bm.Free()
	if err := r.Create(2, 0); err != nil {
		t.Fatalf("Create(2, 0) failed: %v", err)
	}
	if got := bm.Free(); got != free {
		t.Errorf("zero-length create consumed data sectors: %d free, want %d", got, free)
	}

	h, err := r.Open(2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	if got := h.Length(); got != 0 {
		t.Errorf("Length: got %d, want 0", got)
	}
	if got := h.ReadAt(make([]byte, 16), 0); got != 0 {
		t.Errorf("ReadAt on empty inode: got %d bytes, want 0", got)
	}
}

func TestCreateNegativeLength(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	if err := r.Create(0, -1); !errors.Is(err, ErrNegative) {
		t.Errorf("Create with negative length: got %v, want ErrNegative", err)
	}
}

func TestCreateNoSpace(t *testing.T) {
	r, bm := newTestRegistry(t, 8, 4)
	free := bm.Free()

	// 4 free sectors cannot hold 10 sectors of data.
	err := r.Create(0, 10*testSectorSize)
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("Create: got %v, want ErrNoSpace", err)
	}
	if got := bm.Free(); got != free {
		t.Errorf("failed create leaked sectors: %d free, want %d", got, free)
	}

	// The record sector must not have been written either.
	if _, err := r.Open(0); !errors.Is(err, ErrBadRecord) {
		t.Errorf("Open after failed create: got %v, want ErrBadRecord", err)
	}
}

func TestOpenUnformattedSector(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	if _, err := r.Open(3); !errors.Is(err, ErrBadRecord) {
		t.Errorf("Open of unformatted sector: got %v, want ErrBadRecord", err)
	}
	if got := r.OpenCount(); got != 0 {
		t.Errorf("failed open left a registry entry: OpenCount %d, want 0", got)
	}

	var e *OpError
	_, err := r.Open(3)
	if !errors.As(err, &e) {
		t.Fatalf("error is not an *OpError: %v", err)
	}
	if e.Op != "open" || e.Sector != 3 {
		t.Errorf("OpError fields: got op=%q sector=%d, want op=\"open\" sector=3", e.Op, e.Sector)
	}
}

func TestRemoveReclaimsOnLastClose(t *testing.T) {
	const length = 2*testSectorSize + 37 // three data sectors
	r, bm := newTestRegistry(t, 32, 4)

	if err := r.Create(1, length); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	freeAfterCreate := bm.Free()

	h, err := r.Open(1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	h.Remove()
	if got := bm.Free(); got != freeAfterCreate {
		t.Errorf("Remove reclaimed sectors before last close: %d free, want %d", got, freeAfterCreate)
	}

	h.Close()
	// Record sector plus ceil(length/sectorSize) data sectors. The record
	// sector was reserved, not allocated, so freeing it adds one extra.
	want := freeAfterCreate + 1 + 3
	if got := bm.Free(); got != want {
		t.Errorf("free sectors after reclaim: got %d, want %d", got, want)
	}
}

func TestRemoveDeferredWhileOpen(t *testing.T) {
	r, bm := newTestRegistry(t, 32, 4)
	if err := r.Create(0, testSectorSize); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	freeAfterCreate := bm.Free()

	a, err := r.Open(0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	b := a.Reopen()

	a.Remove()
	a.Close()
	if got := bm.Free(); got != freeAfterCreate {
		t.Errorf("reclamation happened while a reference was open: %d free, want %d", got, freeAfterCreate)
	}

	// Content remains readable through the surviving handle.
	if got := b.ReadAt(make([]byte, 8), 0); got != 8 {
		t.Errorf("read through surviving handle: got %d bytes, want 8", got)
	}

	b.Close()
	if got := bm.Free(); got != freeAfterCreate+2 {
		t.Errorf("free sectors after last close: got %d, want %d", got, freeAfterCreate+2)
	}
}

func TestCloseNilHandle(t *testing.T) {
	var h *Inode
	h.Close() // must not panic
}

func TestInumber(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	if err := r.Create(2, 5); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h, err := r.Open(2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()
	if got := h.Inumber(); got != 2 {
		t.Errorf("Inumber: got %d, want 2", got)
	}
}

func TestDirLockIndependent(t *testing.T) {
	r, _ := newTestRegistry(t, 32, 4)
	if err := r.Create(0, 10); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	h, err := r.Open(0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	// Core operations must not touch the directory lock: holding it
	// cannot block reads, reopens, or removal.
	h.DirLock()
	done := make(chan struct{})
	go func() {
		h.ReadAt(make([]byte, 4), 0)
		h.Reopen()
		h.Close()
		close(done)
	}()
	<-done
	h.DirUnlock()

	var nilHandle *Inode
	nilHandle.DirLock() // no-op on nil
	nilHandle.DirUnlock()
}
