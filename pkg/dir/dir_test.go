package dir

import (
	"errors"
	"sort"
	"testing"

	"github.com/example/blockfs/pkg/alloc"
	"github.com/example/blockfs/pkg/device"
	"github.com/example/blockfs/pkg/inode"
)

const testSectorSize = 64

func newTestDir(t *testing.T, entries int) (*Directory, *inode.Registry, *alloc.Bitmap) {
	t.Helper()
	dev := device.NewMemDevice(testSectorSize, 128)
	bm := alloc.NewBitmap(128)
	bm.Reserve(0, 16) // inode record sectors
	reg := inode.NewRegistry(dev, bm)

	if err := reg.Create(0, int32(entries*EntrySize)); err != nil {
		t.Fatalf("creating directory inode: %v", err)
	}
	h, err := reg.Open(0)
	if err != nil {
		t.Fatalf("opening directory inode: %v", err)
	}
	return Open(h), reg, bm
}

func TestAddLookup(t *testing.T) {
	d, _, _ := newTestDir(t, 8)
	defer d.Close()

	if err := d.Add("alpha", 5); err != nil {
		t.Fatalf("Add(alpha) failed: %v", err)
	}
	if err := d.Add("beta", 6); err != nil {
		t.Fatalf("Add(beta) failed: %v", err)
	}

	sector, ok := d.Lookup("alpha")
	if !ok {
		t.Fatalf("Lookup(alpha) missed")
	}
	if sector != 5 {
		t.Errorf("Lookup(alpha): got sector %d, want 5", sector)
	}

	if _, ok := d.Lookup("gamma"); ok {
		t.Errorf("Lookup(gamma) found a nonexistent entry")
	}
}

func TestAddDuplicate(t *testing.T) {
	d, _, _ := newTestDir(t, 8)
	defer d.Close()

	if err := d.Add("alpha", 5); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := d.Add("alpha", 6); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Add: got %v, want ErrExists", err)
	}
}

func TestAddNameLimits(t *testing.T) {
	d, _, _ := newTestDir(t, 8)
	defer d.Close()

	if err := d.Add("", 5); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("empty name: got %v, want ErrNameTooLong", err)
	}
	if err := d.Add("exactly14chars", 5); err != nil {
		t.Errorf("14-char name rejected: %v", err)
	}
	if err := d.Add("fifteencharname", 5); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("15-char name: got %v, want ErrNameTooLong", err)
	}
}

func TestDirectoryFull(t *testing.T) {
	d, _, _ := newTestDir(t, 2)
	defer d.Close()

	if err := d.Add("a", 5); err != nil {
		t.Fatalf("Add(a) failed: %v", err)
	}
	if err := d.Add("b", 6); err != nil {
		t.Fatalf("Add(b) failed: %v", err)
	}
	if err := d.Add("c", 7); !errors.Is(err, ErrFull) {
		t.Errorf("Add to full directory: got %v, want ErrFull", err)
	}
}

func TestRemoveReclaimsSlotAndSectors(t *testing.T) {
	d, reg, bm := newTestDir(t, 4)
	defer d.Close()

	if err := reg.Create(1, 2*testSectorSize); err != nil {
		t.Fatalf("creating file inode: %v", err)
	}
	if err := d.Add("victim", 1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	free := bm.Free()

	if err := d.Remove(reg, "victim"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok := d.Lookup("victim"); ok {
		t.Errorf("entry survived Remove")
	}

	// Record sector (reserved, +1) plus two data sectors come back.
	if got := bm.Free(); got != free+3 {
		t.Errorf("free sectors after Remove: got %d, want %d", got, free+3)
	}

	// The slot is reusable.
	if err := d.Add("fresh", 2); err != nil {
		t.Errorf("Add after Remove failed: %v", err)
	}
}

func TestRemoveMissing(t *testing.T) {
	d, reg, _ := newTestDir(t, 4)
	defer d.Close()

	if err := d.Remove(reg, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove of missing entry: got %v, want ErrNotFound", err)
	}
}

func TestRemoveWhileOpenDefersReclaim(t *testing.T) {
	d, reg, bm := newTestDir(t, 4)
	defer d.Close()

	if err := reg.Create(1, testSectorSize); err != nil {
		t.Fatalf("creating file inode: %v", err)
	}
	if err := d.Add("busy", 1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	h, err := reg.Open(1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	free := bm.Free()

	if err := d.Remove(reg, "busy"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if got := bm.Free(); got != free {
		t.Errorf("sectors reclaimed while file still open: %d free, want %d", got, free)
	}

	// Still readable through the surviving handle.
	if got := h.ReadAt(make([]byte, 8), 0); got != 8 {
		t.Errorf("read after remove: got %d bytes, want 8", got)
	}

	h.Close()
	if got := bm.Free(); got != free+2 {
		t.Errorf("free sectors after last close: got %d, want %d", got, free+2)
	}
}

func TestList(t *testing.T) {
	d, _, _ := newTestDir(t, 8)
	defer d.Close()

	want := []string{"a", "b", "c"}
	for i, name := range want {
		if err := d.Add(name, device.SectorNum(i+1)); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}

	got := d.List()
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("List: got %d names, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}
