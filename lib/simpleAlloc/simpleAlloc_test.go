package simpleAlloc

import (
	"errors"
	"testing"

	"github.com/membox/pgalloc-mgr/lib/pgset"
)

func newTestAlloc(t *testing.T, numPages uint64, maxOrder int) *SimpleAlloc {
	t.Helper()

	pages, err := pgset.New(numPages)
	if err != nil {
		t.Fatalf("pgset.New(%v) failed: %v", numPages, err)
	}

	a, err := New(maxOrder)
	if err != nil {
		t.Fatalf("New(%v) failed: %v", maxOrder, err)
	}

	if err := a.Init(pages); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	return a
}

func compareFree(t *testing.T, a *SimpleAlloc, want []pageRange) {
	t.Helper()

	if !compPageRanges(a.free, want) {
		t.Errorf("free pool: got %v, want %v", a.free, want)
	}
}

func TestAllocBasic(t *testing.T) {

	a := newTestAlloc(t, 64, 4)
	a.InsertPageRange(0, 64)

	var tests = []struct {
		order   int
		wantPfn pgset.Pfn
	}{
		// first fit walks the pool from the bottom
		{0, 0},
		{0, 1},
		{1, 2},
		{2, 4},
		{3, 8},
		{0, 16},
	}

	for _, test := range tests {
		pg, err := a.AllocPages(test.order)
		if err != nil {
			t.Fatalf("AllocPages(%v) failed: %v", test.order, err)
		}
		if pfn := a.pages.PfnOf(pg); pfn != test.wantPfn {
			t.Errorf("AllocPages(%v): got pfn %v, want %v", test.order, pfn, test.wantPfn)
		}
	}
}

// An order-2 request must skip a free run that cannot hold an aligned
// order-2 block.
func TestAllocAlignment(t *testing.T) {

	a := newTestAlloc(t, 64, 4)
	a.InsertPageRange(0, 64)

	a.RemovePageRange(0, 1)  // free: [1,63]
	a.RemovePageRange(3, 2)  // free: [1,2], [5,63]

	pg, err := a.AllocPages(2)
	if err != nil {
		t.Fatalf("AllocPages(2) failed: %v", err)
	}
	if pfn := a.pages.PfnOf(pg); pfn != 8 {
		t.Errorf("AllocPages(2): got pfn %v, want 8", pfn)
	}
}

func TestAllocExhausted(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)

	if _, err := a.AllocPages(4); err != nil {
		t.Fatalf("AllocPages(4) failed: %v", err)
	}

	if _, err := a.AllocPages(0); !errors.Is(err, ErrExhausted) {
		t.Errorf("AllocPages(0): got %v, want %v", err, ErrExhausted)
	}
}

func TestAllocInvalidOrder(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)

	if _, err := a.AllocPages(-1); err == nil {
		t.Errorf("AllocPages(-1): expected error, got nil")
	}
	if _, err := a.AllocPages(5); err == nil {
		t.Errorf("AllocPages(5): expected error, got nil")
	}
}

func TestFreeCoalesces(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)

	pg1, err := a.AllocPages(2)
	if err != nil {
		t.Fatalf("AllocPages(2) failed: %v", err)
	}
	pg2, err := a.AllocPages(2)
	if err != nil {
		t.Fatalf("AllocPages(2) failed: %v", err)
	}

	compareFree(t, a, []pageRange{{8, 8}})

	// freeing in either order must collapse back to one maximal range
	a.FreePages(pg1, 2)
	compareFree(t, a, []pageRange{{0, 4}, {8, 8}})

	a.FreePages(pg2, 2)
	compareFree(t, a, []pageRange{{0, 16}})

	if got := a.FreePageCount(); got != 16 {
		t.Errorf("FreePageCount(): got %v, want 16", got)
	}
}

func TestFreeMisalignedPanics(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)

	if _, err := a.AllocPages(0); err != nil {
		t.Fatalf("AllocPages(0) failed: %v", err)
	}
	pg, err := a.AllocPages(0) // pfn 1, misaligned for order 1
	if err != nil {
		t.Fatalf("AllocPages(0) failed: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("FreePages() of a misaligned block: expected panic, got none")
		}
	}()

	a.FreePages(pg, 1)
}

func TestDoubleFreePanics(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)

	pg, err := a.AllocPages(1)
	if err != nil {
		t.Fatalf("AllocPages(1) failed: %v", err)
	}
	a.FreePages(pg, 1)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("double FreePages(): expected panic, got none")
		}
	}()

	a.FreePages(pg, 1)
}

func TestRemoveRange(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)

	// middle of a range
	a.RemovePageRange(6, 4)
	compareFree(t, a, []pageRange{{0, 6}, {10, 6}})

	// head of a range
	a.RemovePageRange(0, 2)
	compareFree(t, a, []pageRange{{2, 4}, {10, 6}})

	// a whole range
	a.RemovePageRange(2, 4)
	compareFree(t, a, []pageRange{{10, 6}})

	if got := a.FreePageCount(); got != 6 {
		t.Errorf("FreePageCount(): got %v, want 6", got)
	}
}

func TestRemoveRangeNotCoveredPanics(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)
	a.RemovePageRange(4, 4)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("RemovePageRange() across a hole: expected panic, got none")
		}
	}()

	// [0,9] spans the withdrawn hole at [4,7]
	a.RemovePageRange(0, 10)
}

func TestInsertRangeRejoins(t *testing.T) {

	a := newTestAlloc(t, 16, 4)
	a.InsertPageRange(0, 16)

	a.RemovePageRange(4, 4)
	compareFree(t, a, []pageRange{{0, 4}, {8, 8}})

	a.InsertPageRange(4, 4)
	compareFree(t, a, []pageRange{{0, 16}})
}

func TestName(t *testing.T) {

	a, err := New(4)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if a.Name() != "firstfit" {
		t.Errorf("Name(): got %v, want firstfit", a.Name())
	}
}
