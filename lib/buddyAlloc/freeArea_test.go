//
// Copyright: (C) 2024 Membox Inc.  All rights reserved.
//

package buddyAlloc

import (
	"testing"
)

func compareBlocks(t *testing.T, f *freeArea, order int, want []int64) {
	t.Helper()

	got := f.blocks(order)
	if len(got) != len(want) {
		t.Errorf("blocks(%v): got %v, want %v", order, got, want)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("blocks(%v): got %v, want %v", order, got, want)
			return
		}
	}
}

func TestInsertBlockSorted(t *testing.T) {

	f := newFreeArea(64, 4)

	// insert out of order; the list must come out address-ascending
	f.insertBlock(32, 2)
	f.insertBlock(8, 2)
	f.insertBlock(48, 2)
	f.insertBlock(0, 2)
	f.insertBlock(16, 2)

	compareBlocks(t, f, 2, []int64{0, 8, 16, 32, 48})

	// other orders untouched
	for _, order := range []int{0, 1, 3, 4} {
		compareBlocks(t, f, order, nil)
	}
}

func TestRemoveBlock(t *testing.T) {

	f := newFreeArea(64, 4)

	for _, pfn := range []int64{0, 8, 16, 32, 48} {
		f.insertBlock(pfn, 3)
	}

	// middle
	f.removeBlock(16, 3)
	compareBlocks(t, f, 3, []int64{0, 8, 32, 48})

	// head
	f.removeBlock(0, 3)
	compareBlocks(t, f, 3, []int64{8, 32, 48})

	// tail
	f.removeBlock(48, 3)
	compareBlocks(t, f, 3, []int64{8, 32})
}

func TestRemoveBlockNotPresent(t *testing.T) {

	f := newFreeArea(64, 4)
	f.insertBlock(8, 1)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("removeBlock() of a non-member block: expected panic, got none")
		}
	}()

	f.removeBlock(16, 1)
}

func TestContains(t *testing.T) {

	f := newFreeArea(64, 4)
	f.insertBlock(8, 1)
	f.insertBlock(24, 1)

	var tests = []struct {
		pfn   int64
		order int
		want  bool
	}{
		{8, 1, true},
		{24, 1, true},
		{8, 0, false},
		{16, 1, false},
		{32, 1, false},
	}

	for _, test := range tests {
		got := f.contains(test.pfn, test.order)
		if got != test.want {
			t.Errorf("contains(%v, %v): got %v, want %v", test.pfn, test.order, got, test.want)
		}
	}
}

func TestClear(t *testing.T) {

	f := newFreeArea(16, 2)
	f.insertBlock(0, 2)
	f.insertBlock(4, 1)

	f.clear()

	for order := 0; order <= 2; order++ {
		if f.head(order) != nilPfn {
			t.Errorf("clear(): order %v list not empty: %v", order, f.blocks(order))
		}
	}
}
