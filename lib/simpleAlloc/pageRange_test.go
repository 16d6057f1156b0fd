package simpleAlloc

import (
	"testing"
)

func TestSortPageRanges(t *testing.T) {

	ranges := []pageRange{
		{100, 10},
		{0, 4},
		{50, 1},
	}

	want := []pageRange{
		{0, 4},
		{50, 1},
		{100, 10},
	}

	got := sortPageRanges(ranges)
	if !compPageRanges(got, want) {
		t.Errorf("sortPageRanges(): got %v, want %v", got, want)
	}
}

func TestPageRangeContains(t *testing.T) {

	r := pageRange{8, 4}

	var tests = []struct {
		pfn  int64
		want bool
	}{
		{7, false},
		{8, true},
		{11, true},
		{12, false},
	}

	for _, test := range tests {
		got := r.contains(test.pfn)
		if got != test.want {
			t.Errorf("contains(%v): got %v, want %v", test.pfn, got, test.want)
		}
	}
}

func TestAlignUp(t *testing.T) {

	var tests = []struct {
		pfn  int64
		size int64
		want int64
	}{
		{0, 1, 0},
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{5, 2, 6},
	}

	for _, test := range tests {
		got := alignUp(test.pfn, test.size)
		if got != test.want {
			t.Errorf("alignUp(%v, %v): got %v, want %v", test.pfn, test.size, got, test.want)
		}
	}
}
