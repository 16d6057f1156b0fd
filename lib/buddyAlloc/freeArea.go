//
// Copyright: (C) 2024 Membox Inc.  All rights reserved.
//

package buddyAlloc

import (
	"fmt"
)

// nilPfn terminates a free list.
const nilPfn = int64(-1)

// freeArea is the free-area table: one singly-linked, address-ascending list
// of free blocks per order. The links live in a per-pfn next array rather
// than on the page descriptors, so list membership requires no
// allocator-private state on the page type. next[pfn] is meaningful only
// while pfn heads a block on some order's list.
type freeArea struct {
	heads []int64 // head pfn of each order's list; nilPfn when empty
	next  []int64 // next free pfn in the same order's list, indexed by pfn
}

func newFreeArea(numPages uint64, maxOrder int) *freeArea {
	f := &freeArea{
		heads: make([]int64, maxOrder+1),
		next:  make([]int64, numPages),
	}
	f.clear()
	return f
}

func (f *freeArea) clear() {
	for i := range f.heads {
		f.heads[i] = nilPfn
	}
	for i := range f.next {
		f.next[i] = nilPfn
	}
}

// insertBlock links pfn into the given order's list at the slot that keeps
// the list sorted by ascending pfn: walking from the head, it stops at the
// first element at or above the new block.
func (f *freeArea) insertBlock(pfn int64, order int) {
	slot := &f.heads[order]
	for *slot != nilPfn && pfn > *slot {
		slot = &f.next[*slot]
	}

	f.next[pfn] = *slot
	*slot = pfn
}

// removeBlock unlinks pfn from the given order's list. The block must be
// present; a miss means the caller broke the contract or the table is
// corrupt, and panics.
func (f *freeArea) removeBlock(pfn int64, order int) {
	slot := &f.heads[order]
	for *slot != nilPfn && *slot != pfn {
		slot = &f.next[*slot]
	}

	if *slot != pfn {
		panic(fmt.Sprintf("buddyAlloc: remove of block not in free list: pfn %#x, order %v", pfn, order))
	}

	*slot = f.next[pfn]
	f.next[pfn] = nilPfn
}

// contains reports whether pfn heads a free block on the given order's list.
func (f *freeArea) contains(pfn int64, order int) bool {
	for p := f.heads[order]; p != nilPfn; p = f.next[p] {
		if p == pfn {
			return true
		}
		if p > pfn {
			break
		}
	}
	return false
}

func (f *freeArea) head(order int) int64 {
	return f.heads[order]
}

func (f *freeArea) nextOf(pfn int64) int64 {
	return f.next[pfn]
}

// blocks returns the pfns of the given order's free blocks, in list order.
func (f *freeArea) blocks(order int) []int64 {
	var result []int64
	for pfn := f.heads[order]; pfn != nilPfn; pfn = f.next[pfn] {
		result = append(result, pfn)
	}
	return result
}
