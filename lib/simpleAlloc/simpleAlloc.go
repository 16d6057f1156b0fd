// Simple but non-performant implementation of the PageAllocator interface.
//
// This implementation keeps the free pool as a sorted slice of maximal,
// coalesced page ranges. Allocation linearly searches for the first range
// holding a correctly aligned run of 2^order pages and carves it out;
// freeing reinserts the run and coalesces it with its neighbors.
//
// Because the search takes the first fit rather than the best fit, and
// because the pool is not organized by block size, allocation runs in O(n)
// in the number of free ranges and is subject to fragmentation when
// allocation sizes vary. It exists as a baseline to compare the buddy
// strategy against and to exercise strategy selection in the manager.

package simpleAlloc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/membox/pgalloc-mgr/intf"
	"github.com/membox/pgalloc-mgr/lib/pgset"
	"github.com/sirupsen/logrus"
)

const maxOrderLimit = 32

// ErrExhausted is returned by AllocPages when no free range can satisfy the
// request.
var ErrExhausted = errors.New("exhausted")

// SimpleAlloc is a linear first-fit page allocation strategy.
type SimpleAlloc struct {
	maxOrder int
	pages    *pgset.PageSet
	numPages int64
	free     []pageRange // sorted by start, disjoint, coalesced
	mu       sync.Mutex  // serializes all operations on the free pool
}

var _ intf.PageAllocator = (*SimpleAlloc)(nil)

// New creates a SimpleAlloc serving requests of up to 2^maxOrder pages.
func New(maxOrder int) (*SimpleAlloc, error) {
	if maxOrder < 1 || maxOrder > maxOrderLimit {
		return nil, fmt.Errorf("maxOrder must be between 1 and %v; got %v", maxOrderLimit, maxOrder)
	}
	return &SimpleAlloc{maxOrder: maxOrder}, nil
}

// Init initialises the strategy with the backing page set; the pool is empty
// until InsertPageRange populates it.
func (a *SimpleAlloc) Init(pages *pgset.PageSet) error {
	if pages == nil || pages.NumPages() == 0 {
		return errors.New("empty page set")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pages = pages
	a.numPages = int64(pages.NumPages())
	a.free = nil
	return nil
}

// Name identifies the strategy, for selection by the owning memory manager.
func (a *SimpleAlloc) Name() string {
	return "firstfit"
}

// AllocPages allocates 2^order contiguous, order-aligned pages from the
// first free range that can hold them.
func (a *SimpleAlloc) AllocPages(order int) (*pgset.PageDesc, error) {
	if order < 0 || order > a.maxOrder {
		return nil, fmt.Errorf("invalid order %v; must be between 0 and %v", order, a.maxOrder)
	}

	size := int64(1) << uint(order)

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.free {
		r := a.free[i]
		aligned := alignUp(r.start, size)
		if aligned+size > r.end() {
			continue
		}

		// carve [aligned, aligned+size) out of r
		a.excise(i, aligned, size)
		return a.pages.PageAt(pgset.Pfn(aligned)), nil
	}

	return nil, ErrExhausted
}

// FreePages releases 2^order contiguous pages starting at the given
// descriptor. The block must be aligned to the order and owned by the
// caller.
func (a *SimpleAlloc) FreePages(pg *pgset.PageDesc, order int) {
	if pg == nil {
		panic("simpleAlloc: free of nil page")
	}
	if order < 0 || order > a.maxOrder {
		panic(fmt.Sprintf("simpleAlloc: free with invalid order %v", order))
	}

	size := int64(1) << uint(order)
	pfn := int64(a.pages.PfnOf(pg))
	if pfn%size != 0 {
		panic(fmt.Sprintf("simpleAlloc: free of misaligned block: pfn %#x, order %v", pfn, order))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.insertRange(pfn, size)
}

// InsertPageRange marks count consecutive pages starting at start as
// available for allocation.
func (a *SimpleAlloc) InsertPageRange(start pgset.Pfn, count uint64) {
	if count == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.insertRange(int64(start), int64(count))
}

// insertRange adds [start, start+count) to the free pool, coalescing it with
// adjacent free ranges. The pages must not already be free. Assumes a.mu is
// held.
func (a *SimpleAlloc) insertRange(start, count int64) {
	if start < 0 || start+count > a.numPages {
		panic(fmt.Sprintf("simpleAlloc: range outside the page set: pfn %#x, count %v", start, count))
	}

	// find the first free range at or after the new one
	pos := len(a.free)
	for i := range a.free {
		if a.free[i].start >= start {
			pos = i
			break
		}
	}

	if pos > 0 && a.free[pos-1].end() > start {
		panic(fmt.Sprintf("simpleAlloc: insert of pages already free: pfn %#x, count %v", start, count))
	}
	if pos < len(a.free) && start+count > a.free[pos].start {
		panic(fmt.Sprintf("simpleAlloc: insert of pages already free: pfn %#x, count %v", start, count))
	}

	r := pageRange{start, count}

	// coalesce with the neighbor below, then the neighbor above
	if pos > 0 && a.free[pos-1].end() == r.start {
		r = pageRange{a.free[pos-1].start, a.free[pos-1].count + r.count}
		pos--
		a.free = append(a.free[:pos], a.free[pos+1:]...)
	}
	if pos < len(a.free) && r.end() == a.free[pos].start {
		r = pageRange{r.start, r.count + a.free[pos].count}
		a.free = append(a.free[:pos], a.free[pos+1:]...)
	}

	a.free = append(a.free, pageRange{})
	copy(a.free[pos+1:], a.free[pos:])
	a.free[pos] = r
}

// RemovePageRange withdraws count consecutive pages starting at start from
// the pool. The range must be fully covered by free memory; since free
// ranges are maximal, that means a single free range must contain it.
func (a *SimpleAlloc) RemovePageRange(start pgset.Pfn, count uint64) {
	if count == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s, c := int64(start), int64(count)
	for i := range a.free {
		r := a.free[i]
		if r.start <= s && s+c <= r.end() {
			a.excise(i, s, c)
			return
		}
	}

	panic(fmt.Sprintf("simpleAlloc: remove of range not covered by free memory: pfn %#x, count %v", s, c))
}

// excise removes [start, start+size) from the free range at index i,
// keeping whatever falls outside it. Assumes a.mu is held and the range at i
// contains the target.
func (a *SimpleAlloc) excise(i int, start, size int64) {
	r := a.free[i]

	left := pageRange{r.start, start - r.start}
	right := pageRange{start + size, r.end() - (start + size)}

	switch {
	case left.count > 0 && right.count > 0:
		a.free[i] = left
		a.free = append(a.free, pageRange{})
		copy(a.free[i+2:], a.free[i+1:])
		a.free[i+1] = right
	case left.count > 0:
		a.free[i] = left
	case right.count > 0:
		a.free[i] = right
	default:
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// FreePageCount returns the total number of pages currently in the free
// pool.
func (a *SimpleAlloc) FreePageCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total uint64
	for _, r := range a.free {
		total += uint64(r.count)
	}
	return total
}

// DumpState logs the current free ranges.
func (a *SimpleAlloc) DumpState() {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sb strings.Builder
	for _, r := range a.free {
		fmt.Fprintf(&sb, "[%x-%x] ", r.start, r.end()-1)
	}
	logrus.Debugf("firstfit state: %v", sb.String())
}
