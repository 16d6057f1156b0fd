// Implementation of a buddy page allocator.
//
// The Buddy class manages a fixed pool of equally-sized page frames and
// serves allocation requests for 2^order contiguous pages. Freed memory is
// eagerly recombined with its buddy so that large contiguous blocks stay
// available.
//
// A Buddy object is created with New(), initialised with a page set via
// Init(), and seeded with pages via InsertPageRange(). Allocations are
// performed with AllocPages() and freeing with FreePages().
// RemovePageRange() withdraws arbitrary (not necessarily aligned) page
// ranges from the pool, e.g. for frames occupied by the kernel image.
//
// Internally the free pool is a free-area table: one address-sorted list of
// free blocks per order, orders 0 through maxOrder. A block of order k
// covers 2^k pages starting at a pfn divisible by 2^k. Allocation walks the
// orders upward from the request to the first non-empty list and splits the
// block found there back down; freeing inserts the block and greedily merges
// it upward while its buddy is also free. Both are O(maxOrder) structural
// operations plus the (short, in the intended workload) list walks.
//
// Exhaustion is a recoverable error ("exhausted"). Contract violations
// (freeing a misaligned block, removing a block that is not free, withdrawing
// a range not fully covered by free memory) indicate a caller bug or a
// corrupted table and panic.
//
// All public operations serialize on a single coarse mutex; per-order
// locking is unsafe because split and merge move blocks across adjacent
// orders.

package buddyAlloc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/membox/pgalloc-mgr/intf"
	"github.com/membox/pgalloc-mgr/lib/pgset"
	"github.com/sirupsen/logrus"
)

// Buddy allocator limits
const (
	// DefaultMaxOrder is the largest block order unless configured
	// otherwise: blocks of up to 2^18 pages.
	DefaultMaxOrder = 18

	maxOrderLimit = 32 // table holds at most 2^32 pages per block
)

// ErrExhausted is returned by AllocPages when no free block of sufficient
// order exists.
var ErrExhausted = errors.New("exhausted")

// Buddy represents an instance of the buddy page allocator.
type Buddy struct {
	maxOrder int
	pages    *pgset.PageSet
	numPages int64
	freeArea *freeArea
	mu       sync.Mutex // serializes all operations on the free-area table
}

var _ intf.PageAllocator = (*Buddy)(nil)

// New creates a Buddy with the given maximum block order.
func New(maxOrder int) (*Buddy, error) {
	if maxOrder < 1 || maxOrder > maxOrderLimit {
		return nil, fmt.Errorf("maxOrder must be between 1 and %v; got %v", maxOrderLimit, maxOrder)
	}
	return &Buddy{maxOrder: maxOrder}, nil
}

// Init initialises the allocator with the backing page set. Every order's
// free list is cleared; the pool is empty until InsertPageRange populates
// it.
func (b *Buddy) Init(pages *pgset.PageSet) error {
	if pages == nil || pages.NumPages() == 0 {
		return errors.New("empty page set")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pages = pages
	b.numPages = int64(pages.NumPages())
	b.freeArea = newFreeArea(pages.NumPages(), b.maxOrder)
	return nil
}

// MaxOrder returns the largest block order the allocator manages.
func (b *Buddy) MaxOrder() int {
	return b.maxOrder
}

// Name identifies the strategy, for selection by the owning memory manager.
func (b *Buddy) Name() string {
	return "buddy"
}

// buddyOf returns the pfn of the buddy of the order-'order' block at pfn:
// the other half of the order+1 parent block. If the pfn is also aligned to
// order+1 it is the low half and the buddy sits one block above it,
// otherwise the buddy sits one block below. There is no buddy at maxOrder,
// for a misaligned pfn, or beyond the end of the page set.
func (b *Buddy) buddyOf(pfn int64, order int) (int64, bool) {
	if order >= b.maxOrder || !alignedToOrder(pfn, order) {
		return 0, false
	}

	var buddy int64
	if alignedToOrder(pfn, order+1) {
		buddy = pfn + pagesPerBlock(order)
	} else {
		buddy = pfn - pagesPerBlock(order)
	}

	if buddy < 0 || buddy >= b.numPages {
		return 0, false
	}
	return buddy, true
}

// splitBlock converts one free block of the given order into its two
// half-size buddies one order down. A single page (order 0) cannot be split.
// Returns the pfn of the block, unchanged, now homed at order-1. Assumes
// b.mu is held.
func (b *Buddy) splitBlock(pfn int64, order int) int64 {
	if !alignedToOrder(pfn, order) {
		panic(fmt.Sprintf("buddyAlloc: split of misaligned block: pfn %#x, order %v", pfn, order))
	}

	if order == 0 {
		return pfn
	}

	left := pfn
	right := left + pagesPerBlock(order-1)

	b.freeArea.removeBlock(left, order)
	b.freeArea.insertBlock(left, order-1)
	b.freeArea.insertBlock(right, order-1)

	return left
}

// mergeBlock combines the free block at pfn with its (also free) buddy into
// the parent block one order up. Whichever of the pair is aligned to order+1
// is the parent's start. Returns the parent's pfn. Assumes b.mu is held.
func (b *Buddy) mergeBlock(pfn int64, order int) int64 {
	buddy, ok := b.buddyOf(pfn, order)
	if !ok {
		panic(fmt.Sprintf("buddyAlloc: merge of block with no buddy: pfn %#x, order %v", pfn, order))
	}

	b.freeArea.removeBlock(pfn, order)
	b.freeArea.removeBlock(buddy, order)

	parent := pfn
	if !alignedToOrder(parent, order+1) {
		parent = buddy
	}
	b.freeArea.insertBlock(parent, order+1)

	return parent
}

// AllocPages allocates 2^order contiguous pages and returns the descriptor
// of the first one. The scan picks the smallest sufficient order and, within
// it, the lowest surviving address after splitting.
func (b *Buddy) AllocPages(order int) (*pgset.PageDesc, error) {
	if order < 0 || order > b.maxOrder {
		return nil, fmt.Errorf("invalid order %v; must be between 0 and %v", order, b.maxOrder)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// find the first order at or above the request with a free block
	free := order
	for free <= b.maxOrder && b.freeArea.head(free) == nilPfn {
		free++
	}
	if free > b.maxOrder {
		return nil, ErrExhausted
	}

	// split the block back down to the requested order
	blk := b.freeArea.head(free)
	for i := free; i > order; i-- {
		blk = b.splitBlock(blk, i)
	}

	b.freeArea.removeBlock(blk, order)
	return b.pages.PageAt(pgset.Pfn(blk)), nil
}

// FreePages releases 2^order contiguous pages starting at the given
// descriptor. The block must be aligned to the order; it is illegal, for
// example, to free page 1 as an order-1 block.
func (b *Buddy) FreePages(pg *pgset.PageDesc, order int) {
	if pg == nil {
		panic("buddyAlloc: free of nil page")
	}
	if order < 0 || order > b.maxOrder {
		panic(fmt.Sprintf("buddyAlloc: free with invalid order %v", order))
	}

	pfn := int64(b.pages.PfnOf(pg))
	if !alignedToOrder(pfn, order) {
		panic(fmt.Sprintf("buddyAlloc: free of misaligned block: pfn %#x, order %v", pfn, order))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.freeBlock(pfn, order)
}

// freeBlock inserts the block into its order's list and then greedily merges
// it upward: while the block's buddy is also free, the pair collapses into
// the parent order. On return no two same-order buddies are simultaneously
// free. Assumes b.mu is held.
func (b *Buddy) freeBlock(pfn int64, order int) {
	b.freeArea.insertBlock(pfn, order)

	for order < b.maxOrder {
		buddy, ok := b.buddyOf(pfn, order)
		if !ok || !b.freeArea.contains(buddy, order) {
			break
		}
		pfn = b.mergeBlock(pfn, order)
		order++
	}
}

// InsertPageRange marks count consecutive pages starting at start as
// available for allocation. The range need not be aligned or a power of two
// in length.
func (b *Buddy) InsertPageRange(start pgset.Pfn, count uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkRange(int64(start), int64(count))
	b.insertRange(int64(start), int64(count))
}

// insertRange seeds [start, start+count) by repeatedly freeing the largest
// legal block at the current head of the range: the highest order that both
// fits in the remaining count and is aligned at start. This decomposes the
// range into O(log count) blocks. Assumes b.mu is held.
func (b *Buddy) insertRange(start, count int64) {
	for count > 0 {
		order := b.maxOrder
		for pagesPerBlock(order) > count || !alignedToOrder(start, order) {
			order--
		}

		b.freeBlock(start, order)
		start += pagesPerBlock(order)
		count -= pagesPerBlock(order)
	}
}

// RemovePageRange withdraws count consecutive pages starting at start from
// the pool, making them unavailable for allocation. The range must be fully
// covered by free memory.
func (b *Buddy) RemovePageRange(start pgset.Pfn, count uint64) {
	if count == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkRange(int64(start), int64(count))

	// Excise the free block covering the head of the range, then iterate on
	// whatever suffix that block did not cover. An explicit loop rather than
	// recursion: range sizes are caller-controlled.
	s, c := int64(start), int64(count)
	for c > 0 {
		n := b.removeRangeHead(s, c)
		s += n
		c -= n
	}
}

// removeRangeHead locates the free block covering the head of [start,
// start+count), removes it, and reinserts the parts of the block that lie
// outside the range. Returns the number of pages excised from the head of
// the range. Assumes b.mu is held.
func (b *Buddy) removeRangeHead(start, count int64) int64 {
	end := start + count - 1

	for order := b.maxOrder; order >= 0; order-- {
		blockPages := pagesPerBlock(order)

		for pfn := b.freeArea.head(order); pfn != nilPfn; pfn = b.freeArea.nextOf(pfn) {
			blockStart := pfn
			blockEnd := pfn + blockPages - 1

			// lists are address-sorted: once a block starts past the head of
			// the range, no block in this order covers it
			if blockStart > start {
				break
			}
			if blockEnd < start {
				continue
			}

			b.freeArea.removeBlock(pfn, order)

			// put back the part of the block before the range
			b.insertRange(blockStart, start-blockStart)

			if end <= blockEnd {
				// the block covers the whole range: put back the tail too
				b.insertRange(end+1, blockEnd-end)
				return count
			}
			return blockEnd - start + 1
		}
	}

	panic(fmt.Sprintf("buddyAlloc: remove of range not covered by free memory: pfn %#x, count %v", start, count))
}

// checkRange panics unless [start, start+count) lies within the page set.
// Assumes b.mu is held.
func (b *Buddy) checkRange(start, count int64) {
	if b.freeArea == nil {
		panic("buddyAlloc: allocator not initialised")
	}
	if start < 0 || count < 0 || start+count > b.numPages {
		panic(fmt.Sprintf("buddyAlloc: range outside the page set: pfn %#x, count %v", start, count))
	}
}

// FreePageCount returns the total number of pages currently in the free
// pool.
func (b *Buddy) FreePageCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total uint64
	for order := 0; order <= b.maxOrder; order++ {
		for pfn := b.freeArea.head(order); pfn != nilPfn; pfn = b.freeArea.nextOf(pfn) {
			total += uint64(pagesPerBlock(order))
		}
	}
	return total
}

// DumpState logs the current state of the free-area table, one line per
// order listing the pfn of every free block.
func (b *Buddy) DumpState() {
	b.mu.Lock()
	defer b.mu.Unlock()

	logrus.Debug("buddy state:")

	for order := 0; order <= b.maxOrder; order++ {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%v] ", order)

		for pfn := b.freeArea.head(order); pfn != nilPfn; pfn = b.freeArea.nextOf(pfn) {
			fmt.Fprintf(&sb, "%x ", pfn)
		}

		logrus.Debug(sb.String())
	}
}
