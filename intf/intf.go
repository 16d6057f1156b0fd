//
// pgalloc-mgr interfaces
//

package intf

import (
	"github.com/membox/pgalloc-mgr/lib/pgset"
)

// The PageAllocator interface defines the interface exposed by a page
// allocation strategy to the owning memory manager. The manager selects a
// strategy by its Name() and serializes nothing on the strategy's behalf:
// each strategy carries its own coarse lock.
type PageAllocator interface {

	// Init initialises the strategy with the backing page set; possible
	// errors are nil or "empty page set". The pool is empty until
	// InsertPageRange populates it.
	Init(pages *pgset.PageSet) error

	// AllocPages allocates 2^order contiguous pages and returns the
	// descriptor of the first one, aligned to the order; possible errors
	// are nil, "exhausted" (the pool cannot satisfy the request; callers
	// are expected to handle this) or "invalid order".
	AllocPages(order int) (*pgset.PageDesc, error)

	// FreePages releases 2^order contiguous pages previously obtained from
	// AllocPages. The page must be aligned to the order and owned by the
	// caller; a violation is a contract breach and panics.
	FreePages(pg *pgset.PageDesc, order int)

	// InsertPageRange marks count consecutive pages starting at start as
	// available for allocation. The range need not be aligned.
	InsertPageRange(start pgset.Pfn, count uint64)

	// RemovePageRange withdraws count consecutive pages starting at start
	// from the pool. The range must be fully covered by free memory; a
	// violation is a contract breach and panics.
	RemovePageRange(start pgset.Pfn, count uint64)

	// Name returns the friendly name of the strategy, for selection and
	// debugging purposes.
	Name() string

	// DumpState logs the current state of the strategy's free pool.
	DumpState()
}
