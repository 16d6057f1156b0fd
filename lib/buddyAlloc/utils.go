//
// Copyright: (C) 2024 Membox Inc.  All rights reserved.
//

package buddyAlloc

// pagesPerBlock returns the number of pages that comprise a block of the
// given order: 1 shifted left by the order. In order 2, for example, each
// block spans (1 << 2) == 4 pages.
func pagesPerBlock(order int) int64 {
	return 1 << uint(order)
}

// alignedToOrder reports whether pfn is correctly aligned for the given
// order, i.e. divides evenly into the block size of that order.
func alignedToOrder(pfn int64, order int) bool {
	return pfn%pagesPerBlock(order) == 0
}

func isPowerOfTwo(num uint64) bool {
	return num != 0 && num&(num-1) == 0
}
