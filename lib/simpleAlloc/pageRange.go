package simpleAlloc

import (
	"sort"
)

// pageRange represents a run of consecutive page frames
type pageRange struct{ start, count int64 }

// end returns the pfn one past the last page of the range
func (r *pageRange) end() int64 {
	return r.start + r.count
}

func (r *pageRange) contains(pfn int64) bool {
	return r.start <= pfn && pfn < r.end()
}

// pageRangesByStart is a slice of pageRanges which supports sorting by range start
type pageRangesByStart []pageRange

func (s pageRangesByStart) Len() int {
	return len(s)
}

func (s pageRangesByStart) Less(i, j int) bool {
	return s[i].start < s[j].start
}

func (s pageRangesByStart) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// sortPageRanges sorts the given pageRange slice by range start
func sortPageRanges(ranges []pageRange) []pageRange {
	sort.Sort(pageRangesByStart(ranges))
	return ranges
}

// compPageRanges compares the given page range slices
func compPageRanges(a, b []pageRange) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// alignUp rounds pfn up to the next multiple of size (a power of two)
func alignUp(pfn, size int64) int64 {
	return (pfn + size - 1) &^ (size - 1)
}
