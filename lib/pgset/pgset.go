//
// Copyright: (C) 2024 Membox Inc.  All rights reserved.
//

// Package pgset holds the page descriptor arena handed to a page allocation
// strategy at init time.
//
// A PageSet owns one descriptor per physical page frame and provides the
// bijection between a descriptor and its page frame number (pfn). Both
// directions are O(1) and defined for every frame in the set. Descriptors
// carry no allocator state; free-list bookkeeping is private to each
// allocation strategy.
//
// A PageSet may optionally be backed by an anonymous memory mapping, in
// which case the payload of each page is addressable via Data(). Strategies
// never touch page payloads; the backing exists for the callers that consume
// the pages handed out by a strategy.
package pgset

import (
	"fmt"
)

// Pfn is a page frame number: the position of a page within the total
// ordering of all managed pages.
type Pfn uint64

// PageDesc describes one physical page frame.
type PageDesc struct {
	pfn Pfn
}

// PageSet is the backing array of page descriptors for one pool.
type PageSet struct {
	descs    []PageDesc
	data     []byte
	pageSize int
}

// New creates a PageSet of numPages descriptors with no payload backing.
func New(numPages uint64) (*PageSet, error) {
	if numPages == 0 {
		return nil, fmt.Errorf("page set must have at least one page")
	}

	s := &PageSet{
		descs: make([]PageDesc, numPages),
	}
	for i := range s.descs {
		s.descs[i].pfn = Pfn(i)
	}

	return s, nil
}

// NewMapped creates a PageSet of numPages descriptors whose page payloads
// are backed by an anonymous memory mapping of numPages * pageSize bytes.
func NewMapped(numPages uint64, pageSize int) (*PageSet, error) {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("page size must be a power of 2; got %v", pageSize)
	}

	s, err := New(numPages)
	if err != nil {
		return nil, err
	}

	data, err := mapPages(int(numPages) * pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to map page payloads: %v", err)
	}

	s.data = data
	s.pageSize = pageSize
	return s, nil
}

// NumPages returns the number of page frames in the set.
func (s *PageSet) NumPages() uint64 {
	return uint64(len(s.descs))
}

// PageSize returns the payload size of each page, or 0 when the set has no
// payload backing.
func (s *PageSet) PageSize() int {
	return s.pageSize
}

// Mapped reports whether page payloads are backed by memory.
func (s *PageSet) Mapped() bool {
	return s.data != nil
}

// PageAt returns the descriptor for the given pfn. The pfn must be within
// the set.
func (s *PageSet) PageAt(pfn Pfn) *PageDesc {
	return &s.descs[pfn]
}

// PfnOf returns the page frame number of the given descriptor.
func (s *PageSet) PfnOf(pg *PageDesc) Pfn {
	return pg.pfn
}

// Data returns the payload bytes of the given page, or nil when the set has
// no payload backing.
func (s *PageSet) Data(pfn Pfn) []byte {
	if s.data == nil {
		return nil
	}
	off := int(pfn) * s.pageSize
	return s.data[off : off+s.pageSize]
}

// Close releases the payload backing, if any. The PageSet must not be used
// afterwards.
func (s *PageSet) Close() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return unmapPages(data)
}
