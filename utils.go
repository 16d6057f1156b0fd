//
// Copyright: (C) 2024 Membox Inc.  All rights reserved.
//

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/membox/pgalloc-mgr/lib/pgset"
)

// pageRangeSpec is a page range given on the command line
type pageRangeSpec struct {
	start pgset.Pfn
	count uint64
}

func (r pageRangeSpec) String() string {
	return fmt.Sprintf("%d:%d", r.start, r.count)
}

func (r pageRangeSpec) overlaps(o pageRangeSpec) bool {
	return uint64(r.start) < uint64(o.start)+o.count &&
		uint64(o.start) < uint64(r.start)+r.count
}

// parsePageRange parses a "start:count" page range spec
func parsePageRange(s string) (pageRangeSpec, error) {
	fields := strings.Split(s, ":")
	if len(fields) != 2 {
		return pageRangeSpec{}, fmt.Errorf("invalid page range %q; want start:count", s)
	}

	start, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return pageRangeSpec{}, fmt.Errorf("invalid page range start %q: %v", fields[0], err)
	}

	count, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return pageRangeSpec{}, fmt.Errorf("invalid page range count %q: %v", fields[1], err)
	}
	if count == 0 {
		return pageRangeSpec{}, fmt.Errorf("invalid page range %q; count must be > 0", s)
	}

	return pageRangeSpec{pgset.Pfn(start), count}, nil
}

// parsePageRanges parses a list of "start:count" specs
func parsePageRanges(specs []string) ([]pageRangeSpec, error) {
	var ranges []pageRangeSpec

	for _, s := range specs {
		r, err := parsePageRange(s)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}

	return ranges, nil
}
