//
// Copyright 2024 Membox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/membox/pgalloc-mgr/intf"
	"github.com/membox/pgalloc-mgr/lib/buddyAlloc"
	"github.com/membox/pgalloc-mgr/lib/pgset"
	"github.com/membox/pgalloc-mgr/lib/simpleAlloc"
)

type mgrConfig struct {
	strategy      string
	numPages      uint64
	maxOrder      int
	mapPages      bool
	pageSize      int
	reserved      []pageRangeSpec
	ops           int
	maxAllocOrder int
	seed          int64
}

// PageMgr is the memory manager that owns the page pool: it holds the page
// set, selects a page allocation strategy by name, seeds it with the pool's
// pages, withdraws reserved ranges, and drives allocation traffic.
type PageMgr struct {
	id       string // pool instance id, for log correlation
	cfg      mgrConfig
	pages    *pgset.PageSet
	alloc    intf.PageAllocator
	reserved mapset.Set // pageRangeSpecs withdrawn from the pool
}

func newMgrConfig(ctx *cli.Context) (mgrConfig, error) {
	cfg := mgrConfig{
		strategy:      ctx.GlobalString("strategy"),
		numPages:      ctx.GlobalUint64("pages"),
		maxOrder:      ctx.GlobalInt("max-order"),
		mapPages:      ctx.GlobalBool("map-pages"),
		pageSize:      ctx.GlobalInt("page-size"),
		ops:           ctx.GlobalInt("ops"),
		maxAllocOrder: ctx.GlobalInt("max-alloc-order"),
		seed:          ctx.GlobalInt64("seed"),
	}

	reserved, err := parsePageRanges(ctx.GlobalStringSlice("reserve"))
	if err != nil {
		return cfg, err
	}
	cfg.reserved = reserved

	return cfg, nil
}

func newPageMgr(ctx *cli.Context) (*PageMgr, error) {
	cfg, err := newMgrConfig(ctx)
	if err != nil {
		return nil, err
	}
	return newPageMgrWithConfig(cfg)
}

func newPageMgrWithConfig(cfg mgrConfig) (*PageMgr, error) {

	if cfg.numPages == 0 {
		return nil, fmt.Errorf("pool must have at least one page")
	}
	if cfg.maxAllocOrder < 0 || cfg.maxAllocOrder > cfg.maxOrder {
		return nil, fmt.Errorf("max-alloc-order must be between 0 and %v; got %v",
			cfg.maxOrder, cfg.maxAllocOrder)
	}

	var pages *pgset.PageSet
	var err error

	if cfg.mapPages {
		pages, err = pgset.NewMapped(cfg.numPages, cfg.pageSize)
	} else {
		pages, err = pgset.New(cfg.numPages)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create page set: %v", err)
	}

	buddy, err := buddyAlloc.New(cfg.maxOrder)
	if err != nil {
		return nil, err
	}
	firstfit, err := simpleAlloc.New(cfg.maxOrder)
	if err != nil {
		return nil, err
	}

	strategies := map[string]intf.PageAllocator{}
	for _, s := range []intf.PageAllocator{buddy, firstfit} {
		strategies[s.Name()] = s
	}

	alloc, ok := strategies[cfg.strategy]
	if !ok {
		names := make([]string, 0, len(strategies))
		for name := range strategies {
			names = append(names, name)
		}
		return nil, fmt.Errorf("unknown strategy %q; available: %v", cfg.strategy, names)
	}

	if err := alloc.Init(pages); err != nil {
		return nil, fmt.Errorf("failed to init %v strategy: %v", alloc.Name(), err)
	}

	mgr := &PageMgr{
		id:       uuid.New().String(),
		cfg:      cfg,
		pages:    pages,
		alloc:    alloc,
		reserved: mapset.NewSet(),
	}

	// seed the pool, then punch out the reserved ranges
	alloc.InsertPageRange(0, pages.NumPages())
	for _, r := range cfg.reserved {
		if err := mgr.Reserve(r); err != nil {
			return nil, err
		}
	}

	logrus.Infof("created page pool %v: %v pages, max order %v, strategy %q",
		mgr.id, cfg.numPages, cfg.maxOrder, alloc.Name())

	return mgr, nil
}

// Reserve withdraws the given range from the pool (e.g. frames occupied by
// firmware or the kernel image). Reserved ranges must be disjoint.
func (m *PageMgr) Reserve(r pageRangeSpec) error {

	if uint64(r.start)+r.count > m.pages.NumPages() {
		return fmt.Errorf("reserved range %v outside the pool (%v pages)", r, m.pages.NumPages())
	}

	for elem := range m.reserved.Iter() {
		prev := elem.(pageRangeSpec)
		if r.overlaps(prev) {
			return fmt.Errorf("reserved range %v overlaps %v", r, prev)
		}
	}

	m.alloc.RemovePageRange(r.start, r.count)
	m.reserved.Add(r)

	logrus.Infof("pool %v: reserved pages %v", m.id, r)
	return nil
}

// usablePages returns the number of pool pages not withdrawn by
// reservations.
func (m *PageMgr) usablePages() uint64 {
	total := m.pages.NumPages()
	for elem := range m.reserved.Iter() {
		total -= elem.(pageRangeSpec).count
	}
	return total
}

type allocation struct {
	pg    *pgset.PageDesc
	order int
}

// runWorkload drives a randomized alloc/free sequence against the selected
// strategy, verifying the alignment of every block handed out and touching
// page payloads when the pool is mapped.
func (m *PageMgr) runWorkload() error {

	seed := m.cfg.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	logrus.Infof("pool %v: running %v ops (seed %v)", m.id, m.cfg.ops, seed)

	var outstanding []allocation
	var allocs, frees, exhausted int

	for i := 0; i < m.cfg.ops; i++ {
		if len(outstanding) == 0 || rng.Intn(2) == 0 {
			order := rng.Intn(m.cfg.maxAllocOrder + 1)

			pg, err := m.alloc.AllocPages(order)
			if errors.Is(err, buddyAlloc.ErrExhausted) || errors.Is(err, simpleAlloc.ErrExhausted) {
				exhausted++
				continue
			}
			if err != nil {
				return fmt.Errorf("alloc of order %v failed: %v", order, err)
			}

			pfn := m.pages.PfnOf(pg)
			if uint64(pfn)%(1<<uint(order)) != 0 {
				return fmt.Errorf("alloc of order %v returned misaligned pfn %#x", order, pfn)
			}

			if m.pages.Mapped() {
				// touch the first byte of every page in the block
				for p := pfn; p < pfn+pgset.Pfn(1<<uint(order)); p++ {
					m.pages.Data(p)[0] = byte(order)
				}
			}

			outstanding = append(outstanding, allocation{pg, order})
			allocs++
		} else {
			n := rng.Intn(len(outstanding))
			a := outstanding[n]
			outstanding[n] = outstanding[len(outstanding)-1]
			outstanding = outstanding[:len(outstanding)-1]

			m.alloc.FreePages(a.pg, a.order)
			frees++
		}
	}

	for _, a := range outstanding {
		m.alloc.FreePages(a.pg, a.order)
		frees++
	}

	logrus.Infof("pool %v: workload done: %v allocs, %v frees, %v exhaustions",
		m.id, allocs, frees, exhausted)

	if counter, ok := m.alloc.(interface{ FreePageCount() uint64 }); ok {
		free := counter.FreePageCount()
		if free != m.usablePages() {
			return fmt.Errorf("free page count after workload: got %v, want %v", free, m.usablePages())
		}
	}

	m.alloc.DumpState()
	return nil
}

// Stop releases the pool's resources.
func (m *PageMgr) Stop() {
	if err := m.pages.Close(); err != nil {
		logrus.Warnf("pool %v: failed to release page payloads: %v", m.id, err)
	}
}
