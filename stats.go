// Copyright 2026 The OSAlloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package osalloc

// Stats is a point-in-time snapshot of an Allocator's bookkeeping.
type Stats struct {
	Allocs      int // live allocations, break-backed and mapped
	Mmaps       int // live standalone mappings
	BrkBytes    int // total bytes obtained via the break since creation
	MappedBytes int // bytes in live standalone mappings
	FreeBytes   int // bytes in free break-region blocks, headers included
	FreeBlocks  int // free blocks on the break-region list
	ListBlocks  int // all blocks on the break-region list
}

// Stats walks the break-region list and returns the current counters.
func (a *Allocator) Stats() Stats {
	s := Stats{
		Allocs:      a.allocs,
		Mmaps:       a.mmaps,
		BrkBytes:    a.brkBytes,
		MappedBytes: a.mapBytes,
	}
	for b := a.base; b != nil; b = b.next {
		s.ListBlocks++
		if b.kind == blockFree {
			s.FreeBlocks++
			s.FreeBytes += int(b.size)
		}
	}
	return s
}
