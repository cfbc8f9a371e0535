// Copyright 2026 The OSAlloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package osalloc implements a malloc-style memory allocator on top of two
// kernel primitives: a contiguous break-style heap region and per-allocation
// anonymous mappings.
//
// Small requests are served from the break region, a single address-ordered
// list of blocks managed with a best-fit policy, splitting and eager
// coalescing of adjacent free blocks. Requests of at least 128 KB bypass the
// list entirely and get a standalone anonymous mapping that is returned to
// the kernel on Free. The first small request reserves the break region in
// one step, so subsequent small requests cost no kernel calls until the pool
// runs out.
//
// An Allocator is not safe for concurrent use. Callers that share one across
// goroutines must serialize access themselves.
package osalloc

import (
	"fmt"
	"os"
	"unsafe"
)

const (
	blockAlign = 8
	intBits    = 1 << (^uint(0)>>32&1 + ^uint(0)>>16&1 + ^uint(0)>>8&1 + 3)

	// mmapThreshold is the aligned size at and above which Malloc stops
	// using the break region and maps the block on its own. Calloc uses
	// the OS page size instead: mapped memory arrives zeroed, so the
	// zeroed path can afford the lower cutoff.
	mmapThreshold = 128 << 10

	// brkCapacity is the address space reserved for the break region of
	// one Allocator: 1<<29 on 32-bit, 1<<30 on 64-bit hosts. The pages
	// are committed lazily, untouched capacity costs address space only.
	brkCapacity = 1 << (intBits/32 + 28)

	trace = false
)

var (
	headerSize = roundup(int(unsafe.Sizeof(block{})), blockAlign)
	osPageSize = os.Getpagesize()
	osPageMask = osPageSize - 1
	maxInt     = int(^uint(0) >> 1)
)

// if n%m != 0 { n += m-n%m }. m must be a power of 2.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

type blockKind byte

const (
	blockFree blockKind = iota
	blockAlloc
	blockMapped
)

// block is the in-band header preceding every user region. size is the total
// byte count of the block including the header and is always a multiple of
// blockAlign. next threads break-region blocks in address order; mapped
// blocks are standalone and keep next nil.
type block struct {
	size uintptr
	next *block
	kind blockKind
}

func (b *block) user() unsafe.Pointer { return unsafe.Add(unsafe.Pointer(b), headerSize) }

func (b *block) end() uintptr { return uintptr(unsafe.Pointer(b)) + b.size }

func (b *block) userSize() int { return int(b.size) - headerSize }

func hdr(p unsafe.Pointer) *block { return (*block)(unsafe.Add(p, -headerSize)) }

// alignedSize is the canonical block size for a user request: the aligned
// header plus the request rounded up to blockAlign.
func alignedSize(size int) uintptr {
	return uintptr(headerSize + roundup(size, blockAlign))
}

// Allocator allocates and frees memory. Its zero value is ready for use.
//
// Out-of-memory conditions (the kernel refusing a mapping, or the break
// region's reserved capacity running out) surface as a nil result with a
// non-nil error; the Allocator never aborts the process.
type Allocator struct {
	base *block    // first break-region block, address-ordered list
	brk  brkRegion // emulated program break
	regs map[*block]struct{}

	allocs   int // # of live allocations
	mmaps    int // # of live standalone mappings
	brkBytes int // total bytes obtained via the break, never returned
	mapBytes int // bytes in live standalone mappings
}

// sbrk advances the emulated break and accounts for the growth.
func (a *Allocator) sbrk(delta uintptr) (unsafe.Pointer, error) {
	p, err := a.brk.grow(delta)
	if err != nil {
		return nil, err
	}

	a.brkBytes += int(delta)
	return p, nil
}

// prealloc reserves the whole break pool up front: one break extension of
// mmapThreshold bytes holding a single free block that becomes the list root.
func (a *Allocator) prealloc() error {
	p, err := a.sbrk(mmapThreshold)
	if err != nil {
		return err
	}

	b := (*block)(p)
	b.size = mmapThreshold
	b.next = nil
	b.kind = blockFree
	a.base = b
	return nil
}

// coalesce merges every run of adjacent free blocks and returns the list
// tail. Break-region blocks tile the region contiguously, so list order is
// address order and list neighbors are memory neighbors.
func (a *Allocator) coalesce() (tail *block) {
	for b := a.base; b != nil; b = b.next {
		if b.kind == blockFree {
			for b.next != nil && b.next.kind == blockFree {
				b.size += b.next.size
				b.next = b.next.next
			}
		}
		tail = b
	}
	return tail
}

// bestFit returns the smallest free block of size at least n, ties broken by
// list position, or nil.
func (a *Allocator) bestFit(n uintptr) *block {
	var best *block
	for b := a.base; b != nil; b = b.next {
		if b.kind == blockFree && b.size >= n && (best == nil || b.size < best.size) {
			best = b
		}
	}
	return best
}

// carve trims b to n bytes, splitting off a free suffix block, but only when
// the suffix would itself be a valid block: a header plus at least one
// aligned word of payload. Otherwise b keeps its full size.
func (a *Allocator) carve(b *block, n uintptr) {
	if b.size < n+uintptr(headerSize)+blockAlign {
		return
	}

	rest := (*block)(unsafe.Add(unsafe.Pointer(b), n))
	rest.size = b.size - n
	rest.next = b.next
	rest.kind = blockFree
	b.size = n
	b.next = rest
}

// growTail extends the break so that the free tail block reaches n bytes.
// The tail is the most recent break allocation, so its end is the break.
func (a *Allocator) growTail(tail *block, n uintptr) error {
	delta := n - tail.size
	p, err := a.sbrk(delta)
	if err != nil {
		return err
	}

	if uintptr(p) != tail.end() {
		panic("internal error")
	}

	tail.size += delta
	return nil
}

// allocBrk serves an aligned request of n bytes from the break region.
// Callers guarantee n is below their path's mapping threshold.
func (a *Allocator) allocBrk(n uintptr) (unsafe.Pointer, error) {
	if a.base == nil {
		if err := a.prealloc(); err != nil {
			return nil, err
		}
	}

	tail := a.coalesce()
	if b := a.bestFit(n); b != nil {
		a.carve(b, n)
		b.kind = blockAlloc
		a.allocs++
		return b.user(), nil
	}

	if tail.kind == blockFree {
		if err := a.growTail(tail, n); err != nil {
			return nil, err
		}

		a.carve(tail, n)
		tail.kind = blockAlloc
		a.allocs++
		return tail.user(), nil
	}

	p, err := a.sbrk(n)
	if err != nil {
		return nil, err
	}

	b := (*block)(p)
	b.size = n
	b.next = nil
	b.kind = blockAlloc
	tail.next = b
	a.allocs++
	return b.user(), nil
}

// allocMapped serves an aligned request of n bytes with a standalone
// anonymous mapping. The block never enters the break-region list.
func (a *Allocator) allocMapped(n uintptr) (unsafe.Pointer, error) {
	mem, err := mmap(int(n))
	if err != nil {
		return nil, err
	}

	b := (*block)(unsafe.Pointer(&mem[0]))
	b.size = n
	b.next = nil
	b.kind = blockMapped
	if a.regs == nil {
		a.regs = map[*block]struct{}{}
	}
	a.regs[b] = struct{}{}
	a.mmaps++
	a.mapBytes += int(n)
	a.allocs++
	return b.user(), nil
}

func (a *Allocator) freeMapped(b *block) error {
	delete(a.regs, b)
	a.mmaps--
	a.mapBytes -= int(b.size)
	return munmap(unsafe.Pointer(b), int(b.size))
}

// UnsafeMalloc allocates size bytes and returns a pointer to uninitialized
// memory aligned to 8 bytes. It returns (nil, nil) for zero size and panics
// for negative size. On out of memory it returns (nil, error).
func (a *Allocator) UnsafeMalloc(size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Malloc(%#x) %p, %v\n", size, r, err)
		}()
	}
	if size < 0 {
		panic("invalid malloc size")
	}

	if size == 0 {
		return nil, nil
	}

	n := alignedSize(size)
	if n >= mmapThreshold {
		return a.allocMapped(n)
	}

	return a.allocBrk(n)
}

// UnsafeFree deallocates memory obtained from UnsafeMalloc, UnsafeCalloc or
// UnsafeRealloc (or the slice variants). Freeing nil is a no-op. A
// break-region block is only marked free; merging with its neighbors is
// deferred to the next allocating call. A mapped block is returned to the
// kernel immediately and its user pointer becomes invalid.
func (a *Allocator) UnsafeFree(p unsafe.Pointer) (err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Free(%p) %v\n", p, err)
		}()
	}
	if p == nil {
		return nil
	}

	b := hdr(p)
	switch b.kind {
	case blockAlloc:
		b.kind = blockFree
		a.allocs--
	case blockMapped:
		a.allocs--
		return a.freeMapped(b)
	}
	return nil
}

// UnsafeCalloc allocates memory for nmemb elements of size bytes each and
// zeroes it. It returns (nil, nil) when either count is zero and reports out
// of memory when the product overflows.
func (a *Allocator) UnsafeCalloc(nmemb, size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Calloc(%#x, %#x) %p, %v\n", nmemb, size, r, err)
		}()
	}
	if nmemb < 0 || size < 0 {
		panic("invalid calloc size")
	}

	if nmemb == 0 || size == 0 {
		return nil, nil
	}

	if nmemb > maxInt/size {
		return nil, errNoMem
	}

	total := nmemb * size
	n := alignedSize(total)
	if n >= uintptr(osPageSize) {
		r, err = a.allocMapped(n)
	} else {
		r, err = a.allocBrk(n)
	}
	if err != nil {
		return nil, err
	}

	// Zero the user bytes only. The block may extend past them, but the
	// suffix is either alignment padding or a split-off free block.
	clear(unsafe.Slice((*byte)(r), total))
	return r, nil
}

// UnsafeRealloc resizes the allocation at p to size bytes. A nil p is
// equivalent to UnsafeMalloc(size) and a zero size to UnsafeFree(p).
// Resizing an already-freed break block returns (nil, nil). The result
// pointer equals p whenever the block can be reused in place: the aligned
// size is unchanged, or a break block shrinks, or enough free neighbors
// follow a break block. A mapped block moves on any change of its aligned
// size. Otherwise the data is copied to a fresh block and p is freed.
func (a *Allocator) UnsafeRealloc(p unsafe.Pointer, size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Realloc(%p, %#x) %p, %v\n", p, size, r, err)
		}()
	}
	switch {
	case p == nil:
		return a.UnsafeMalloc(size)
	case size == 0:
		return nil, a.UnsafeFree(p)
	}

	if size < 0 {
		panic("invalid realloc size")
	}

	b := hdr(p)
	n := alignedSize(size)
	switch {
	case b.kind == blockFree:
		return nil, nil
	case b.size == n:
		return p, nil
	case b.kind == blockMapped:
		return a.moveBlock(b, size)
	case b.size > n:
		a.carve(b, n)
		return p, nil
	}

	// Grow in place when enough free neighbors follow the block. The
	// expansion absorbs free successors into an allocated block, which
	// the general coalescing pass never does.
	a.coalesce()
	old := b.size
	for b.size < n && b.next != nil && b.next.kind == blockFree {
		b.size += b.next.size
		b.next = b.next.next
	}
	if b.size >= n {
		a.carve(b, n)
		return p, nil
	}

	// Split the absorbed neighbors off again so that the move copies only
	// the block's original user bytes.
	a.carve(b, old)
	return a.moveBlock(b, size)
}

// moveBlock relocates a live block to a fresh allocation of size user bytes,
// copying the surviving prefix of the user data.
func (a *Allocator) moveBlock(b *block, size int) (unsafe.Pointer, error) {
	r, err := a.UnsafeMalloc(size)
	if err != nil {
		return nil, err
	}

	copied := min(b.userSize(), hdr(r).userSize())
	copy(unsafe.Slice((*byte)(r), copied), unsafe.Slice((*byte)(b.user()), copied))
	return r, a.UnsafeFree(b.user())
}

// Malloc is like UnsafeMalloc but returns the allocated memory as a byte
// slice of length and capacity size.
//
// It's ok to reslice the returned slice but the result of appending to it
// cannot be passed to Free or Realloc as it may refer to a different backing
// array afterwards.
func (a *Allocator) Malloc(size int) ([]byte, error) {
	p, err := a.UnsafeMalloc(size)
	if p == nil || err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(p), size), nil
}

// Calloc is like UnsafeCalloc but returns the zeroed memory as a byte slice.
func (a *Allocator) Calloc(nmemb, size int) ([]byte, error) {
	p, err := a.UnsafeCalloc(nmemb, size)
	if p == nil || err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(p), nmemb*size), nil
}

// Free deallocates memory (as in C.free). The argument of Free must have
// been acquired from Calloc, Malloc or Realloc.
func (a *Allocator) Free(b []byte) error {
	if cap(b) == 0 {
		return nil
	}

	return a.UnsafeFree(unsafe.Pointer(&b[:cap(b)][0]))
}

// Realloc is like UnsafeRealloc but operates on byte slices.
func (a *Allocator) Realloc(b []byte, size int) ([]byte, error) {
	var p unsafe.Pointer
	if cap(b) != 0 {
		p = unsafe.Pointer(&b[:cap(b)][0])
	}
	q, err := a.UnsafeRealloc(p, size)
	if q == nil || err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(q), size), nil
}

// UnsafeUsableSize reports the number of user bytes available in the block
// holding p, which must have been returned from UnsafeCalloc, UnsafeMalloc
// or UnsafeRealloc. It may exceed the requested size by alignment padding
// and by a remainder too small to be split off as a block of its own.
func UnsafeUsableSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}

	return hdr(p).userSize()
}

// UsableSize is like UnsafeUsableSize for the slice API.
func UsableSize(b []byte) int {
	if cap(b) == 0 {
		return 0
	}

	return UnsafeUsableSize(unsafe.Pointer(&b[:cap(b)][0]))
}

// Close releases all OS resources used by a and sets it to its zero value:
// every live mapping and the whole break region go back to the kernel. No
// pointer issued by a may be used afterwards.
//
// It's not necessary to Close the Allocator when exiting a process.
func (a *Allocator) Close() (err error) {
	for b := range a.regs {
		if e := munmap(unsafe.Pointer(b), int(b.size)); e != nil && err == nil {
			err = e
		}
	}
	if e := a.brk.release(); e != nil && err == nil {
		err = e
	}
	*a = Allocator{}
	return err
}
