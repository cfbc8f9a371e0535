// Copyright 2026 The OSAlloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows

package osalloc

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// brkRegion emulates the program break over VirtualAlloc's two-step model:
// brkCapacity bytes of address space are reserved on first use and pages are
// committed as the break advances into them. Exhausting the reservation is
// the emulated kernel refusal.
type brkRegion struct {
	base   uintptr
	off    int
	commit int // committed prefix, a page multiple
}

// grow moves the break forward by delta bytes and returns the old break.
// grow(0) reads the break without reserving anything.
func (r *brkRegion) grow(delta uintptr) (unsafe.Pointer, error) {
	if r.base == 0 {
		if delta == 0 {
			return nil, nil
		}

		addr, err := windows.VirtualAlloc(0, brkCapacity,
			windows.MEM_RESERVE, windows.PAGE_NOACCESS)
		if err != nil {
			return nil, err
		}

		r.base = addr
	}

	if delta > uintptr(brkCapacity-r.off) {
		return nil, errNoMem
	}

	end := r.off + int(delta)
	if end > r.commit {
		grown := roundup(end-r.commit, osPageSize)
		_, err := windows.VirtualAlloc(r.base+uintptr(r.commit), uintptr(grown),
			windows.MEM_COMMIT, windows.PAGE_READWRITE)
		if err != nil {
			return nil, err
		}

		r.commit += grown
	}

	p := unsafe.Pointer(r.base + uintptr(r.off))
	r.off = end
	return p, nil
}

func (r *brkRegion) release() error {
	if r.base == 0 {
		return nil
	}

	base := r.base
	*r = brkRegion{}
	return windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}
