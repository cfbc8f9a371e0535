// Copyright 2026 The OSAlloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package osalloc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// brkRegion emulates the program break: one private anonymous mapping of
// brkCapacity bytes reserved on first use, with the break advancing inside
// it. The kernel commits pages lazily on first touch, so the reservation
// costs address space until the break reaches it. Exhausting the capacity is
// the emulated kernel refusal.
type brkRegion struct {
	mem []byte
	off int
}

// grow moves the break forward by delta bytes and returns the old break.
// grow(0) reads the break without reserving anything.
func (r *brkRegion) grow(delta uintptr) (unsafe.Pointer, error) {
	if r.mem == nil {
		if delta == 0 {
			return nil, nil
		}

		b, err := mmap(brkCapacity)
		if err != nil {
			return nil, err
		}

		r.mem = b
	}

	if delta > uintptr(len(r.mem)-r.off) {
		return nil, errNoMem
	}

	p := unsafe.Add(unsafe.Pointer(&r.mem[0]), r.off)
	r.off += int(delta)
	return p, nil
}

func (r *brkRegion) release() error {
	if r.mem == nil {
		return nil
	}

	mem := r.mem
	r.mem = nil
	r.off = 0
	return unix.Munmap(mem)
}
