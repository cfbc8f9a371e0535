// Copyright 2026 The OSAlloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows

package osalloc

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var errNoMem error = windows.ERROR_NOT_ENOUGH_MEMORY

func mmap(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}

	if addr&uintptr(osPageMask) != 0 {
		panic("internal error")
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func munmap(addr unsafe.Pointer, size int) error {
	// MEM_RELEASE frees the whole VirtualAlloc region; the size must be 0.
	return windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE)
}
