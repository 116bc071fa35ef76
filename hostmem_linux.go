//go:build linux

package main

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pinHostMemory makes allocHostFloats mlock its mappings so the pages stay
// resident across host-device copies. Locking is subject to RLIMIT_MEMLOCK.
var pinHostMemory = false

// allocHostFloats maps n float32s of anonymous, page-aligned memory.
// The returned release function unmaps it.
func allocHostFloats(n int) ([]float32, func() error, error) {
	size := n * int(unsafe.Sizeof(float32(0)))
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	pinned := pinHostMemory
	if pinned {
		if err := unix.Mlock(mem); err != nil {
			_ = unix.Munmap(mem)
			return nil, nil, fmt.Errorf("mlock %d bytes: %w", size, err)
		}
	}

	data := unsafe.Slice((*float32)(unsafe.Pointer(&mem[0])), n)
	release := func() error {
		if pinned {
			_ = unix.Munlock(mem)
		}
		if err := unix.Munmap(mem); err != nil {
			return fmt.Errorf("munmap %d bytes: %w", size, err)
		}
		return nil
	}
	return data, release, nil
}
