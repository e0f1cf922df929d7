//go:build unix

package main

import (
	"errors"
	"fmt"
	"unsafe"

	"lumenos/kernel/mm"

	"golang.org/x/sys/unix"
)

// physMem is an anonymous mapping that stands in for physical memory. Pages
// are only backed by host memory once touched, so large address spaces can
// be simulated cheaply.
type physMem struct {
	data []byte
}

// mapPhysMem reserves size bytes of simulated physical memory and points the
// direct map at it.
func mapPhysMem(size uint64) (*physMem, error) {
	if size == 0 || size > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("cannot simulate %d bytes of physical memory", size)
	}

	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping simulated physical memory: %w", err)
	}

	mm.SetPhysOffset(uintptr(unsafe.Pointer(&data[0])))
	return &physMem{data: data}, nil
}

// Close releases the mapping.
func (mem *physMem) Close() error {
	if mem.data == nil {
		return nil
	}

	mm.SetPhysOffset(0)
	err := unix.Munmap(mem.data)
	mem.data = nil
	if errors.Is(err, unix.EINVAL) {
		return nil
	}
	return err
}
