package mm

import (
	"lumenos/kernel"
	"unsafe"
)

var (
	// physOffset is the virtual address at which the bootloader's
	// higher-half direct map (HHDM) exposes physical address 0.
	physOffset uintptr

	errPlaceEmpty     = &kernel.Error{Module: "mm", Message: "cannot place an empty physical range"}
	errPlaceAlignment = &kernel.Error{Module: "mm", Message: "physical range is not word aligned"}
	errPlaceOverflow  = &kernel.Error{Module: "mm", Message: "physical range overflows the address space"}
)

// SetPhysOffset sets the virtual address where physical address 0 is mapped
// by the direct map.
func SetPhysOffset(offset uintptr) {
	physOffset = offset
}

// PhysToVirt returns the direct-map virtual address for physAddr.
func PhysToVirt(physAddr uintptr) uintptr {
	return physOffset + physAddr
}

// PlaceWords overlays a []uint64 on top of the physical range
// [base, base+length) accessed through the direct map. The range must be
// non-empty, word-aligned and must not wrap around the address space.
//
// The returned slice aliases physical memory; the caller becomes its sole
// owner and must not hand out other references to the same range.
func PlaceWords(base, length uintptr) ([]uint64, *kernel.Error) {
	const wordSize = uintptr(8)

	switch {
	case length == 0:
		return nil, errPlaceEmpty
	case base%wordSize != 0 || length%wordSize != 0:
		return nil, errPlaceAlignment
	case base+length < base, PhysToVirt(base)+length < PhysToVirt(base):
		return nil, errPlaceOverflow
	}

	return unsafe.Slice((*uint64)(unsafe.Pointer(PhysToVirt(base))), length/wordSize), nil
}
