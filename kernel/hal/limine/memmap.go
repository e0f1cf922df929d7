// Package limine exposes the boot data handed over by a Limine-compliant
// bootloader. Only the memory map response is consumed by the kernel core.
package limine

import "unsafe"

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint64

const (
	// MemUsable indicates that the memory region is available for use.
	MemUsable MemoryEntryType = iota

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI tables
	// that can be reused by the OS once they have been parsed.
	MemAcpiReclaimable

	// MemAcpiNvs indicates memory that must be preserved across sleep states.
	MemAcpiNvs

	// MemBad indicates a memory region that was reported as defective.
	MemBad

	// MemBootloaderReclaimable indicates memory holding bootloader data
	// structures (including this memory map) that can be reclaimed later.
	MemBootloaderReclaimable

	// MemKernelAndModules indicates memory occupied by the kernel image and
	// the modules loaded alongside it.
	MemKernelAndModules

	// MemFramebuffer indicates memory backing the framebuffer.
	MemFramebuffer

	// MemUnknown is reported for any entry type not listed above.
	MemUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemUsable:
		return "usable"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemAcpiNvs:
		return "ACPI NVS"
	case MemBad:
		return "bad memory"
	case MemBootloaderReclaimable:
		return "bootloader (reclaimable)"
	case MemKernelAndModules:
		return "kernel and modules"
	case MemFramebuffer:
		return "framebuffer"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// SupportedRevision is the newest memory map response revision whose layout
// is understood by this package.
const SupportedRevision = 0

// memoryMapResponse mirrors the layout of the response the bootloader
// installs for a memory map request.
type memoryMapResponse struct {
	revision   uint64
	entryCount uint64

	// entries points to an array of entryCount *MemoryMapEntry values
	// sorted by ascending base address.
	entries uintptr
}

var (
	memMapResponsePtr uintptr
)

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// SetMemoryMapPtr updates the internal memory map response pointer to the
// given value. A zero value means that the bootloader did not answer the
// memory map request.
func SetMemoryMapPtr(ptr uintptr) {
	memMapResponsePtr = ptr
}

// Available returns true if the bootloader supplied a memory map.
func Available() bool {
	if memMapResponsePtr == 0 {
		return false
	}

	resp := (*memoryMapResponse)(unsafe.Pointer(memMapResponsePtr))
	return resp.entryCount != 0 && resp.entries != 0
}

// Revision returns the revision of the memory map response or 0 if the
// bootloader did not answer the memory map request.
func Revision() uint64 {
	if memMapResponsePtr == 0 {
		return 0
	}

	return (*memoryMapResponse)(unsafe.Pointer(memMapResponsePtr)).revision
}

// VisitMemRegions invokes the supplied visitor for each memory region in the
// order reported by the bootloader. It is a no-op if no memory map is
// available or its revision is newer than SupportedRevision. Entries with an
// unrecognized type are reported as MemUnknown.
func VisitMemRegions(visitor MemRegionVisitor) {
	if !Available() || Revision() > SupportedRevision {
		return
	}

	resp := (*memoryMapResponse)(unsafe.Pointer(memMapResponsePtr))
	ptrSize := unsafe.Sizeof(uintptr(0))
	for index := uint64(0); index < resp.entryCount; index++ {
		entry := *(**MemoryMapEntry)(unsafe.Pointer(resp.entries + uintptr(index)*ptrSize))
		if entry == nil {
			continue
		}

		if entry.Type > MemUnknown {
			entry.Type = MemUnknown
		}

		if !visitor(entry) {
			return
		}
	}
}
