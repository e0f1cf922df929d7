package gate

import (
	"encoding/binary"
	"unsafe"
)

// Segment selectors for the descriptors installed by DescriptorTable. The
// low two bits of each selector hold the requested privilege level.
const (
	KernelCodeSelector = uint16(0x08)
	KernelDataSelector = uint16(0x10)
	UserCodeSelector   = uint16(0x1b)
	UserDataSelector   = uint16(0x23)
	TSSSelector        = uint16(0x28)
)

// SegmentDescriptor is an encoded 8-byte GDT entry.
type SegmentDescriptor uint64

// Descriptor bits for code and data segments.
const (
	segAccessed    = SegmentDescriptor(1) << 40
	segWritable    = SegmentDescriptor(1) << 41
	segExecutable  = SegmentDescriptor(1) << 43
	segUserSegment = SegmentDescriptor(1) << 44
	segDPLRing3    = SegmentDescriptor(3) << 45
	segPresent     = SegmentDescriptor(1) << 47
	segLongMode    = SegmentDescriptor(1) << 53
	segDefaultSize = SegmentDescriptor(1) << 54
	segGranularity = SegmentDescriptor(1) << 55

	segLimit0To15  = SegmentDescriptor(0xffff)
	segLimit16To19 = SegmentDescriptor(0xf) << 48

	// segCommon is shared by all flat code and data segments. Base and
	// limit are ignored in long mode but are set to cover the full
	// address space for compatibility.
	segCommon = segUserSegment | segPresent | segWritable | segAccessed |
		segLimit0To15 | segLimit16To19 | segGranularity
)

// Flat segment descriptors used by the kernel and by user code.
const (
	KernelCodeDescriptor = segCommon | segExecutable | segLongMode
	KernelDataDescriptor = segCommon | segDefaultSize
	UserCodeDescriptor   = KernelCodeDescriptor | segDPLRing3
	UserDataDescriptor   = KernelDataDescriptor | segDPLRing3
)

const (
	// tssTypeAvailable is the system segment type of an available 64-bit
	// TSS.
	tssTypeAvailable = uint64(0x9) << 40

	// gdtEntries is the number of 8-byte slots in the table; the TSS
	// descriptor occupies two of them.
	gdtEntries = 7
)

// TSSDescriptor encodes the 16-byte system segment descriptor for the TSS
// stored at tssAddr.
func TSSDescriptor(tssAddr uintptr) (low, high uint64) {
	base := uint64(tssAddr)

	low = uint64(segPresent) | tssTypeAvailable | uint64(tssSize-1)
	low |= (base & 0xffffff) << 16
	low |= ((base >> 24) & 0xff) << 56
	high = base >> 32
	return low, high
}

// DescriptorTable is a global descriptor table with a fixed layout: the null
// descriptor, kernel code, kernel data, user code, user data and the TSS
// descriptor. The index of each entry matches its selector.
type DescriptorTable struct {
	entries [gdtEntries]uint64
}

// Init populates the table. tss must remain at the same address for as long
// as the table is loaded.
func (gdt *DescriptorTable) Init(tss *TaskStateSegment) {
	gdt.entries[0] = 0
	gdt.entries[KernelCodeSelector>>3] = uint64(KernelCodeDescriptor)
	gdt.entries[KernelDataSelector>>3] = uint64(KernelDataDescriptor)
	gdt.entries[UserCodeSelector>>3] = uint64(UserCodeDescriptor)
	gdt.entries[UserDataSelector>>3] = uint64(UserDataDescriptor)
	gdt.entries[TSSSelector>>3], gdt.entries[TSSSelector>>3+1] = TSSDescriptor(uintptr(unsafe.Pointer(tss)))
}

// Entry returns the raw descriptor stored at index.
func (gdt *DescriptorTable) Entry(index int) uint64 {
	return gdt.entries[index]
}

// DescriptorTablePointer is the packed 10-byte operand of the LGDT
// instruction: a 16-bit limit followed by the 64-bit table address.
type DescriptorTablePointer [10]byte

// Pointer returns the LGDT operand for this table.
func (gdt *DescriptorTable) Pointer() DescriptorTablePointer {
	var ptr DescriptorTablePointer
	binary.LittleEndian.PutUint16(ptr[0:], uint16(unsafe.Sizeof(gdt.entries)-1))
	binary.LittleEndian.PutUint64(ptr[2:], uint64(uintptr(unsafe.Pointer(&gdt.entries[0]))))
	return ptr
}

// Limit returns the table limit encoded in the pointer.
func (ptr *DescriptorTablePointer) Limit() uint16 {
	return binary.LittleEndian.Uint16(ptr[0:])
}

// Base returns the table address encoded in the pointer.
func (ptr *DescriptorTablePointer) Base() uintptr {
	return uintptr(binary.LittleEndian.Uint64(ptr[2:]))
}
