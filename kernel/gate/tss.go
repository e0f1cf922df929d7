package gate

import "encoding/binary"

const (
	// tssSize is the size of the 64-bit task state segment.
	tssSize = 104

	tssPrivilegeStackOffset = 4
	tssIOMapBaseOffset      = 102
)

// TaskStateSegment holds the 64-bit TSS in its hardware layout. The
// hardware layout places 64-bit fields at 4-byte aligned offsets, so the
// segment is kept as raw bytes and fields are encoded explicitly.
type TaskStateSegment [tssSize]byte

// Reset clears all stack pointers and disables the I/O permission bitmap by
// pointing its base past the end of the segment.
func (tss *TaskStateSegment) Reset() {
	*tss = TaskStateSegment{}
	binary.LittleEndian.PutUint16(tss[tssIOMapBaseOffset:], tssSize)
}

// SetPrivilegeStack sets the stack pointer loaded by the CPU when switching
// to the given privilege level (0-2).
func (tss *TaskStateSegment) SetPrivilegeStack(level int, stackTop uintptr) {
	binary.LittleEndian.PutUint64(tss[tssPrivilegeStackOffset+level*8:], uint64(stackTop))
}

// PrivilegeStack returns the stack pointer for the given privilege level.
func (tss *TaskStateSegment) PrivilegeStack(level int) uintptr {
	return uintptr(binary.LittleEndian.Uint64(tss[tssPrivilegeStackOffset+level*8:]))
}

// IOMapBase returns the offset of the I/O permission bitmap.
func (tss *TaskStateSegment) IOMapBase() uint16 {
	return binary.LittleEndian.Uint16(tss[tssIOMapBaseOffset:])
}
