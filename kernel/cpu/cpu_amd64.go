// Package cpu exposes the privileged x86_64 instructions used by the kernel.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution. Interrupts are disabled before halting so
// Halt never returns.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT loads the supplied value into CR3. The value contains the
// physical address of the root page table in bits 12-51 and the PWT/PCD
// caching flags in its low bits. Writing CR3 flushes all non-global TLB
// entries.
func SwitchPDT(cr3 uintptr)

// ActivePDT returns the raw contents of CR3: the physical address of the
// currently active root page table together with its flag bits.
func ActivePDT() uintptr
