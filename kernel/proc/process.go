// Package proc keeps track of the processes known to the kernel and builds
// the address space of the first process.
package proc

import (
	"lumenos/kernel/mm"
	"lumenos/kernel/mm/vmm"
)

// Process describes a process address space.
type Process struct {
	pdt vmm.PageDirectoryTable

	entry    uintptr
	stackTop uintptr
}

// NewProcess returns a process that runs in the address space described by
// pdt, starting at entry with the stack pointer set to stackTop.
func NewProcess(pdt vmm.PageDirectoryTable, entry, stackTop uintptr) Process {
	return Process{pdt: pdt, entry: entry, stackTop: stackTop}
}

// PDT returns the top-level page table of the process.
func (p *Process) PDT() vmm.PageDirectoryTable {
	return p.pdt
}

// RootFrame returns the physical frame holding the top-level page table of
// the process.
func (p *Process) RootFrame() mm.Frame {
	return p.pdt.Frame()
}

// Entry returns the virtual address where the process starts executing.
func (p *Process) Entry() uintptr {
	return p.entry
}

// StackTop returns the initial user stack pointer of the process.
func (p *Process) StackTop() uintptr {
	return p.stackTop
}
