// Package gate installs the segment descriptors and the task state segment
// and performs the one-way switch from the kernel to the first user process.
package gate

import (
	"lumenos/kernel"
	"lumenos/kernel/cpu"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mm"
	"lumenos/kernel/mm/vmm"
	"lumenos/kernel/proc"
)

// PrivilegedStackFrames is the number of contiguous frames backing the stack
// the CPU switches to when an interrupt arrives while user code runs.
const PrivilegedStackFrames = 16

// State describes the privilege context the boot path is in.
type State uint8

const (
	// StateKernelInit is the initial state: the kernel still runs its
	// bootstrap code in ring 0.
	StateKernelInit State = iota

	// StateUserExecuting is entered exactly once, right before control
	// passes to the first process in ring 3.
	StateUserExecuting
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateKernelInit:
		return "kernel-init"
	case StateUserExecuting:
		return "user-executing"
	default:
		return "unknown"
	}
}

// StackAllocator is implemented by frame allocators that can reserve a run
// of physically contiguous frames.
type StackAllocator interface {
	AllocContiguous(count uint32) mm.Frame
}

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	loadGDTFn           = loadGDT
	reloadSegmentsFn    = reloadSegments
	loadTSSFn           = loadTSS
	enterUserModeFn     = enterUserMode
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	activatePDTFn       = vmm.PageDirectoryTable.Activate

	errAlreadyInitialized = &kernel.Error{Module: "gate", Message: "descriptor tables already installed"}
	errNotInitialized     = &kernel.Error{Module: "gate", Message: "descriptor tables not installed"}
	errNoPrivilegedStack  = &kernel.Error{Module: "gate", Message: "out of memory while allocating the privileged stack"}
	errNoFirstProcess     = &kernel.Error{Module: "gate", Message: "first process slot is empty"}
	errAlreadyInUserMode  = &kernel.Error{Module: "gate", Message: "transition to user mode already performed"}
)

// Transition owns the descriptor table and the task state segment and drives
// the switch to ring 3. A single instance exists per machine; it must not be
// moved or copied once Init has loaded its tables.
type Transition struct {
	state     State
	installed bool

	stackFrame mm.Frame

	tss TaskStateSegment
	gdt DescriptorTable
}

// State returns the current state.
func (tr *Transition) State() State {
	return tr.state
}

// TSS returns the task state segment.
func (tr *Transition) TSS() *TaskStateSegment {
	return &tr.tss
}

// GDT returns the descriptor table.
func (tr *Transition) GDT() *DescriptorTable {
	return &tr.gdt
}

// Init reserves the privileged stack, builds the task state segment and the
// descriptor table, loads the table, reloads the kernel segment registers and
// installs the task state segment. The tables become active immediately, so
// they are fully populated before anything is loaded. Init may only be
// called once.
func (tr *Transition) Init(alloc StackAllocator) *kernel.Error {
	if tr.installed {
		return errAlreadyInitialized
	}

	tr.stackFrame = alloc.AllocContiguous(PrivilegedStackFrames)
	if !tr.stackFrame.Valid() {
		return errNoPrivilegedStack
	}

	// Stacks grow downwards; RSP0 points past the end of the run.
	stackTop := mm.PhysToVirt(tr.stackFrame.Address() + PrivilegedStackFrames*mm.PageSize)
	tr.tss.Reset()
	tr.tss.SetPrivilegeStack(0, stackTop)
	tr.gdt.Init(&tr.tss)

	gdtr := tr.gdt.Pointer()
	loadGDTFn(&gdtr)
	reloadSegmentsFn(KernelCodeSelector, KernelDataSelector)
	loadTSSFn(TSSSelector)
	tr.installed = true

	kfmt.Printf("[gate] descriptor tables loaded; privileged stack top: 0x%x\n", stackTop)
	return nil
}

// EnterUserMode transfers control to the entry point of the first process in
// processes and drops to ring 3. Interrupts stay masked while the active page
// table is switched to the one of the first process and are enabled right
// before the data segment registers are set to the user data selector. An
// IRETQ frame built on the user stack of the process drops privileges.
//
// On success EnterUserMode never returns. It returns an error if Init has
// not completed, the first process slot is empty or the transition has
// already been performed; callers must treat all of these as fatal.
func (tr *Transition) EnterUserMode(processes *proc.Table) *kernel.Error {
	if tr.state != StateKernelInit {
		return errAlreadyInUserMode
	}

	if !tr.installed {
		return errNotInitialized
	}

	first, err := processes.Lookup(proc.FirstSlot)
	if err != nil {
		return err
	}
	if first == nil {
		return errNoFirstProcess
	}

	kfmt.Printf("[gate] switching to the first process: root table 0x%x, entry 0x%x\n", first.RootFrame().Address(), first.Entry())
	tr.state = StateUserExecuting

	disableInterruptsFn()
	activatePDTFn(first.PDT())

	// Interrupts are the only way back to ring 0 once user code runs.
	enableInterruptsFn()
	enterUserModeFn(first.Entry(), first.StackTop(), UserCodeSelector, UserDataSelector)

	return nil
}
