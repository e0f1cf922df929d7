package proc

import (
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mm"
	"lumenos/kernel/mm/vmm"
)

const (
	// FirstSlot is the table slot reserved for the first process.
	FirstSlot = 0

	// UserStackPages is the number of pages backing the stack of the first
	// process.
	UserStackPages = 4

	// UserStackTop is the initial stack pointer of the first process. The
	// page right below the top of the lower half is left unmapped.
	UserStackTop = uintptr(0x00007ffffffff000)

	userStackBottom = UserStackTop - UserStackPages*mm.PageSize
)

// FrameAllocator is implemented by physical frame allocators that can back
// page tables.
type FrameAllocator interface {
	AllocFrame() mm.Frame
}

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	pdtInitFn   = (*vmm.PageDirectoryTable).Init
	activePDTFn = vmm.ActivePDT
	translateFn = vmm.PageDirectoryTable.Translate
	mapFn       = vmm.PageDirectoryTable.Map
	zeroFrameFn = zeroFrame

	errAlreadyBootstrapped = &kernel.Error{Module: "proc", Message: "first process already bootstrapped"}
	errNoRootFrame         = &kernel.Error{Module: "proc", Message: "out of memory while allocating the page table root"}
	errNoStackFrame        = &kernel.Error{Module: "proc", Message: "out of memory while allocating the user stack"}
	errBadEntry            = &kernel.Error{Module: "proc", Message: "entry point is not a user space address"}
)

// BootstrapFirst builds the address space of the first process and stores
// it in FirstSlot. The new top-level page table is backed by a frame from
// alloc and shares the kernel half of the currently active table. On top of
// that it maps, with user access:
//   - the page holding entry, backed by the same frame the active table
//     maps it to;
//   - UserStackPages zeroed frames from alloc right below UserStackTop.
//
// Lower level tables are allocated by the mapper through mm.AllocFrame.
//
// The table lock is held for the whole operation, so the allocator lock is
// acquired while holding it. BootstrapFirst fails if the first slot is
// already populated, entry is not a user space address or memory runs out;
// all of these are fatal during boot.
func (t *Table) BootstrapFirst(alloc FrameAllocator, entry uintptr) (*Process, *kernel.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.occupied[FirstSlot] {
		return nil, errAlreadyBootstrapped
	}

	if entry == 0 || entry >= userStackBottom {
		return nil, errBadEntry
	}

	rootFrame := alloc.AllocFrame()
	if !rootFrame.Valid() {
		return nil, errNoRootFrame
	}

	var pdt vmm.PageDirectoryTable
	if err := pdtInitFn(&pdt, rootFrame); err != nil {
		return nil, err
	}

	codeAddr, err := translateFn(activePDTFn(), entry)
	if err != nil {
		return nil, err
	}

	if err = mapFn(pdt, mm.PageFromAddress(entry), mm.FrameFromAddress(codeAddr), vmm.FlagPresent|vmm.FlagUserAccessible); err != nil {
		return nil, err
	}

	for page := mm.PageFromAddress(userStackBottom); page < mm.PageFromAddress(UserStackTop); page++ {
		stackFrame := alloc.AllocFrame()
		if !stackFrame.Valid() {
			return nil, errNoStackFrame
		}

		zeroFrameFn(stackFrame)
		if err = mapFn(pdt, page, stackFrame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); err != nil {
			return nil, err
		}
	}

	if err = t.insert(FirstSlot, NewProcess(pdt, entry, UserStackTop)); err != nil {
		return nil, err
	}

	kfmt.Printf("[proc] first process page table root at 0x%x; entry 0x%x; stack top 0x%x\n", rootFrame.Address(), entry, UserStackTop)
	return &t.processes[FirstSlot], nil
}

func zeroFrame(frame mm.Frame) {
	kernel.Memset(mm.PhysToVirt(frame.Address()), 0, mm.PageSize)
}
