// Package vmm manages amd64 page tables. Tables are reached through the
// bootloader's higher-half direct map so inactive tables can be edited
// without temporary mappings.
package vmm

import (
	"lumenos/kernel"
	"lumenos/kernel/cpu"
	"lumenos/kernel/mm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// PageDirectoryTable describes the top-most table in a multi-level paging scheme.
type PageDirectoryTable struct {
	pdtFrame mm.Frame
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// Init sets up the page directory table stored in pdtFrame. If the frame
// holds the currently active table, Init only records it. Otherwise the
// frame is cleared and the kernel half of the active table is copied over
// so the kernel stays mapped once the new table is activated.
func (pdt *PageDirectoryTable) Init(pdtFrame mm.Frame) *kernel.Error {
	pdt.pdtFrame = pdtFrame

	activePdtAddr := activePDTFn() & ptePhysPageMask
	if pdtFrame.Address() == activePdtAddr {
		return nil
	}

	const (
		entrySize      = uintptr(1) << mm.PointerShift
		kernelHalfOff  = kernelHalfFirstEntry * entrySize
		kernelHalfSize = (entriesPerTable - kernelHalfFirstEntry) * entrySize
	)

	pdtAddr := mm.PhysToVirt(pdtFrame.Address())
	kernel.Memset(pdtAddr, 0, mm.PageSize)
	kernel.Memcopy(mm.PhysToVirt(activePdtAddr)+kernelHalfOff, pdtAddr+kernelHalfOff, kernelHalfSize)

	return nil
}

// Frame returns the physical frame that holds the table.
func (pdt PageDirectoryTable) Frame() mm.Frame {
	return pdt.pdtFrame
}

// PageDirectoryTableAt returns a handle to the table already stored in
// pdtFrame. The table contents are left untouched.
func PageDirectoryTableAt(pdtFrame mm.Frame) PageDirectoryTable {
	return PageDirectoryTable{pdtFrame: pdtFrame}
}

// ActivePDT returns the table currently loaded in CR3.
func ActivePDT() PageDirectoryTable {
	return PageDirectoryTableAt(mm.FrameFromAddress(activePDTFn() & ptePhysPageMask))
}

// Map establishes a mapping between a virtual page and a physical memory
// frame using this PDT. Missing intermediate tables are allocated through
// mm.AllocFrame and cleared. Intermediate entries are created writable and,
// when the mapping is user accessible, user accessible as well; the final
// entry carries exactly the supplied flags.
func (pdt PageDirectoryTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		err        *kernel.Error
		tableFlags = FlagPresent | FlagRW | (flags & FlagUserAccessible)
	)

	pdt.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place.
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = mm.AllocFrame()
			if err != nil {
				return false
			}

			kernel.Memset(mm.PhysToVirt(newTableFrame.Address()), 0, mm.PageSize)
			*pte = 0
			pte.SetFrame(newTableFrame)
		}

		pte.SetFlags(tableFlags)
		return true
	})

	if err == nil && pdt.isActive() {
		flushTLBEntryFn(page.Address())
	}

	return err
}

// Unmap removes a mapping previously installed via a call to Map.
func (pdt PageDirectoryTable) Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error

	pdt.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	if err == nil && pdt.isActive() {
		flushTLBEntryFn(page.Address())
	}

	return err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address is not mapped
// by this PDT.
func (pdt PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var entry *pageTableEntry

	pdt.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) || (pteLevel < pageLevels-1 && pte.HasFlags(FlagHugePage)) {
			return false
		}

		if pteLevel == pageLevels-1 {
			entry = pte
		}
		return true
	})

	if entry == nil {
		return 0, ErrInvalidMapping
	}

	return entry.Frame().Address() + PageOffset(virtAddr), nil
}

// Activate loads this table into CR3. The caching flags of the currently
// active CR3 value are preserved.
func (pdt PageDirectoryTable) Activate() {
	switchPDTFn(pdt.pdtFrame.Address() | (activePDTFn() & cr3FlagMask))
}

func (pdt PageDirectoryTable) isActive() bool {
	return activePDTFn()&ptePhysPageMask == pdt.pdtFrame.Address()
}

// walk performs a page table walk for the given virtual address. It calls the
// supplied walkFn with the page table entry that corresponds to each page
// table level. Tables are accessed through the direct map. If walkFn
// returns false the walk is aborted.
func (pdt PageDirectoryTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := mm.PhysToVirt(pdt.pdtFrame.Address())

	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte := (*pageTableEntry)(unsafe.Pointer(tableAddr + (entryIndex << mm.PointerShift)))

		if !walkFn(level, pte) {
			return
		}

		tableAddr = mm.PhysToVirt(pte.Frame().Address())
	}
}
