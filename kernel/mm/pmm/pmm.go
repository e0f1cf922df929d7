// Package pmm manages physical memory frame allocations.
package pmm

import (
	"lumenos/kernel"
	"lumenos/kernel/hal/limine"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mm"
)

// selfTestFrames is the number of frames cycled by SelfTest.
const selfTestFrames = 10

var (
	// bitmapAllocator is the allocator used for all frame allocations
	// while the kernel runs.
	bitmapAllocator BitmapAllocator

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	memMapAvailableFn = limine.Available
	memMapRevisionFn  = limine.Revision
	visitMemRegionsFn = limine.VisitMemRegions

	errOutOfMemory         = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errSelfTestFailed      = &kernel.Error{Module: "pmm", Message: "allocator self-test failed"}
	errUnsupportedRevision = &kernel.Error{Module: "pmm", Message: "unsupported memory map response revision"}
)

// Init sets up the kernel physical memory allocation sub-system using the
// memory map supplied by the bootloader and registers the bitmap allocator
// as the frame source for the vmm code.
func Init() *kernel.Error {
	if !memMapAvailableFn() {
		return errNoMemoryMap
	}

	if revision := memMapRevisionFn(); revision > limine.SupportedRevision {
		kfmt.Printf("[pmm] memory map response revision %d; expected at most %d\n", revision, limine.SupportedRevision)
		return errUnsupportedRevision
	}

	printMemoryMap(visitMemRegionsFn)
	if err := bitmapAllocator.Init(visitMemRegionsFn); err != nil {
		return err
	}

	mm.SetFrameAllocator(bitmapAllocFrame)
	return nil
}

// Allocator returns the system-wide frame allocator. It must not be used
// before Init returns successfully.
func Allocator() *BitmapAllocator {
	return &bitmapAllocator
}

// bitmapAllocFrame adapts the bitmap allocator to mm.FrameAllocatorFn. Page
// table code cannot proceed without a frame so exhaustion becomes an error.
func bitmapAllocFrame() (mm.Frame, *kernel.Error) {
	frame := bitmapAllocator.AllocFrame()
	if !frame.Valid() {
		return mm.InvalidFrame, errOutOfMemory
	}
	return frame, nil
}

// printMemoryMap dumps the memory regions reported by visit.
func printMemoryMap(visit RegionSource) {
	w := kfmt.PrefixWriter{Sink: kfmt.OutputSink(), Prefix: []byte("[pmm] ")}

	kfmt.Fprintf(&w, "system memory map:\n")
	var totalUsable uint64
	visit(func(region *limine.MemoryMapEntry) bool {
		kfmt.Fprintf(&w, "\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String(),
		)

		if region.Type == limine.MemUsable {
			totalUsable += region.Length
		}
		return true
	})

	size, unit := kfmt.SizeUnits(totalUsable)
	kfmt.Fprintf(&w, "usable memory: %d %s\n", size, unit)
}

// SelfTest allocates a batch of frames, releases them and allocates them
// again. Since allocations are first-fit, the second batch must match the
// first one. All frames are released before SelfTest returns.
func (alloc *BitmapAllocator) SelfTest() *kernel.Error {
	var first, second [selfTestFrames]mm.Frame

	for round, frames := range [2]*[selfTestFrames]mm.Frame{&first, &second} {
		allocated := 0
		for ; allocated < selfTestFrames; allocated++ {
			if frames[allocated] = alloc.AllocFrame(); !frames[allocated].Valid() {
				break
			}
			kfmt.Printf("[pmm] self-test allocation #%d-%d: 0x%x\n", round+1, allocated, frames[allocated].Address())
		}

		for i := 0; i < allocated; i++ {
			if err := alloc.FreeFrame(frames[i]); err != nil {
				return err
			}
		}

		if allocated != selfTestFrames {
			return errOutOfMemory
		}
	}

	if first != second {
		return errSelfTestFailed
	}
	return nil
}
