package pmm

import (
	"lumenos/kernel"
	"lumenos/kernel/hal/limine"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mm"
	"lumenos/kernel/sync"
	"math/bits"
)

const (
	// kernelHeapStartFrame and kernelHeapEndFrame delimit the frame range
	// [32, 2080) that backs the early kernel heap. These frames are never
	// handed out by the allocator.
	kernelHeapStartFrame = uint64(32)
	kernelHeapEndFrame   = uint64(2080)

	// framesPerWord is the number of frames tracked by a bitmap word. The
	// summary uses the same word size so each summary word covers
	// framesPerWord * framesPerWord frames.
	framesPerWord = 64
	wordShift     = 6
	wordBytes     = 8
)

var (
	errNoMemoryMap        = &kernel.Error{Module: "pmm", Message: "bootloader did not supply a memory map"}
	errNoUsableMemory     = &kernel.Error{Module: "pmm", Message: "memory map does not contain any usable region"}
	errBitmapNoSpace      = &kernel.Error{Module: "pmm", Message: "no usable region can hold the frame bitmap"}
	errAlreadyInitialized = &kernel.Error{Module: "pmm", Message: "frame allocator already initialized"}
	errFrameNotManaged    = &kernel.Error{Module: "pmm", Message: "frame is not managed by the allocator"}
	errFrameReserved      = &kernel.Error{Module: "pmm", Message: "frame is permanently reserved"}
	errDoubleFree         = &kernel.Error{Module: "pmm", Message: "frame is already free"}
)

// RegionSource feeds each region of the physical memory map to a visitor.
// limine.VisitMemRegions is the source used when the kernel boots.
type RegionSource func(visitor limine.MemRegionVisitor)

// BitmapAllocator implements a first-fit physical frame allocator that
// tracks the state of every frame below the highest usable address with a
// single bit (1 = free).
//
// A summary bitmap holds one bit per primary bitmap word; the bit is set iff
// the word contains at least one free frame. Scans consult the summary first
// so fully allocated stretches of 4096 frames are skipped with a single
// comparison.
//
// All state is guarded by lock. Callers that also hold the process table
// lock must acquire it before calling into the allocator.
type BitmapAllocator struct {
	lock sync.Spinlock

	// totalPages is the number of frames tracked by the bitmap. Valid
	// frame indices are [0, totalPages).
	totalPages uint64

	// freeCount tracks the number of set bits in freeBitmap.
	freeCount uint64

	freeBitmap []uint64
	summary    []uint64

	// The physical range that holds freeBitmap and summary.
	bitmapStartFrame, bitmapEndFrame uint64

	// The kernel heap reservation clipped to totalPages.
	heapStartFrame, heapEndFrame uint64
}

// bitmapSize returns the number of primary bitmap words, the number of
// summary words and the total number of bytes needed to track totalPages
// frames.
func bitmapSize(totalPages uint64) (primaryWords, summaryWords, totalBytes uint64) {
	primaryWords = (totalPages + framesPerWord - 1) >> wordShift
	summaryWords = (primaryWords + framesPerWord - 1) >> wordShift
	return primaryWords, summaryWords, (primaryWords + summaryWords) * wordBytes
}

// Init sets up the allocator state using the regions reported by visit. The
// bitmap is stored at the start of the first usable region that is large
// enough to hold it. Frames inside usable regions start out free; every
// other frame, the frames holding the bitmap and the kernel heap frames are
// flagged as reserved.
//
// Init returns an error if the memory map is missing, contains no usable
// memory or has no usable region that can hold the bitmap. All of these are
// fatal to the caller.
func (alloc *BitmapAllocator) Init(visit RegionSource) *kernel.Error {
	if visit == nil {
		return errNoMemoryMap
	}

	alloc.lock.Acquire()
	err := alloc.init(visit)
	alloc.lock.Release()
	return err
}

func (alloc *BitmapAllocator) init(visit RegionSource) *kernel.Error {
	if alloc.freeBitmap != nil {
		return errAlreadyInitialized
	}

	var maxUsableAddr uint64
	visit(func(region *limine.MemoryMapEntry) bool {
		if region.Type == limine.MemUsable && region.PhysAddress+region.Length > maxUsableAddr {
			maxUsableAddr = region.PhysAddress + region.Length
		}
		return true
	})

	totalPages := maxUsableAddr >> mm.PageShift
	if totalPages == 0 {
		return errNoUsableMemory
	}

	primaryWords, summaryWords, requiredBytes := bitmapSize(totalPages)
	memSize, memUnit := kfmt.SizeUnits(totalPages << mm.PageShift)
	bmSize, bmUnit := kfmt.SizeUnits(requiredBytes)
	kfmt.Printf("[pmm] need to manage %d pages (%d %s)\n", totalPages, memSize, memUnit)
	kfmt.Printf("[pmm] need bitmap size of %d %s\n", bmSize, bmUnit)

	bitmapAddr, found := findBitmapRegion(visit, requiredBytes)
	if !found {
		return errBitmapNoSpace
	}

	words, err := mm.PlaceWords(uintptr(bitmapAddr), uintptr(requiredBytes))
	if err != nil {
		return err
	}
	kernel.Memset(mm.PhysToVirt(uintptr(bitmapAddr)), 0, uintptr(requiredBytes))

	alloc.totalPages = totalPages
	alloc.freeCount = 0
	alloc.freeBitmap = words[:primaryWords]
	alloc.summary = words[primaryWords : primaryWords+summaryWords]
	alloc.bitmapStartFrame = bitmapAddr >> mm.PageShift
	alloc.bitmapEndFrame = alloc.clip(alloc.bitmapStartFrame + uint64(mm.PageCount(uintptr(requiredBytes))))
	alloc.heapStartFrame = alloc.clip(kernelHeapStartFrame)
	alloc.heapEndFrame = alloc.clip(kernelHeapEndFrame)

	// Usable regions only contribute the frames they fully cover, while
	// any other region reserves every frame it touches. The second pass
	// wins when a buggy map reports overlapping regions.
	visit(func(region *limine.MemoryMapEntry) bool {
		if region.Type == limine.MemUsable {
			alloc.markRange(
				alloc.clip(alignUp(region.PhysAddress)>>mm.PageShift),
				alloc.clip((region.PhysAddress+region.Length)>>mm.PageShift),
				true,
			)
		}
		return true
	})
	visit(func(region *limine.MemoryMapEntry) bool {
		if region.Type != limine.MemUsable && region.Length != 0 {
			alloc.markRange(
				alloc.clip(region.PhysAddress>>mm.PageShift),
				alloc.clip(alignUp(region.PhysAddress+region.Length)>>mm.PageShift),
				false,
			)
		}
		return true
	})

	alloc.markRange(alloc.bitmapStartFrame, alloc.bitmapEndFrame, false)
	alloc.markRange(alloc.heapStartFrame, alloc.heapEndFrame, false)

	kfmt.Printf("[pmm] bitmap placed at 0x%x - 0x%x\n", bitmapAddr, bitmapAddr+requiredBytes)
	kfmt.Printf("[pmm] free frames: %d/%d\n", alloc.freeCount, alloc.totalPages)
	return nil
}

// findBitmapRegion returns the page-aligned start address of the first
// usable region that can hold size bytes.
func findBitmapRegion(visit RegionSource, size uint64) (uint64, bool) {
	var (
		addr  uint64
		found bool
	)

	visit(func(region *limine.MemoryMapEntry) bool {
		if region.Type != limine.MemUsable {
			return true
		}

		start, end := alignUp(region.PhysAddress), region.PhysAddress+region.Length
		if start < end && end-start >= size {
			addr, found = start, true
			return false
		}
		return true
	})

	return addr, found
}

// AllocFrame reserves the lowest-numbered free frame. It returns
// mm.InvalidFrame if no free frame is available.
func (alloc *BitmapAllocator) AllocFrame() mm.Frame {
	alloc.lock.Acquire()
	frame := alloc.nextFreeFrame(0)
	if frame < alloc.totalPages {
		alloc.markRange(frame, frame+1, false)
	}
	alloc.lock.Release()

	if frame >= alloc.totalPages {
		return mm.InvalidFrame
	}
	return mm.Frame(frame)
}

// AllocContiguous reserves the lowest-addressed run of count consecutive
// free frames and returns its first frame. The whole run is reserved while
// holding the allocator lock so no other caller can observe any of its
// frames as free. It returns mm.InvalidFrame if count is zero or no such run
// exists.
func (alloc *BitmapAllocator) AllocContiguous(count uint32) mm.Frame {
	if count == 0 {
		return mm.InvalidFrame
	}

	alloc.lock.Acquire()
	start, found := alloc.findRun(uint64(count))
	if found {
		alloc.markRange(start, start+uint64(count), false)
	}
	alloc.lock.Release()

	if !found {
		return mm.InvalidFrame
	}
	return mm.Frame(start)
}

// FreeFrame releases a frame previously returned by AllocFrame or
// AllocContiguous. Freeing a frame outside the managed range, a frame that is
// already free or a frame that belongs to the bitmap storage or the kernel
// heap reservation returns an error and leaves the allocator state
// untouched.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	index := uint64(frame)

	alloc.lock.Acquire()
	var err *kernel.Error
	switch {
	case !frame.Valid() || index >= alloc.totalPages:
		err = errFrameNotManaged
	case alloc.isReserved(index):
		err = errFrameReserved
	case alloc.isFree(index):
		err = errDoubleFree
	default:
		alloc.markRange(index, index+1, true)
	}
	alloc.lock.Release()

	return err
}

// IsFree returns true if frame is managed by the allocator and currently
// free.
func (alloc *BitmapAllocator) IsFree(frame mm.Frame) bool {
	alloc.lock.Acquire()
	free := frame.Valid() && uint64(frame) < alloc.totalPages && alloc.isFree(uint64(frame))
	alloc.lock.Release()
	return free
}

// FreeCount returns the number of free frames.
func (alloc *BitmapAllocator) FreeCount() uint64 {
	alloc.lock.Acquire()
	count := alloc.freeCount
	alloc.lock.Release()
	return count
}

// TotalPages returns the number of frames tracked by the allocator.
func (alloc *BitmapAllocator) TotalPages() uint64 {
	return alloc.totalPages
}

// BitmapFrames returns the number of frames that hold the allocator bitmap.
func (alloc *BitmapAllocator) BitmapFrames() uint64 {
	return alloc.bitmapEndFrame - alloc.bitmapStartFrame
}

// BitmapStart returns the first frame that holds the allocator bitmap.
func (alloc *BitmapAllocator) BitmapStart() mm.Frame {
	return mm.Frame(alloc.bitmapStartFrame)
}

func (alloc *BitmapAllocator) isFree(frame uint64) bool {
	return alloc.freeBitmap[frame>>wordShift]&(1<<(frame&(framesPerWord-1))) != 0
}

func (alloc *BitmapAllocator) isReserved(frame uint64) bool {
	return (frame >= alloc.bitmapStartFrame && frame < alloc.bitmapEndFrame) ||
		(frame >= alloc.heapStartFrame && frame < alloc.heapEndFrame)
}

// clip limits frame to the managed frame range.
func (alloc *BitmapAllocator) clip(frame uint64) uint64 {
	if frame > alloc.totalPages {
		return alloc.totalPages
	}
	return frame
}

// markRange flags the frames in [start, end) as free or reserved, one
// bitmap word at a time, and keeps freeCount and the summary in sync.
func (alloc *BitmapAllocator) markRange(start, end uint64, free bool) {
	for frame := start; frame < end; {
		word := frame >> wordShift
		bit := frame & (framesPerWord - 1)

		count := framesPerWord - bit
		if remaining := end - frame; remaining < count {
			count = remaining
		}

		mask := ^uint64(0)
		if count < framesPerWord {
			mask = ((uint64(1) << count) - 1) << bit
		}

		before := bits.OnesCount64(alloc.freeBitmap[word])
		if free {
			alloc.freeBitmap[word] |= mask
		} else {
			alloc.freeBitmap[word] &^= mask
		}
		after := bits.OnesCount64(alloc.freeBitmap[word])
		alloc.freeCount = alloc.freeCount + uint64(after) - uint64(before)

		if alloc.freeBitmap[word] != 0 {
			alloc.summary[word>>wordShift] |= 1 << (word & (framesPerWord - 1))
		} else {
			alloc.summary[word>>wordShift] &^= 1 << (word & (framesPerWord - 1))
		}

		frame += count
	}
}

// nextFreeFrame returns the first free frame >= from or totalPages if there
// is none.
func (alloc *BitmapAllocator) nextFreeFrame(from uint64) uint64 {
	if from >= alloc.totalPages {
		return alloc.totalPages
	}

	word := from >> wordShift
	if free := alloc.freeBitmap[word] &^ ((uint64(1) << (from & (framesPerWord - 1))) - 1); free != 0 {
		return word<<wordShift + uint64(bits.TrailingZeros64(free))
	}

	// Consult the summary for the words following the starting one.
	word++
	summaryMask := ^uint64(0) << (word & (framesPerWord - 1))
	for summaryIndex := word >> wordShift; summaryIndex < uint64(len(alloc.summary)); summaryIndex++ {
		if nonEmpty := alloc.summary[summaryIndex] & summaryMask; nonEmpty != 0 {
			freeWord := summaryIndex<<wordShift + uint64(bits.TrailingZeros64(nonEmpty))
			return freeWord<<wordShift + uint64(bits.TrailingZeros64(alloc.freeBitmap[freeWord]))
		}
		summaryMask = ^uint64(0)
	}

	return alloc.totalPages
}

// nextReservedFrame returns the first reserved frame in [from, limit) or limit
// if all frames in the range are free.
func (alloc *BitmapAllocator) nextReservedFrame(from, limit uint64) uint64 {
	for frame := from; frame < limit; {
		word := frame >> wordShift
		if reserved := ^alloc.freeBitmap[word] >> (frame & (framesPerWord - 1)); reserved != 0 {
			if found := frame + uint64(bits.TrailingZeros64(reserved)); found < limit {
				return found
			}
			return limit
		}
		frame = (word + 1) << wordShift
	}
	return limit
}

// findRun locates the first run of count free frames.
func (alloc *BitmapAllocator) findRun(count uint64) (uint64, bool) {
	for start := alloc.nextFreeFrame(0); start+count <= alloc.totalPages; {
		end := alloc.nextReservedFrame(start, start+count)
		if end == start+count {
			return start, true
		}
		start = alloc.nextFreeFrame(end)
	}

	return 0, false
}

func alignUp(addr uint64) uint64 {
	pageSizeMinus1 := uint64(mm.PageSize - 1)
	return (addr + pageSizeMinus1) &^ pageSizeMinus1
}
