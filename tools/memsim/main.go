// Command memsim runs the kernel frame allocator on the host against a
// memory map described in a YAML file. It reports where the frame bitmap
// gets placed and how many frames end up free, and can exercise the
// allocator with a number of allocations.
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"lumenos/kernel/hal/limine"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mm"
	"lumenos/kernel/mm/pmm"
)

type config struct {
	mapFile    string
	allocs     int
	contiguous uint
	verbose    bool
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memsim] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	var cfg config
	flag.StringVar(&cfg.mapFile, "map", "", "YAML file describing the memory map")
	flag.IntVar(&cfg.allocs, "alloc", 0, "number of single frame allocations to perform")
	flag.UintVar(&cfg.contiguous, "contiguous", 0, "length of a contiguous run to allocate")
	flag.BoolVar(&cfg.verbose, "v", false, "print the allocator diagnostics")
	flag.Parse()

	if cfg.mapFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(cfg.mapFile)
	if err != nil {
		exit(err)
	}
	defer f.Close()

	if cfg.verbose {
		kfmt.SetOutputSink(os.Stderr)
	}

	if err := run(os.Stdout, f, cfg); err != nil {
		exit(err)
	}
}

// run loads the memory map from r, initializes an allocator with it and
// writes a report to w.
func run(w io.Writer, r io.Reader, cfg config) error {
	if cfg.contiguous > math.MaxUint32 {
		return fmt.Errorf("contiguous run of %d frames exceeds the maximum of %d", cfg.contiguous, uint32(math.MaxUint32))
	}

	entries, err := parseMemoryMap(r)
	if err != nil {
		return err
	}

	end := usableEnd(entries)
	if end == 0 {
		return fmt.Errorf("memory map does not contain any usable region")
	}

	mem, err := mapPhysMem((end + uint64(mm.PageSize) - 1) &^ uint64(mm.PageSize-1))
	if err != nil {
		return err
	}
	defer mem.Close()

	var alloc pmm.BitmapAllocator
	if err := alloc.Init(func(visitor limine.MemRegionVisitor) {
		for i := range entries {
			if !visitor(&entries[i]) {
				return
			}
		}
	}); err != nil {
		return err
	}

	usable, unit := kfmt.SizeUnits(usableBytes(entries))
	fmt.Fprintf(w, "regions:       %d\n", len(entries))
	fmt.Fprintf(w, "usable memory: %d %s\n", usable, unit)
	fmt.Fprintf(w, "total frames:  %d\n", alloc.TotalPages())
	fmt.Fprintf(w, "bitmap:        0x%x (%d frames)\n", alloc.BitmapStart().Address(), alloc.BitmapFrames())
	fmt.Fprintf(w, "free frames:   %d\n", alloc.FreeCount())

	if cfg.contiguous > 0 {
		start := alloc.AllocContiguous(uint32(cfg.contiguous))
		if !start.Valid() {
			return fmt.Errorf("no run of %d free frames", cfg.contiguous)
		}
		fmt.Fprintf(w, "contiguous:    0x%x - 0x%x\n", start.Address(), (start + mm.Frame(cfg.contiguous)).Address())
	}

	if cfg.allocs > 0 {
		var first, last mm.Frame
		for i := 0; i < cfg.allocs; i++ {
			frame := alloc.AllocFrame()
			if !frame.Valid() {
				return fmt.Errorf("out of memory after %d allocations", i)
			}

			if i == 0 {
				first = frame
			}
			last = frame
		}
		fmt.Fprintf(w, "allocated:     %d frames (0x%x - 0x%x)\n", cfg.allocs, first.Address(), last.Address())
	}

	if cfg.allocs > 0 || cfg.contiguous > 0 {
		fmt.Fprintf(w, "free frames:   %d\n", alloc.FreeCount())
	}

	return nil
}

func usableBytes(entries []limine.MemoryMapEntry) uint64 {
	var total uint64
	for _, entry := range entries {
		if entry.Type == limine.MemUsable {
			total += entry.Length
		}
	}
	return total
}
