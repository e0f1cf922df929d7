// Package kmain wires the kernel bootstrap sequence together.
package kmain

import (
	"lumenos/kernel"
	"lumenos/kernel/gate"
	"lumenos/kernel/hal/limine"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mm"
	"lumenos/kernel/mm/pmm"
	"lumenos/kernel/proc"
)

var (
	// processes is the system-wide process table.
	processes proc.Table

	// transition holds the descriptor tables loaded by the CPU. It lives
	// in a package variable so its address never changes.
	transition gate.Transition

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	pmmInitFn        = pmm.Init
	bootstrapFirstFn = processes.BootstrapFirst
	gateInitFn       = transition.Init
	enterUserModeFn  = transition.EnterUserMode
	panicFn          = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code passes the address of the memory map
// response and the higher-half direct map offset reported by the bootloader,
// as well as the address where the first process starts executing.
//
// Kmain initializes the frame allocator, builds the address space of the
// first process, loads the descriptor tables and finally drops to ring 3.
// Any failure along the way is fatal.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(memMapPtr, hhdmOffset, userEntry uintptr) {
	limine.SetMemoryMapPtr(memMapPtr)
	mm.SetPhysOffset(hhdmOffset)

	if err := bootstrap(userEntry); err != nil {
		panicFn(err)
		return
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

func bootstrap(userEntry uintptr) *kernel.Error {
	kfmt.Printf("[kmain] hhdm offset: 0x%x\n", mm.PhysToVirt(0))

	if err := pmmInitFn(); err != nil {
		return err
	}

	frames := pmm.Allocator()
	if err := frames.SelfTest(); err != nil {
		return err
	}

	if _, err := bootstrapFirstFn(frames, userEntry); err != nil {
		return err
	}

	if err := gateInitFn(frames); err != nil {
		return err
	}

	// Terminal step: on success control never comes back here.
	return enterUserModeFn(&processes)
}
