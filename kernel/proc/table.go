package proc

import (
	"lumenos/kernel"
	"lumenos/kernel/sync"
)

// MaxProcesses is the number of slots in a process table.
const MaxProcesses = 64

var (
	errSlotOutOfRange = &kernel.Error{Module: "proc", Message: "process slot out of range"}
	errSlotOccupied   = &kernel.Error{Module: "proc", Message: "process slot already occupied"}
)

// Table is a fixed-capacity registry of processes indexed by slot number.
// Slot 0 holds the first process. Slots are filled once; removing processes
// and growing the table are not supported yet.
//
// Code that needs both the table lock and the frame allocator lock must
// always acquire the table lock first.
type Table struct {
	lock sync.Spinlock

	processes [MaxProcesses]Process
	occupied  [MaxProcesses]bool
}

// Insert stores a copy of p in the given slot.
func (t *Table) Insert(slot int, p Process) *kernel.Error {
	t.lock.Acquire()
	err := t.insert(slot, p)
	t.lock.Release()
	return err
}

// Lookup returns the process stored in slot or nil if the slot is empty.
func (t *Table) Lookup(slot int) (*Process, *kernel.Error) {
	if slot < 0 || slot >= MaxProcesses {
		return nil, errSlotOutOfRange
	}

	t.lock.Acquire()
	defer t.lock.Release()

	if !t.occupied[slot] {
		return nil, nil
	}
	return &t.processes[slot], nil
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	t.lock.Acquire()
	defer t.lock.Release()

	var count int
	for _, occupied := range t.occupied {
		if occupied {
			count++
		}
	}
	return count
}

func (t *Table) insert(slot int, p Process) *kernel.Error {
	switch {
	case slot < 0 || slot >= MaxProcesses:
		return errSlotOutOfRange
	case t.occupied[slot]:
		return errSlotOccupied
	}

	t.processes[slot] = p
	t.occupied[slot] = true
	return nil
}
