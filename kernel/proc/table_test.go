package proc

import (
	"sync"
	"testing"

	"lumenos/kernel/mm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableInsertLookup(t *testing.T) {
	var table Table

	p, err := table.Lookup(3)
	require.Nil(t, err)
	assert.Nil(t, p, "empty slots must not return a process")

	require.Nil(t, table.Insert(3, Process{}))

	p, err = table.Lookup(3)
	require.Nil(t, err)
	require.NotNil(t, p)
	assert.Equal(t, mm.Frame(0), p.RootFrame())
	assert.Equal(t, 1, table.Len())

	other, _ := table.Lookup(3)
	assert.True(t, p == other, "lookups must return the stored descriptor")

	assert.Equal(t, errSlotOccupied, table.Insert(3, Process{}))
}

func TestTableSlotRange(t *testing.T) {
	var table Table

	for _, slot := range []int{-1, MaxProcesses, MaxProcesses + 100} {
		assert.Equal(t, errSlotOutOfRange, table.Insert(slot, Process{}), "slot %d", slot)

		_, err := table.Lookup(slot)
		assert.Equal(t, errSlotOutOfRange, err, "slot %d", slot)
	}

	require.Nil(t, table.Insert(MaxProcesses-1, Process{}))
	assert.Equal(t, 1, table.Len())
}

func TestTableConcurrentInsert(t *testing.T) {
	var (
		table     Table
		wg        sync.WaitGroup
		successes = make([]int, 8)
	)

	wg.Add(len(successes))
	for worker := range successes {
		go func(worker int) {
			defer wg.Done()
			for slot := 0; slot < MaxProcesses; slot++ {
				if table.Insert(slot, Process{}) == nil {
					successes[worker]++
				}
			}
		}(worker)
	}
	wg.Wait()

	var total int
	for _, count := range successes {
		total += count
	}

	assert.Equal(t, MaxProcesses, total, "each slot must be filled exactly once")
	assert.Equal(t, MaxProcesses, table.Len())
}
