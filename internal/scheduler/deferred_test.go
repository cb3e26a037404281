package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/health"
)

func TestDeferredQueue(t *testing.T) {
	q := newDeferredQueue(3)

	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.True(t, q.Push(2)) // duplicate counts as accepted
	assert.Equal(t, 2, q.Len())

	assert.True(t, q.Push(3))
	assert.False(t, q.Push(4)) // full
	assert.Equal(t, 3, q.Len())

	// FIFO order, drained ids can be queued again.
	assert.Equal(t, []int64{1, 2}, q.Drain(2))
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Push(1))
	assert.Equal(t, []int64{3, 1}, q.Drain(10))
	assert.Zero(t, q.Len())

	assert.Nil(t, q.Drain(5))
	assert.Nil(t, q.Drain(0))
}

func TestMintLocks(t *testing.T) {
	locks := newMintLocks(4)

	release, ok := locks.TryLock("MintA")
	assert.True(t, ok)

	// Same mint maps to the same stripe and is busy while held.
	_, again := locks.TryLock("MintA")
	assert.False(t, again)

	release()
	release2, ok := locks.TryLock("MintA")
	assert.True(t, ok)
	release2()
}

func TestBatchSize(t *testing.T) {
	assert.Equal(t, 300, batchSize(health.LoadLow, 25, 300))
	assert.Equal(t, 200, batchSize(health.LoadMedium, 25, 300))
	assert.Equal(t, 100, batchSize(health.LoadHigh, 25, 300))
	assert.Equal(t, 25, batchSize(health.LoadUnderLoad, 25, 300))

	// The floor always wins.
	assert.Equal(t, 25, batchSize(health.LoadHigh, 25, 30))
	// An inverted range collapses onto the floor.
	assert.Equal(t, 50, batchSize(health.LoadLow, 50, 10))
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 12, cfg.HotConcurrency)
	assert.Equal(t, 8, cfg.ColdConcurrency)
	assert.Equal(t, 25, cfg.MinBatchSize)
	assert.Equal(t, 25, cfg.MaxBatchSize)
	assert.Equal(t, 5000, cfg.SelectionCap)
	assert.Equal(t, 2000, cfg.DeferredCapacity)
	assert.Equal(t, 3, cfg.ExportTopN)
	assert.Equal(t, "tothemoon", cfg.ExportGenerator)
	assert.Equal(t, 64, cfg.LockStripes)
}
