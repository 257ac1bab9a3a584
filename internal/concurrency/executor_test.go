package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRunsTasks(t *testing.T) {
	e := NewExecutor(3)
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, e.Submit(func() { defer wg.Done(); n.Add(1) }))
	}
	wg.Wait()
	e.Close()
	assert.EqualValues(t, 50, n.Load())
	assert.EqualValues(t, 50, e.Stats()["completed_tasks"])
}

// TestExecutorRecoversPanics keeps workers alive when a task panics.
func TestExecutorRecoversPanics(t *testing.T) {
	e := NewExecutor(1)
	var recovered atomic.Value
	e.OnPanic(func(r any) { recovered.Store(r) })
	require.NoError(t, e.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, e.Submit(func() { close(done) }))
	<-done
	e.Close()
	assert.Equal(t, "boom", recovered.Load())
	assert.EqualValues(t, 1, e.Stats()["panics"])
}

func TestExecutorSubmitAfterClose(t *testing.T) {
	e := NewExecutor(2)
	e.Close()
	e.Close()
	assert.ErrorIs(t, e.Submit(func() {}), ErrExecutorClosed)
}

func TestExecutorCloseDrainsQueued(t *testing.T) {
	e := NewExecutor(1)
	var n atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Submit(func() { n.Add(1) }))
	}
	e.Close()
	assert.EqualValues(t, 20, n.Load())
}
