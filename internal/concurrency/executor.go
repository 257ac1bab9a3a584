// File: internal/concurrency/executor.go
// Package concurrency implements the worker pool and queue primitives of the chat pipeline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across a fixed set of worker goroutines fed from a
// shared SignalQueue. It backs the blocking send path for connections that are
// not bound to a reactor.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-chat/api"
)

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = api.ErrPoolClosed

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Executor manages a pool of worker goroutines.
type Executor struct {
	tasks      *SignalQueue[TaskFunc]
	wg         sync.WaitGroup
	closed     atomic.Bool
	numWorkers int
	onPanic    func(any)

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
	panics         atomic.Int64
}

// NewExecutor creates a new Executor with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		tasks:      NewSignalQueue[TaskFunc](),
		numWorkers: numWorkers,
	}
	e.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go e.run()
	}
	return e
}

// OnPanic installs a hook invoked with the recovered value of a panicking task.
// Must be called before the first Submit.
func (e *Executor) OnPanic(fn func(any)) {
	e.onPanic = fn
}

// Submit enqueues a task for execution, returning ErrExecutorClosed if executor is closed.
func (e *Executor) Submit(task func()) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	e.totalTasks.Add(1)
	if !e.tasks.Push(TaskFunc(task)) {
		e.totalTasks.Add(-1)
		return ErrExecutorClosed
	}
	return nil
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Close stops accepting tasks, lets workers drain what is queued and waits for them.
func (e *Executor) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.tasks.Stop()
	}
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	done := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": done,
		"pending_tasks":   total - done,
		"panics":          e.panics.Load(),
		"num_workers":     int64(e.numWorkers),
	}
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		task, ok := e.tasks.Pop(-1)
		if !ok {
			return
		}
		e.executeTask(task)
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (e *Executor) executeTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
			if e.onPanic != nil {
				e.onPanic(r)
			}
		}
		e.completedTasks.Add(1)
	}()
	task()
}
