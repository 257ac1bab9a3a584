//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux-specific CPU affinity for the poll loop.

package reactor

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinPollThread locks the calling goroutine to its OS thread and binds
// that thread to cpu. The thread stays locked until unpin is called.
func pinPollThread(cpu int) (unpin func(), err error) {
	if cpu < 0 || cpu >= runtime.NumCPU() {
		return func() {}, fmt.Errorf("cpu %d out of range [0,%d)", cpu, runtime.NumCPU())
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 addresses the calling thread.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return func() {}, fmt.Errorf("sched_setaffinity: %w", err)
	}
	return runtime.UnlockOSThread, nil
}
