// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// The thread package pins the dispatch loop goroutine to a realtime kernel thread so
// radio completion events get serviced with low, predictable latency even when the
// rest of the system is busy. Linux only; on other platforms the loop runs with
// normal scheduling.
package thread

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"
)

const FIFO = 1 // fifo scheduling policy
const RR = 2   // round-robin scheduling policy

// DefaultPriority sits in the lower middle of the 1..99 realtime range, above normal
// tasks but below interrupt handling threads.
const DefaultPriority = 10

type schedParam struct {
	Priority int
}

// Realtime locks the calling goroutine to its own kernel thread and switches that
// thread to round-robin realtime scheduling at the given priority. The goroutine
// stays locked, so call this from the goroutine that runs the dispatch loop.
// Typically requires root or CAP_SYS_NICE.
func Realtime(priority int) error {
	if priority < 1 || priority > 99 {
		return fmt.Errorf("thread: priority %d out of range 1..99", priority)
	}
	// Pin the goroutine to its own kernel thread before touching that thread's
	// scheduling class.
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(RR), uintptr(unsafe.Pointer(&schedParam{priority})))
	if res == 0 {
		return nil
	}
	return fmt.Errorf("thread: sched_setscheduler: %s", err)
}
