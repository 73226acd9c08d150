// Package api
// Author: momentics
//
// Executor contract for offloading blocking work away from the loop goroutine.

package api

// Executor abstracts parallel task execution.
type Executor interface {
    // Submit schedules task for execution.
    Submit(task func()) error

    // NumWorkers returns current number of active worker routines.
    NumWorkers() int
}
