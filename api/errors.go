// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-serverkit.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPoolClosed      = errors.New("buffer pool is closed")
	ErrPoolExhausted   = errors.New("buffer pool chunk cap reached")
	ErrLoopClosed      = errors.New("event loop is closed")
	ErrDiskFull        = errors.New("no space left on buffer device")
)

// AllocationError reports that the pool could not hand out a chunk, either
// because the underlying allocator failed or because the configured cap was hit.
// It is recoverable: callers are expected to apply backpressure.
type AllocationError struct {
	ChunkSize int
	Chunks    int // chunks owned by the pool when the failure happened
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %d byte chunk (pool holds %d): %v", e.ChunkSize, e.Chunks, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// IOError is a disk failure on a channel backing file.
// errors.Is(err, ErrDiskFull) reports whether storage was exhausted.
type IOError struct {
	Op   string // create, write, read, truncate, remove
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is matches ErrDiskFull when the cause is an out-of-space condition.
func (e *IOError) Is(target error) bool {
	return target == ErrDiskFull && isNoSpace(e.Err)
}

// DiskFull is shorthand for errors.Is(e, ErrDiskFull).
func (e *IOError) DiskFull() bool {
	return isNoSpace(e.Err)
}

// ContractViolation describes misuse that indicates memory corruption, like a
// double release or I/O on a closed channel. It is raised with panic and is
// never returned as an error value.
type ContractViolation struct {
	Op     string
	Reason string
}

func (e *ContractViolation) Error() string {
	return "contract violation: " + e.Op + ": " + e.Reason
}

// Violation panics with a ContractViolation.
func Violation(op, format string, args ...any) {
	panic(&ContractViolation{Op: op, Reason: fmt.Sprintf(format, args...)})
}
