// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-chunk, reference-counted buffer pool ("mbuf pool") for the worker I/O path.
// Chunks live in an arena of slots addressed by index; free and active sets are
// index-linked lists so Acquire and Release are O(1) without cross-slot pointers.
//
// A Pool is owned by exactly one goroutine (the worker loop) and carries no locks.
// Handing a Buffer to another goroutine transfers ownership of that reference;
// the two sides must never touch the same reference count concurrently.
// See pool.go, buffer.go, inspect.go for implementation details.
package pool
