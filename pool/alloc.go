// File: pool/alloc.go
// Author: momentics <momentics@gmail.com>
//
// Chunk allocators backing the pool. Platform-specific allocators in separate files.

package pool

// ChunkAllocator is the system allocator a Pool draws chunks from.
// Chunks are only handed back on pool teardown.
type ChunkAllocator interface {
	Alloc(size int) ([]byte, error)
	Free(chunk []byte) error
}

// HeapAllocator allocates chunks on the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (HeapAllocator) Free([]byte) error { return nil }
