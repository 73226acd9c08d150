//go:build !unix

// File: pool/alloc_other.go
// Author: momentics <momentics@gmail.com>

package pool

// DefaultAllocator returns the allocator used when Config.Allocator is nil.
func DefaultAllocator() ChunkAllocator {
	return HeapAllocator{}
}
