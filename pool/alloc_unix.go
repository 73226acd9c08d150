//go:build unix

// File: pool/alloc_unix.go
// Author: momentics <momentics@gmail.com>
//
// Anonymous mmap chunk allocator. Chunks live outside the Go heap, so the
// collector never scans them.

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator maps every chunk as a private anonymous region.
type MmapAllocator struct{}

func (MmapAllocator) Alloc(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return data, nil
}

func (MmapAllocator) Free(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := unix.Munmap(chunk); err != nil {
		return fmt.Errorf("munmap %d bytes: %w", len(chunk), err)
	}
	return nil
}

// DefaultAllocator returns the allocator used when Config.Allocator is nil.
func DefaultAllocator() ChunkAllocator {
	return MmapAllocator{}
}
