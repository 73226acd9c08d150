// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Buffer is a value handle over a region of one pooled chunk. Every handle of a
// chunk (including sub-slices) shares the chunk's single reference count.

package pool

// Buffer is a reference-counted view into a chunk payload.
// The zero Buffer is "no buffer".
type Buffer struct {
	pool  *Pool
	slot  int32
	gen   uint32
	start int
	end   int
}

// IsZero reports whether b is the zero handle.
func (b Buffer) IsZero() bool { return b.pool == nil }

// Bytes returns the region. Appending to the result never spills into
// memory past the region.
func (b Buffer) Bytes() []byte {
	return b.pool.slots[b.slot].mem[b.start:b.end:b.end]
}

// Len returns the region length.
func (b Buffer) Len() int { return b.end - b.start }

// Cap returns the largest length the region can reach inside its chunk.
func (b Buffer) Cap() int { return b.Len() + b.Available() }

// Available returns how many bytes the region can grow by inside its chunk.
func (b Buffer) Available() int {
	return len(b.pool.slots[b.slot].mem) - b.end
}

// Slice produces a sub-buffer in O(1) sharing the same reference count.
func (b Buffer) Slice(from, to int) Buffer {
	if from < 0 || to > b.Len() || from > to {
		panic("slice bounds out of range")
	}
	b.end = b.start + to
	b.start += from
	return b
}

// Expand grows the region by n bytes into the chunk's spare room.
// Only the exclusive owner of a chunk may expand into it.
func (b Buffer) Expand(n int) Buffer {
	if n < 0 || n > b.Available() {
		panic("expand beyond chunk")
	}
	b.end += n
	return b
}

// Retain adds a reference. The caller must already hold one.
func (b Buffer) Retain() { b.pool.retain(b) }

// Release drops a reference. At zero the chunk returns to the pool and every
// handle of it becomes invalid.
func (b Buffer) Release() { b.pool.release(b) }

// RefCount returns the chunk's current reference count.
func (b Buffer) RefCount() int {
	return int(b.pool.slotOf(b, "refcount").refcount)
}

// Copy returns a deep copy of the region.
func (b Buffer) Copy() []byte {
	dst := make([]byte, b.Len())
	copy(dst, b.Bytes())
	return dst
}
