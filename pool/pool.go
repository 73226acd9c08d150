// File: pool/pool.go
// Package pool implements the fixed-chunk slab arena with index-linked free/active sets.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"encoding/binary"
	"errors"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-serverkit/api"
)

const (
	nilSlot     int32  = -1
	headerMagic uint32 = 0x6d627566 // "mbuf"
)

// slot is one chunk of the arena. next links the free list or the active list,
// prev is only meaningful while the slot is active.
type slot struct {
	mem      []byte
	refcount int32
	gen      uint32
	next     int32
	prev     int32
	trace    *string
}

// Pool hands out reference-counted buffers carved from fixed-size chunks.
// It is not safe for concurrent use.
type Pool struct {
	cfg     Config
	log     zerolog.Logger
	capture captureFunc

	slots      []slot
	freeHead   int32
	activeHead int32
	activeTail int32
	nfree      int
	nactive    int

	acquires    uint64
	releases    uint64
	chunkAllocs uint64

	closed bool
}

// Stats are monotonic counters since construction.
type Stats struct {
	Acquires    uint64
	Releases    uint64
	ChunkAllocs uint64
}

// New creates an empty pool. No chunk is allocated until the first Acquire.
func New(cfg Config) (*Pool, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "mbuf_pool").Logger(),
		freeHead:   nilSlot,
		activeHead: nilSlot,
		activeTail: nilSlot,
	}
	if cfg.Backtraces {
		p.capture = newTraceInterner().capture
	}
	return p, nil
}

// ChunkSize returns the configured chunk size.
func (p *Pool) ChunkSize() int { return p.cfg.ChunkSize }

// PayloadSize returns the usable bytes of a freshly acquired buffer.
func (p *Pool) PayloadSize() int { return p.cfg.ChunkSize - HeaderSize }

// Debug reports whether diagnostics are enabled.
func (p *Pool) Debug() bool { return p.cfg.Debug }

// Acquire returns a buffer spanning a whole chunk payload with refcount 1.
func (p *Pool) Acquire() (Buffer, error) {
	if p.closed {
		return Buffer{}, api.ErrPoolClosed
	}
	idx := p.freeHead
	if idx == nilSlot {
		var err error
		if idx, err = p.grow(); err != nil {
			return Buffer{}, err
		}
	} else {
		p.freeHead = p.slots[idx].next
		p.nfree--
	}

	s := &p.slots[idx]
	s.refcount = 1
	if p.capture != nil {
		s.trace = p.capture()
	}
	p.pushActive(idx)
	p.acquires++
	return Buffer{pool: p, slot: idx, gen: s.gen, start: HeaderSize, end: len(s.mem)}, nil
}

// grow allocates one chunk from the system allocator and returns its slot.
func (p *Pool) grow() (int32, error) {
	if p.cfg.MaxChunks > 0 && len(p.slots) >= p.cfg.MaxChunks {
		return nilSlot, &api.AllocationError{
			ChunkSize: p.cfg.ChunkSize,
			Chunks:    len(p.slots),
			Err:       api.ErrPoolExhausted,
		}
	}
	mem, err := p.cfg.Allocator.Alloc(p.cfg.ChunkSize)
	if err == nil && len(mem) != p.cfg.ChunkSize {
		err = errors.New("allocator returned a short chunk")
	}
	if err != nil {
		return nilSlot, &api.AllocationError{ChunkSize: p.cfg.ChunkSize, Chunks: len(p.slots), Err: err}
	}

	idx := int32(len(p.slots))
	p.slots = append(p.slots, slot{mem: mem, next: nilSlot, prev: nilSlot})
	stampHeader(mem, idx, 0)
	p.chunkAllocs++
	return idx, nil
}

func (p *Pool) retain(b Buffer) {
	s := p.slotOf(b, "retain")
	if s.refcount <= 0 {
		api.Violation("retain", "chunk %d retained with refcount %d", b.slot, s.refcount)
	}
	s.refcount++
}

func (p *Pool) release(b Buffer) {
	s := p.slotOf(b, "release")
	if s.refcount <= 0 {
		api.Violation("release", "chunk %d released with refcount %d", b.slot, s.refcount)
	}
	s.refcount--
	if s.refcount > 0 {
		return
	}

	p.unlinkActive(b.slot)
	s.trace = nil
	s.gen++
	p.releases++
	if p.closed {
		// Late release after teardown: hand the chunk straight back.
		if err := p.cfg.Allocator.Free(s.mem); err != nil {
			p.log.Error().Err(err).Int32("slot", b.slot).Msg("failed to free chunk after teardown")
		}
		s.mem = nil
		return
	}
	binary.LittleEndian.PutUint32(s.mem[8:12], s.gen)
	s.next = p.freeHead
	s.prev = nilSlot
	p.freeHead = b.slot
	p.nfree++
}

// slotOf resolves a handle, validating it against the slot it names.
func (p *Pool) slotOf(b Buffer, op string) *slot {
	if b.pool != p || b.slot < 0 || int(b.slot) >= len(p.slots) {
		api.Violation(op, "buffer does not belong to this pool")
	}
	s := &p.slots[b.slot]
	if s.gen != b.gen {
		api.Violation(op, "stale handle for chunk %d (generation %d, chunk at %d)", b.slot, b.gen, s.gen)
	}
	if p.cfg.Debug && s.mem != nil && !headerValid(s.mem, b.slot, s.gen) {
		api.Violation(op, "header of chunk %d is corrupted", b.slot)
	}
	return s
}

func (p *Pool) pushActive(idx int32) {
	s := &p.slots[idx]
	s.next = nilSlot
	s.prev = p.activeTail
	if p.activeTail != nilSlot {
		p.slots[p.activeTail].next = idx
	} else {
		p.activeHead = idx
	}
	p.activeTail = idx
	p.nactive++
}

func (p *Pool) unlinkActive(idx int32) {
	s := &p.slots[idx]
	if s.prev != nilSlot {
		p.slots[s.prev].next = s.next
	} else {
		p.activeHead = s.next
	}
	if s.next != nilSlot {
		p.slots[s.next].prev = s.prev
	} else {
		p.activeTail = s.prev
	}
	s.next, s.prev = nilSlot, nilSlot
	p.nactive--
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{Acquires: p.acquires, Releases: p.releases, ChunkAllocs: p.chunkAllocs}
}

// Close returns every free chunk to the allocator. Chunks still referenced
// are left mapped and freed when their last reference is released.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for idx := p.freeHead; idx != nilSlot; {
		s := &p.slots[idx]
		if err := p.cfg.Allocator.Free(s.mem); err != nil {
			errs = append(errs, err)
		}
		s.mem = nil
		idx, s.next = s.next, nilSlot
	}
	p.freeHead = nilSlot
	p.nfree = 0

	if p.nactive > 0 {
		p.log.Warn().Int("active_blocks", p.nactive).Msg("pool closed with live buffers")
	}
	return errors.Join(errs...)
}

func stampHeader(mem []byte, idx int32, gen uint32) {
	binary.LittleEndian.PutUint32(mem[0:4], headerMagic)
	binary.LittleEndian.PutUint32(mem[4:8], uint32(idx))
	binary.LittleEndian.PutUint32(mem[8:12], gen)
}

func headerValid(mem []byte, idx int32, gen uint32) bool {
	return binary.LittleEndian.Uint32(mem[0:4]) == headerMagic &&
		binary.LittleEndian.Uint32(mem[4:8]) == uint32(idx) &&
		binary.LittleEndian.Uint32(mem[8:12]) == gen
}
