// File: pool/inspect.go
// Author: momentics <momentics@gmail.com>
//
// Usage introspection for the mbuf pool.

package pool

import (
	"encoding/json"
	"fmt"
)

// ByteSize renders as {"bytes": n, "human_readable": "..."} in JSON.
type ByteSize uint64

func (b ByteSize) String() string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d bytes", uint64(b))
	}
	div, exp := uint64(unit), 0
	for n := uint64(b) / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTP"[exp])
}

func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Bytes         uint64 `json:"bytes"`
		HumanReadable string `json:"human_readable"`
	}{uint64(b), b.String()})
}

// BlockInfo describes one active chunk in debug mode.
type BlockInfo struct {
	RefCount  int     `json:"refcount"`
	Backtrace *string `json:"backtrace"`
}

// Snapshot is the pool state document.
type Snapshot struct {
	FreeBlocks   int      `json:"free_blocks"`
	ActiveBlocks int      `json:"active_blocks"`
	ChunkSize    int      `json:"chunk_size"`
	Offset       int      `json:"offset"`
	SpareMemory  ByteSize `json:"spare_memory"`
	ActiveMemory ByteSize `json:"active_memory"`

	// Non-nil exactly when the pool runs with Debug, oldest acquisition first.
	// The JSON key is present, possibly as [], only in that case.
	ActiveBlocksList []BlockInfo `json:"active_blocks_list,omitempty"`
}

// debugSnapshot is Snapshot with the block list always emitted.
type debugSnapshot struct {
	FreeBlocks       int         `json:"free_blocks"`
	ActiveBlocks     int         `json:"active_blocks"`
	ChunkSize        int         `json:"chunk_size"`
	Offset           int         `json:"offset"`
	SpareMemory      ByteSize    `json:"spare_memory"`
	ActiveMemory     ByteSize    `json:"active_memory"`
	ActiveBlocksList []BlockInfo `json:"active_blocks_list"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.ActiveBlocksList != nil {
		return json.Marshal(debugSnapshot(s))
	}
	type plain Snapshot
	return json.Marshal(plain(s))
}

// Inspect returns a snapshot of the pool usage.
func (p *Pool) Inspect() Snapshot {
	snap := Snapshot{
		FreeBlocks:   p.nfree,
		ActiveBlocks: p.nactive,
		ChunkSize:    p.cfg.ChunkSize,
		Offset:       HeaderSize,
		SpareMemory:  ByteSize(p.nfree * p.cfg.ChunkSize),
		ActiveMemory: ByteSize(p.nactive * p.cfg.ChunkSize),
	}
	if p.cfg.Debug {
		snap.ActiveBlocksList = make([]BlockInfo, 0, p.nactive)
		for idx := p.activeHead; idx != nilSlot; idx = p.slots[idx].next {
			s := &p.slots[idx]
			snap.ActiveBlocksList = append(snap.ActiveBlocksList, BlockInfo{
				RefCount:  int(s.refcount),
				Backtrace: s.trace,
			})
		}
	}
	return snap
}
