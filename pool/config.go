// File: pool/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-serverkit/api"
)

const (
	KiB = 1024
	MiB = KiB * KiB

	// DefaultChunkSize is the chunk size used when Config.ChunkSize is zero.
	DefaultChunkSize = 16 * KiB

	// HeaderSize bytes at the start of every chunk are reserved for the slot stamp.
	// Payload starts at this offset.
	HeaderSize = 16
)

// Config holds pool construction parameters.
type Config struct {
	ChunkSize int // power of two, > HeaderSize
	MaxChunks int // hard cap on chunks ever allocated; 0 means unbounded

	// Debug enables header verification on every retain/release and the
	// per-block list in Inspect.
	Debug bool
	// Backtraces captures the acquisition stack of every buffer. Implies Debug.
	Backtraces bool

	Allocator ChunkAllocator // nil selects DefaultAllocator()
	Logger    *zerolog.Logger
}

// DefaultConfig returns the configuration a worker context uses when none is given.
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
	}
}

func (c *Config) normalize() error {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkSize <= HeaderSize || c.ChunkSize&(c.ChunkSize-1) != 0 {
		return fmt.Errorf("%w: chunk size %d must be a power of two larger than %d",
			api.ErrInvalidArgument, c.ChunkSize, HeaderSize)
	}
	if c.MaxChunks < 0 {
		return fmt.Errorf("%w: negative chunk cap %d", api.ErrInvalidArgument, c.MaxChunks)
	}
	if c.Backtraces {
		c.Debug = true
	}
	if c.Allocator == nil {
		c.Allocator = DefaultAllocator()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return nil
}
