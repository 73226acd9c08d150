// File: channel/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// File-buffered channel configuration and option-map parsing.

package channel

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/momentics/hioload-serverkit/api"
)

// DefaultThreshold is the pending byte count above which a channel spills to disk.
const DefaultThreshold = 128 * 1024

// maxDelayMillis is the longest delay a time.Duration can hold, in milliseconds.
const maxDelayMillis = math.MaxInt64 / int64(time.Millisecond)

// Recognized option keys.
const (
	OptBufferDir                = "bufferDir"
	OptThreshold                = "threshold"
	OptDelayInFileModeSwitching = "delayInFileModeSwitching" // milliseconds
	OptMaxDiskChunkReadSize     = "maxDiskChunkReadSize"
	OptAutoTruncateFile         = "autoTruncateFile"
	OptAutoStartMover           = "autoStartMover"
)

// Config controls spillover behaviour of a FileBufferedChannel.
type Config struct {
	BufferDir                string        // directory of the overflow file
	Threshold                int64         // pending bytes above which the channel spills
	DelayInFileModeSwitching time.Duration // time below threshold before leaving disk mode
	MaxDiskChunkReadSize     int           // bound on one disk read, 0 = chunk payload
	AutoTruncateFile         bool          // truncate the file after draining it back
	AutoStartMover           bool          // start the mover when a spill begins
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	return Config{
		BufferDir:        os.TempDir(),
		Threshold:        DefaultThreshold,
		AutoTruncateFile: true,
		AutoStartMover:   true,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.BufferDir == "":
		return fmt.Errorf("%w: empty %s", api.ErrInvalidArgument, OptBufferDir)
	case c.Threshold <= 0:
		return fmt.Errorf("%w: %s must be positive, got %d", api.ErrInvalidArgument, OptThreshold, c.Threshold)
	case c.DelayInFileModeSwitching < 0:
		return fmt.Errorf("%w: negative %s", api.ErrInvalidArgument, OptDelayInFileModeSwitching)
	case c.MaxDiskChunkReadSize < 0:
		return fmt.Errorf("%w: negative %s", api.ErrInvalidArgument, OptMaxDiskChunkReadSize)
	}
	return nil
}

// WithOptions returns a copy of c with the recognized options applied.
// Unknown keys and values of the wrong type are errors.
func (c Config) WithOptions(opts map[string]any) (Config, error) {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := opts[k]
		switch k {
		case OptBufferDir:
			s, ok := v.(string)
			if !ok {
				return c, optionTypeError(k, "string", v)
			}
			c.BufferDir = s
		case OptThreshold:
			n, ok := toInt64(v)
			if !ok {
				return c, optionTypeError(k, "integer", v)
			}
			c.Threshold = n
		case OptDelayInFileModeSwitching:
			n, ok := toInt64(v)
			if !ok || n > maxDelayMillis || n < -maxDelayMillis {
				return c, optionTypeError(k, "integer milliseconds", v)
			}
			c.DelayInFileModeSwitching = time.Duration(n) * time.Millisecond
		case OptMaxDiskChunkReadSize:
			n, ok := toInt64(v)
			if !ok || n > math.MaxInt32 {
				return c, optionTypeError(k, "integer", v)
			}
			c.MaxDiskChunkReadSize = int(n)
		case OptAutoTruncateFile:
			b, ok := v.(bool)
			if !ok {
				return c, optionTypeError(k, "bool", v)
			}
			c.AutoTruncateFile = b
		case OptAutoStartMover:
			b, ok := v.(bool)
			if !ok {
				return c, optionTypeError(k, "bool", v)
			}
			c.AutoStartMover = b
		default:
			return c, fmt.Errorf("%w: unknown channel option %q", api.ErrInvalidArgument, k)
		}
	}
	return c, c.Validate()
}

// Options renders c as an option map, the inverse of WithOptions.
func (c Config) Options() map[string]any {
	return map[string]any{
		OptBufferDir:                c.BufferDir,
		OptThreshold:                c.Threshold,
		OptDelayInFileModeSwitching: c.DelayInFileModeSwitching.Milliseconds(),
		OptMaxDiskChunkReadSize:     c.MaxDiskChunkReadSize,
		OptAutoTruncateFile:         c.AutoTruncateFile,
		OptAutoStartMover:           c.AutoStartMover,
	}
}

// ConfigOption overrides one field of a Config.
type ConfigOption func(*Config)

func WithBufferDir(dir string) ConfigOption { return func(c *Config) { c.BufferDir = dir } }

func WithThreshold(n int64) ConfigOption { return func(c *Config) { c.Threshold = n } }

func WithModeSwitchDelay(d time.Duration) ConfigOption {
	return func(c *Config) { c.DelayInFileModeSwitching = d }
}

func WithMaxDiskChunkReadSize(n int) ConfigOption {
	return func(c *Config) { c.MaxDiskChunkReadSize = n }
}

func WithAutoTruncateFile(on bool) ConfigOption { return func(c *Config) { c.AutoTruncateFile = on } }

func WithAutoStartMover(on bool) ConfigOption { return func(c *Config) { c.AutoStartMover = on } }

func optionTypeError(key, want string, got any) error {
	return fmt.Errorf("%w: option %q wants %s, got %T", api.ErrInvalidArgument, key, want, got)
}

// toInt64 accepts Go integer kinds and integral float64 (as decoded from JSON).
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float64:
		// float64(MaxInt64) rounds up to 2^63, which is out of range
		if n != math.Trunc(n) || n >= 1<<63 || n < -(1<<63) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
