// File: pool/backtrace.go
// Author: momentics <momentics@gmail.com>
//
// Acquisition backtrace capture for debug pools.

package pool

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	maxTraceDepth = 32
	// maxInterned bounds the intern table; further distinct stacks are formatted
	// but not remembered.
	maxInterned = 4096
)

// captureFunc returns the formatted acquisition stack, or nil.
type captureFunc func() *string

// traceInterner formats call stacks and shares one string per distinct stack,
// keyed by the xxhash of its program counters.
type traceInterner struct {
	lookup  map[uint64]*string
	scratch []byte
}

func newTraceInterner() *traceInterner {
	return &traceInterner{lookup: make(map[uint64]*string, 64)}
}

// capture records the stack of the caller of Pool.Acquire.
func (t *traceInterner) capture() *string {
	var pcs [maxTraceDepth]uintptr
	// 0 Callers, 1 capture, 2 Acquire, 3 caller.
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return nil
	}

	t.scratch = t.scratch[:0]
	for _, pc := range pcs[:n] {
		t.scratch = binary.LittleEndian.AppendUint64(t.scratch, uint64(pc))
	}
	key := xxhash.Sum64(t.scratch)
	if s, ok := t.lookup[key]; ok {
		return s
	}

	s := formatFrames(pcs[:n])
	if len(t.lookup) < maxInterned {
		t.lookup[key] = &s
	}
	return &s
}

func formatFrames(pcs []uintptr) string {
	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}
