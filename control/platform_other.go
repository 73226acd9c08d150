//go:build !unix

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Fallback platform probe: chunks come from the Go heap.

package control

import (
	"os"
	"runtime"
)

// RegisterPlatformProbes sets the "platform" probe.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform", func() any {
		return map[string]any{
			"os":          runtime.GOOS,
			"cpus":        runtime.NumCPU(),
			"page_size":   os.Getpagesize(),
			"chunk_alloc": "heap",
		}
	})
}
