//go:build unix

// control/platform_unix.go
// Author: momentics <momentics@gmail.com>
//
// Unix platform probe: chunks come from anonymous mmap.

package control

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// RegisterPlatformProbes sets the "platform" probe.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform", func() any {
		return map[string]any{
			"os":          runtime.GOOS,
			"cpus":        runtime.NumCPU(),
			"page_size":   unix.Getpagesize(),
			"chunk_alloc": "mmap",
		}
	})
}
