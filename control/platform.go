// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Process-level debug probes.

package control

import (
	"runtime"
	"time"
)

// RegisterPlatformProbes adds runtime probes to dp.
func RegisterPlatformProbes(dp *DebugProbes) {
	started := time.Now()
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.os", func() any {
		return runtime.GOOS + "/" + runtime.GOARCH
	})
	dp.RegisterProbe("runtime.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	dp.RegisterProbe("runtime.uptime_seconds", func() any {
		return int64(time.Since(started).Seconds())
	})
}
