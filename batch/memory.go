package batch

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// memoryGuard samples this process's resident set size against a
// configured ceiling. Sampling errors are treated as "no pressure" so a
// platform without process stats never blocks batching.
type memoryGuard struct {
	proc    *process.Process
	limitMB int
}

func newMemoryGuard(limitMB int) *memoryGuard {
	if limitMB <= 0 {
		return nil
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	return &memoryGuard{proc: proc, limitMB: limitMB}
}

// usedMB returns the current RSS in megabytes, or 0 on sampling failure.
func (g *memoryGuard) usedMB() float64 {
	info, err := g.proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1024 * 1024)
}

// overLimit reports whether RSS exceeds the ceiling, with the sampled
// usage for the warning event.
func (g *memoryGuard) overLimit() (float64, bool) {
	used := g.usedMB()
	return used, used > float64(g.limitMB)
}
