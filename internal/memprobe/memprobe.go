// Package memprobe reports this process's resident memory usage to the
// max-memory evictor.
package memprobe

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// Probe reports current resident-set bytes for this process.
type Probe interface {
	ResidentBytes(ctx context.Context) (uint64, error)
}

// GopsutilProbe implements Probe using gopsutil's process introspection.
type GopsutilProbe struct {
	proc *process.Process
}

// NewGopsutilProbe constructs a Probe bound to the current process.
func NewGopsutilProbe() (*GopsutilProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("memprobe: cannot resolve current process: %w", err)
	}
	return &GopsutilProbe{proc: p}, nil
}

// ResidentBytes returns the process's current RSS.
func (g *GopsutilProbe) ResidentBytes(ctx context.Context) (uint64, error) {
	info, err := g.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("memprobe: resident bytes: %w", err)
	}
	return info.RSS, nil
}
