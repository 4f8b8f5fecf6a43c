package memmon

import (
	"context"
	"runtime"
	"sync"

	"github.com/prometheus/procfs"
)

// Sampler reads the resident memory of the process in bytes.
type Sampler interface {
	Sample(ctx context.Context) (uint64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (uint64, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(ctx context.Context) (uint64, error) {
	return f(ctx)
}

// ProcessSampler reports the resident set size from /proc. Where /proc is unavailable it falls
// back to runtime.MemStats.Sys, the memory the Go runtime obtained from the OS.
type ProcessSampler struct {
	once    sync.Once
	proc    procfs.Proc
	procErr error
}

// NewProcessSampler creates a sampler for the current process.
func NewProcessSampler() *ProcessSampler {
	return &ProcessSampler{}
}

// Sample implements Sampler.
func (s *ProcessSampler) Sample(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.once.Do(func() {
		s.proc, s.procErr = procfs.Self()
	})
	if s.procErr == nil {
		if stat, err := s.proc.Stat(); err == nil {
			if rss := stat.ResidentMemory(); rss > 0 {
				return uint64(rss), nil
			}
		}
	}
	return runtimeSys(), nil
}

// UsingProcfs reports whether samples come from /proc.
func (s *ProcessSampler) UsingProcfs() bool {
	s.once.Do(func() {
		s.proc, s.procErr = procfs.Self()
	})
	return s.procErr == nil
}

func runtimeSys() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}
