package memmon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/viewkit/viewkit/pkg/errors"
)

// Profiler writes pprof snapshots when memory pressure turns critical.
type Profiler struct {
	outputDir string
}

// NewProfiler creates a profiler writing into outputDir, creating it if needed.
func NewProfiler(outputDir string) (*Profiler, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "create profile directory", err).
			WithComponent("memory-monitor").
			WithDetail("dir", outputDir)
	}
	return &Profiler{outputDir: outputDir}, nil
}

// WriteHeapProfile writes a heap profile and returns its path. An empty filename is generated
// from the current time.
func (p *Profiler) WriteHeapProfile(filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("heap_%d.prof", time.Now().UnixNano())
	}

	// GC first so the profile reflects live objects.
	runtime.GC()
	return p.write(filename, func(f *os.File) error {
		return pprof.WriteHeapProfile(f)
	})
}

// WriteGoroutineProfile writes a goroutine profile and returns its path.
func (p *Profiler) WriteGoroutineProfile(filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("goroutine_%d.prof", time.Now().UnixNano())
	}
	return p.write(filename, func(f *os.File) error {
		return pprof.Lookup("goroutine").WriteTo(f, 0)
	})
}

// WriteAllProfiles writes heap and goroutine profiles sharing prefix.
func (p *Profiler) WriteAllProfiles(prefix string) ([]string, error) {
	stamp := time.Now().UnixNano()
	heap, err := p.WriteHeapProfile(fmt.Sprintf("%s_heap_%d.prof", prefix, stamp))
	if err != nil {
		return nil, err
	}
	goroutines, err := p.WriteGoroutineProfile(fmt.Sprintf("%s_goroutine_%d.prof", prefix, stamp))
	if err != nil {
		return []string{heap}, err
	}
	return []string{heap, goroutines}, nil
}

func (p *Profiler) write(filename string, fn func(*os.File) error) (path string, err error) {
	path = filepath.Join(p.outputDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeOperationFailed, "create profile", err).
			WithComponent("memory-monitor")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(errors.ErrCodeOperationFailed, "close profile", cerr).
				WithComponent("memory-monitor")
		}
	}()

	if err := fn(f); err != nil {
		return "", errors.Wrap(errors.ErrCodeOperationFailed, "write profile", err).
			WithComponent("memory-monitor")
	}
	return path, nil
}
