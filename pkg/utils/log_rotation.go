package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig configures a rotating log file.
type RotationConfig struct {
	// Filename is the active log file.
	Filename string

	// MaxBytes rotates the file before a write would exceed it. Zero disables rotation.
	MaxBytes uint64

	// MaxBackups is how many rotated files are kept as Filename.1 ... Filename.N.
	MaxBackups int

	// Compress gzips rotated files (Filename.1.gz ...).
	Compress bool
}

// LogRotator is an io.WriteCloser that rotates its file by size. Backups are numbered, newest
// first.
type LogRotator struct {
	mu     sync.Mutex
	config RotationConfig
	file   *os.File
	size   uint64
}

var _ io.WriteCloser = (*LogRotator)(nil)

// NewLogRotator opens (or creates) the log file.
func NewLogRotator(config RotationConfig) (*LogRotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("log filename is required")
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 1
	}

	lr := &LogRotator{config: config}
	if err := lr.openFile(); err != nil {
		return nil, err
	}
	return lr, nil
}

// Write implements io.Writer
func (lr *LogRotator) Write(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return 0, os.ErrClosed
	}

	if lr.config.MaxBytes > 0 && lr.size > 0 && lr.size+uint64(len(p)) > lr.config.MaxBytes {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := lr.file.Write(p)
	lr.size += uint64(n)
	return n, err
}

// Close closes the log file
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	err := lr.file.Close()
	lr.file = nil
	return err
}

// Rotate forces a rotation.
func (lr *LogRotator) Rotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

// Backups lists the rotated files that currently exist, newest first.
func (lr *LogRotator) Backups() []string {
	var backups []string
	for i := 1; i <= lr.config.MaxBackups; i++ {
		name := lr.backupName(i)
		if _, err := os.Stat(name); err == nil {
			backups = append(backups, name)
		}
	}
	return backups
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		lr.file = nil
	}

	// Shift Filename.N-1 -> Filename.N, dropping the oldest.
	_ = os.Remove(lr.backupName(lr.config.MaxBackups))
	for i := lr.config.MaxBackups - 1; i >= 1; i-- {
		from := lr.backupName(i)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, lr.backupName(i+1)); err != nil {
				return fmt.Errorf("failed to shift log backup: %w", err)
			}
		}
	}

	first := filepath.Clean(lr.config.Filename) + ".1"
	if err := os.Rename(lr.config.Filename, first); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if lr.config.Compress {
		if err := gzipFile(first); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress log backup %s: %v\n", first, err)
		}
	}

	return lr.openFile()
}

func (lr *LogRotator) backupName(i int) string {
	name := fmt.Sprintf("%s.%d", filepath.Clean(lr.config.Filename), i)
	if lr.config.Compress {
		name += ".gz"
	}
	return name
}

func (lr *LogRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(lr.config.Filename), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	lr.file = file
	lr.size = uint64(info.Size())
	return nil
}

func gzipFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(filename+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}
