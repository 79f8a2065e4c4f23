// Package fifo wraps named pipes: creation, a writer that copes with absent
// readers, and a reader that reopens after every writer hangs up.
package fifo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var (
	ErrNotFIFO  = errors.New("fifo: path exists and is not a named pipe")
	ErrNoReader = errors.New("fifo: no reader attached")
)

// Ensure creates a named pipe at path with perm unless one already exists.
func Ensure(path string, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("fifo: mkdir %s: %w", dir, err)
		}
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%w: %s (%s)", ErrNotFIFO, path, fi.Mode().Type())
		}
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fifo: stat %s: %w", path, err)
	}

	if err := unix.Mkfifo(path, uint32(perm.Perm())); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return Ensure(path, perm)
		}
		return fmt.Errorf("fifo: mkfifo %s: %w", path, err)
	}
	// mkfifo honours the umask
	if err := os.Chmod(path, perm.Perm()); err != nil {
		return fmt.Errorf("fifo: chmod %s: %w", path, err)
	}
	return nil
}

// Remove unlinks the pipe at path. A missing path is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fifo: remove %s: %w", path, err)
	}
	return nil
}

// openWriteNonblock opens path for writing without waiting for a reader.
// ENXIO, meaning nobody has the pipe open for reading, maps to ErrNoReader.
func openWriteNonblock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return nil, ErrNoReader
		}
		return nil, fmt.Errorf("fifo: open %s: %w", path, err)
	}
	return f, nil
}
