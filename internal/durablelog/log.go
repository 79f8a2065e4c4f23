// Package durablelog is the append-only text log the relay writes every
// drained line to before forwarding it.
package durablelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrLocked means another process already owns the log for writing.
var ErrLocked = errors.New("durablelog: log is held by another writer")

type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	sync bool
}

type Option func(*Writer)

// WithoutSync skips fsync after each append; the write still reaches the
// kernel before Append returns.
func WithoutSync() Option { return func(w *Writer) { w.sync = false } }

// Open creates the parent directory and the file if needed and takes an
// exclusive advisory lock held until Close.
func Open(path string, opts ...Option) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("durablelog: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("durablelog: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("durablelog: lock %s: %w", path, err)
	}
	w := &Writer{path: path, f: f, sync: true}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

func (w *Writer) Path() string { return w.path }

// Append writes line as one newline-terminated entry and flushes it.
func (w *Writer) Append(line []byte) error {
	buf := line
	if len(buf) == 0 || buf[len(buf)-1] != '\n' {
		buf = make([]byte, 0, len(line)+1)
		buf = append(append(buf, line...), '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("durablelog: append to closed log %s", w.path)
	}
	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("durablelog: write %s: %w", w.path, err)
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("durablelog: sync %s: %w", w.path, err)
		}
	}
	return nil
}

// Close releases the lock. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Replay calls fn for every complete line in the log at path, without the
// newline. A trailing fragment left by an interrupted append is skipped.
// It returns the number of lines passed to fn.
func Replay(path string, fn func(line []byte) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("durablelog: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	n := 0
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("durablelog: read %s: %w", path, err)
		}
		if err := fn(line[:len(line)-1]); err != nil {
			return n, err
		}
		n++
	}
}
