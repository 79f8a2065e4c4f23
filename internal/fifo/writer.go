package fifo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Mode decides what a write does while no reader holds the pipe.
type Mode int

const (
	// Block waits for a reader to attach.
	Block Mode = iota
	// Drop discards the line and reports ErrNoReader.
	Drop
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "drop":
		return Drop, nil
	}
	return Block, fmt.Errorf("fifo: unknown no-reader mode %q", s)
}

func (m Mode) String() string {
	if m == Drop {
		return "drop"
	}
	return "block"
}

// Writer delivers lines to a named pipe, at most once each. The pipe is
// opened lazily and dropped when the reader goes away.
type Writer struct {
	path  string
	mode  Mode
	retry time.Duration

	mu sync.Mutex
	f  *os.File
}

func NewWriter(path string, mode Mode, retry time.Duration) *Writer {
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	return &Writer{path: path, mode: mode, retry: retry}
}

func (w *Writer) Path() string { return w.path }

// Write sends line, appending a newline if it lacks one.
func (w *Writer) Write(ctx context.Context, line []byte) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append(make([]byte, 0, len(line)+1), line...), '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		if err := w.attachLocked(ctx); err != nil {
			return err
		}
		err := w.writeLocked(ctx, line)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EPIPE) {
			if ctx.Err() != nil {
				w.detachLocked()
			}
			return err
		}
		// reader hung up before taking the line; nothing was delivered
		w.detachLocked()
		if w.mode == Drop {
			return ErrNoReader
		}
	}
}

func (w *Writer) attachLocked(ctx context.Context) error {
	if w.f != nil {
		return nil
	}
	for {
		f, err := openWriteNonblock(w.path)
		if err == nil {
			w.f = f
			return nil
		}
		if !errors.Is(err, ErrNoReader) || w.mode == Drop {
			return err
		}
		t := time.NewTimer(w.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (w *Writer) writeLocked(ctx context.Context, line []byte) error {
	stop := context.AfterFunc(ctx, func() { _ = w.f.SetWriteDeadline(time.Now()) })
	defer stop()

	_, err := w.f.Write(line)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("fifo: write %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) detachLocked() {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
}

// Close releases the pipe. The next Write reopens it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.detachLocked()
	return nil
}
