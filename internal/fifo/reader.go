package fifo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"fleetrelay/internal/lines"

	"golang.org/x/sys/unix"
)

// State is where a Reader is in its open/read/reopen cycle.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateReading
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateReading:
		return "reading"
	default:
		return "closed"
	}
}

// Reader tails a named pipe across writer lifetimes:
//
//	Closed -> Opening -> Reading -> (EOF) -> Opening -> ...
//
// Opening blocks until a writer attaches. End of stream means every writer
// closed its end; the reader closes and waits for the next one.
type Reader struct {
	path    string
	maxLine int

	state   atomic.Int32
	reopens atomic.Uint64

	// OnReopen, if set, runs after each end of stream.
	OnReopen func()
	// OnDiscard, if set, runs for each line longer than maxLine.
	OnDiscard func()
}

func NewReader(path string, maxLine int) *Reader {
	return &Reader{path: path, maxLine: maxLine}
}

func (r *Reader) State() State    { return State(r.state.Load()) }
func (r *Reader) Reopens() uint64 { return r.reopens.Load() }

// Run emits every line until ctx is done or emit fails. A writer that
// hangs up mid-line still gets its tail delivered as one line. Run returns
// nil on cancellation.
func (r *Reader) Run(ctx context.Context, emit func(line []byte) error) error {
	defer r.state.Store(int32(StateClosed))

	for {
		r.state.Store(int32(StateOpening))
		f, err := r.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		r.state.Store(int32(StateReading))
		err = r.consume(ctx, f, emit)
		_ = f.Close()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		r.reopens.Add(1)
		if r.OnReopen != nil {
			r.OnReopen()
		}
	}
}

// open blocks in open(2) until a writer shows up. Cancellation is delivered
// by briefly attaching a writer ourselves so the pending open returns.
func (r *Reader) open(ctx context.Context) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(r.path, os.O_RDONLY, 0)
		ch <- result{f, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("fifo: open %s: %w", r.path, res.err)
		}
		return res.f, nil
	case <-ctx.Done():
	}

	kick, err := os.OpenFile(r.path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err == nil {
		res := <-ch
		if res.f != nil {
			_ = res.f.Close()
		}
		_ = kick.Close()
	} else {
		go func() {
			if res := <-ch; res.f != nil {
				_ = res.f.Close()
			}
		}()
	}
	return nil, ctx.Err()
}

func (r *Reader) consume(ctx context.Context, f *os.File, emit func([]byte) error) error {
	stop := context.AfterFunc(ctx, func() { _ = f.SetReadDeadline(time.Now()) })
	defer stop()

	sp := lines.NewSplitter(r.maxLine)
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			dropped, ferr := sp.Feed(buf[:n], emit)
			for ; dropped > 0 && r.OnDiscard != nil; dropped-- {
				r.OnDiscard()
			}
			if ferr != nil {
				return ferr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if tail := sp.Rest(); len(tail) > 0 {
				return emit(tail)
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("fifo: read %s: %w", r.path, err)
	}
}
