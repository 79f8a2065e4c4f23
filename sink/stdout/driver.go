// fleetrelay/sink/stdout/driver.go
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"fleetrelay/sink"
)

/* ────────── public config ────────── */
type Config struct {
	DelayMS      int       // artificial per-line delay
	PrintCounter bool      // prepend seq#
	Out          io.Writer // nil → os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // guards seq+out
	seq uint64
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Push(ctx context.Context, line []byte) error {
	if d.cfg.DelayMS > 0 {
		t := time.NewTimer(time.Duration(d.cfg.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	var err error
	if d.cfg.PrintCounter {
		_, err = fmt.Fprintf(d.cfg.Out, "[sink %06d] %s\n", d.seq, trimNL(line))
	} else {
		_, err = fmt.Fprintf(d.cfg.Out, "%s\n", trimNL(line))
	}
	return err
}

func (d *driver) Close() error { return nil }

/* ────────── internals ────────── */

func trimNL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		return b[:n-1]
	}
	return b
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
