// Package fifo is the ordered-channel sink: one line per write into a named
// pipe read by the store writer.
package fifo

import (
	"context"
	"fmt"
	"time"

	"fleetrelay/internal/fifo"
	"fleetrelay/sink"
)

type Config struct {
	Path      string
	Mode      fifo.Mode
	OpenRetry time.Duration
}

type driver struct {
	cfg Config
	w   *fifo.Writer
}

// Configure creates the pipe if needed. A path that exists but is not a
// pipe is a setup error.
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("fifo-sink: expected Config, got %T", raw)
	}
	if err := fifo.Ensure(c.Path, 0o666); err != nil {
		return err
	}
	d.cfg = c
	d.w = fifo.NewWriter(c.Path, c.Mode, c.OpenRetry)
	return nil
}

func (d *driver) Push(ctx context.Context, line []byte) error {
	return d.w.Write(ctx, line)
}

func (d *driver) Close() error {
	if d.w == nil {
		return nil
	}
	return d.w.Close()
}

func init() { sink.Register("fifo", func() sink.Adapter { return &driver{} }) }
