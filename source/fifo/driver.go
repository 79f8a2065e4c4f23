// Package fifo reads the ordered channel, reopening it whenever the relay
// side closes its end.
package fifo

import (
	"context"
	"fmt"

	"fleetrelay/internal/fifo"
	"fleetrelay/source"
)

type Config struct {
	Path         string
	MaxLineBytes int
	OnReopen     func()
	OnDiscard    func()
}

type Driver struct {
	cfg Config
	r   *fifo.Reader
}

func (d *Driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("fifo-source: expected Config, got %T", raw)
	}
	if err := fifo.Ensure(c.Path, 0o666); err != nil {
		return err
	}
	d.cfg = c
	d.r = fifo.NewReader(c.Path, c.MaxLineBytes)
	d.r.OnReopen = c.OnReopen
	d.r.OnDiscard = c.OnDiscard
	return nil
}

func (d *Driver) Run(ctx context.Context, emit source.EmitFunc) error {
	return d.r.Run(ctx, emit)
}

// Reader exposes the underlying state machine.
func (d *Driver) Reader() *fifo.Reader { return d.r }

// Close is a no-op; Run releases the pipe when its context ends.
func (d *Driver) Close() error { return nil }

func init() { source.Register("fifo", func() source.Adapter { return &Driver{} }) }
