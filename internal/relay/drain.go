// Package relay moves the pending hand-off value to the durable log and the
// output channels.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleetrelay/internal/logging"
	"fleetrelay/internal/telemetry"
	"fleetrelay/sink"
)

// Slot is the consuming side of the hand-off buffer.
type Slot interface {
	ReadAndClear() ([]byte, bool)
	Notify() <-chan struct{}
}

// Appender is the durable log.
type Appender interface {
	Append(line []byte) error
}

// Output is one named channel the drained line is forwarded to.
type Output struct {
	Name string
	Sink sink.Adapter
}

// FlushTimeout bounds the final drain after shutdown.
const FlushTimeout = time.Second

// Drain is the single consumer of the hand-off buffer.
type Drain struct {
	slot    Slot
	log     Appender
	outs    []Output
	poll    time.Duration
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func New(slot Slot, log Appender, poll time.Duration, m *telemetry.Metrics, outs ...Output) *Drain {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Drain{
		slot:    slot,
		log:     log,
		outs:    outs,
		poll:    poll,
		metrics: m,
		logger:  logging.For("relay"),
	}
}

// Run drains on every write notification and on each poll tick. A durable
// log failure ends Run with an error; channel failures are logged and the
// loop continues. On cancellation whatever is pending is drained once more.
func (d *Drain) Run(ctx context.Context) error {
	t := time.NewTicker(d.poll)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FlushTimeout)
			defer cancel()
			return d.Once(flushCtx)
		case <-d.slot.Notify():
		case <-t.C:
		}
		if err := d.Once(ctx); err != nil {
			return err
		}
	}
}

// Once performs a single drain iteration.
func (d *Drain) Once(ctx context.Context) error {
	line, ok := d.slot.ReadAndClear()
	if !ok {
		return nil
	}
	if err := d.log.Append(line); err != nil {
		return fmt.Errorf("relay: durable log: %w", err)
	}
	d.metrics.RecordsLogged.Inc()

	for _, o := range d.outs {
		if err := o.Sink.Push(ctx, line); err != nil {
			d.metrics.ChannelFailures.WithLabelValues(o.Name).Inc()
			d.logger.Warn("channel write failed", "sink", o.Name, "line", string(line), "err", err)
		}
	}
	return nil
}

// Close closes every output.
func (d *Drain) Close() error {
	var first error
	for _, o := range d.outs {
		if err := o.Sink.Close(); err != nil && first == nil {
			first = fmt.Errorf("relay: close %s: %w", o.Name, err)
		}
	}
	return first
}
