// Package notify tells a local listener that the hand-off slot changed.
package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"fleetrelay/internal/fifo"
	"fleetrelay/internal/logging"
	"fleetrelay/internal/telemetry"
)

// Peeker reads the slot without consuming it.
type Peeker interface {
	Peek() []byte
}

// Sender delivers the notification payload.
type Sender interface {
	Write(ctx context.Context, line []byte) error
	Close() error
}

type Config struct {
	Interval time.Duration
	Payload  string
	// UnlinkPath, if set, is removed when Run returns.
	UnlinkPath string
}

// Notifier samples the slot on a fixed interval and sends Payload whenever
// the sampled bytes differ from the previous sample, including a change to
// empty. Delivery is best effort.
type Notifier struct {
	cfg     Config
	slot    Peeker
	out     Sender
	metrics *telemetry.Metrics
	log     *slog.Logger

	last []byte
}

func New(cfg Config, slot Peeker, out Sender, m *telemetry.Metrics) *Notifier {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Payload == "" {
		cfg.Payload = "data received\n"
	}
	return &Notifier{cfg: cfg, slot: slot, out: out, metrics: m, log: logging.For("notifier")}
}

func (n *Notifier) Run(ctx context.Context) error {
	defer n.shutdown()

	t := time.NewTicker(n.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.Check(ctx)
		}
	}
}

// Check samples the slot once and reports whether a notification was due.
func (n *Notifier) Check(ctx context.Context) bool {
	cur := n.slot.Peek()
	if bytes.Equal(cur, n.last) {
		return false
	}
	n.last = cur

	err := n.out.Write(ctx, []byte(n.cfg.Payload))
	switch {
	case err == nil:
		n.metrics.Notifications.WithLabelValues("sent").Inc()
	case errors.Is(err, fifo.ErrNoReader):
		n.metrics.Notifications.WithLabelValues("dropped").Inc()
		n.log.Debug("no listener attached, notification dropped")
	default:
		n.metrics.Notifications.WithLabelValues("failed").Inc()
		n.log.Warn("notification failed", "err", err)
	}
	return true
}

func (n *Notifier) shutdown() {
	_ = n.out.Close()
	if n.cfg.UnlinkPath == "" {
		return
	}
	if err := fifo.Remove(n.cfg.UnlinkPath); err != nil {
		n.log.Warn("unlink notification pipe", "err", err)
	}
}
