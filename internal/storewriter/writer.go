// Package storewriter decodes relayed lines and inserts them into the store.
package storewriter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fleetrelay/internal/codec"
	"fleetrelay/internal/durablelog"
	"fleetrelay/internal/logging"
	"fleetrelay/internal/telemetry"
	"fleetrelay/source"
)

// Inserter is the part of the store the writer needs.
type Inserter interface {
	InsertRecord(ctx context.Context, r codec.Record) error
	Ping(ctx context.Context) error
}

type outcome int

const (
	inserted outcome = iota
	rejected
	failed
)

type Writer struct {
	src     source.Adapter
	store   Inserter
	metrics *telemetry.Metrics
	log     *slog.Logger
}

func New(src source.Adapter, st Inserter, m *telemetry.Metrics) *Writer {
	return &Writer{src: src, store: st, metrics: m, log: logging.For("storewriter")}
}

// Run consumes the source until ctx is done or the store becomes
// unreachable. Malformed lines never stop it.
func (w *Writer) Run(ctx context.Context) error {
	w.log.Info("store writer started")
	err := w.src.Run(ctx, func(line []byte) error {
		_, err := w.handle(ctx, line)
		return err
	})
	if cerr := w.src.Close(); cerr != nil {
		w.log.Warn("close source", "err", cerr)
	}
	return err
}

// Close releases the source when Run was never called.
func (w *Writer) Close() error { return w.src.Close() }

// Handle processes one line. The only error it returns is a lost store
// connection.
func (w *Writer) Handle(ctx context.Context, line []byte) error {
	_, err := w.handle(ctx, line)
	return err
}

func (w *Writer) handle(ctx context.Context, line []byte) (outcome, error) {
	rec, err := codec.Decode(line)
	if err != nil {
		w.metrics.DecodeFailures.Inc()
		var pe *codec.ParseError
		if errors.As(err, &pe) {
			w.log.Warn("rejected line", "line", pe.Line, "reason", pe.Reason)
		} else {
			w.log.Warn("rejected line", "line", string(line), "err", err)
		}
		return rejected, nil
	}

	if err := w.store.InsertRecord(ctx, rec); err != nil {
		w.metrics.Inserts.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return failed, nil
		}
		if perr := w.store.Ping(ctx); perr != nil {
			return failed, fmt.Errorf("storewriter: store unreachable: %w", errors.Join(err, perr))
		}
		w.log.Error("insert failed", "source_id", rec.SourceID, "err", err)
		return failed, nil
	}
	w.metrics.Inserts.WithLabelValues("ok").Inc()
	return inserted, nil
}

// ReplayStats summarises a replay of the durable log.
type ReplayStats struct {
	Lines    int
	Inserted int
	Rejected int
	Failed   int
}

// Replay pushes every complete line of the durable log at path through the
// same decode and insert path as live traffic.
func (w *Writer) Replay(ctx context.Context, path string) (ReplayStats, error) {
	var st ReplayStats
	n, err := durablelog.Replay(path, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := w.handle(ctx, line)
		switch o {
		case inserted:
			st.Inserted++
		case rejected:
			st.Rejected++
		case failed:
			st.Failed++
		}
		return err
	})
	st.Lines = n
	if err != nil {
		return st, err
	}
	w.log.Info("replay finished", "path", path, "lines", st.Lines, "inserted", st.Inserted, "rejected", st.Rejected, "failed", st.Failed)
	return st, nil
}
