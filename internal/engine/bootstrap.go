package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fleetrelay/internal/durablelog"
	"fleetrelay/internal/fifo"
	"fleetrelay/internal/handoff"
	"fleetrelay/internal/ingest"
	"fleetrelay/internal/notify"
	"fleetrelay/internal/pipeline"
	"fleetrelay/internal/relay"
	"fleetrelay/internal/spec"
	"fleetrelay/internal/store"
	"fleetrelay/internal/storewriter"
	"fleetrelay/internal/telemetry"
	"fleetrelay/internal/transport"
)

// Roles selects which halves of the pipeline this process runs.
type Roles struct {
	Collector   bool
	StoreWriter bool
}

// Bootstrap builds every component the roles need. Bind and open errors
// surface here, before anything runs. Whatever was opened is released if a
// later step fails.
func Bootstrap(ctx context.Context, cfg spec.File, roles Roles) (_ *Engine, err error) {
	if !roles.Collector && !roles.StoreWriter {
		return nil, errors.New("engine: no role selected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e := &Engine{cfg: cfg, roles: roles, reg: reg, metrics: telemetry.NewMetrics(reg)}
	defer func() {
		if err != nil {
			e.abort()
		}
	}()

	// 1. health endpoint
	if cfg.GRPC.Addr != "" {
		if e.health, err = transport.StartServer(cfg.GRPC.Addr); err != nil {
			return nil, err
		}
	}

	// 2. collector: slot, durable log, outputs, ingest, notifier
	if roles.Collector {
		if err = e.buildCollector(); err != nil {
			return nil, err
		}
	}

	// 3. store writer
	if roles.StoreWriter {
		if err = e.buildStoreWriter(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) buildCollector() error {
	cfg := e.cfg
	e.buf = handoff.New(cfg.Handoff.MaxBytes)

	lw, err := durablelog.Open(cfg.Relay.LogPath)
	if errors.Is(err, durablelog.ErrLocked) {
		return fmt.Errorf("engine: %s is held by another collector: %w", cfg.Relay.LogPath, err)
	}
	if err != nil {
		return err
	}
	e.dlog = lw

	outs, err := pipeline.CompileSinks(cfg, e.metrics)
	if err != nil {
		return err
	}
	e.drain = relay.New(e.buf, lw, cfg.Relay.PollInterval, e.metrics, outs...)

	e.ingest = ingest.New(ingest.Config{
		Addr:          cfg.Ingest.Addr,
		MaxClients:    cfg.Ingest.MaxClients,
		MaxLineBytes:  cfg.Ingest.MaxLineBytes,
		ShutdownGrace: cfg.Ingest.ShutdownGrace,
	}, e.buf, e.metrics)
	if err := e.ingest.Listen(); err != nil {
		return err
	}

	if cfg.Notifier.Enabled {
		if err := fifo.Ensure(cfg.Notifier.FIFOPath, 0o666); err != nil {
			return fmt.Errorf("engine: notifier pipe: %w", err)
		}
		nc := notify.Config{Interval: cfg.Notifier.Interval, Payload: cfg.Notifier.Payload}
		if cfg.Notifier.UnlinkOnExit {
			nc.UnlinkPath = cfg.Notifier.FIFOPath
		}
		sender := fifo.NewWriter(cfg.Notifier.FIFOPath, fifo.Drop, 0)
		e.notifier = notify.New(nc, e.buf, sender, e.metrics)
	}
	return nil
}

func (e *Engine) buildStoreWriter(ctx context.Context) error {
	cfg := e.cfg
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	e.store = st

	src, err := pipeline.CompileSource(cfg, e.metrics)
	if err != nil {
		return err
	}
	e.writer = storewriter.New(src, st, e.metrics)
	return nil
}

// OpenStore connects to the configured store and creates the tables when
// store.create_schema is set.
func OpenStore(ctx context.Context, cfg spec.File) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN,
		store.WithRecordsTable(cfg.Store.RecordsTable),
		store.WithPricesTable(cfg.Store.PricesTable),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Store.CreateSchema {
		if err := st.EnsureSchema(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return st, nil
}

// abort undoes a partial Bootstrap.
func (e *Engine) abort() {
	if e.ingest != nil {
		_ = e.ingest.Close()
	}
	if e.drain != nil {
		_ = e.drain.Close()
	}
	if e.writer != nil {
		_ = e.writer.Close()
	}
	e.release()
}
