// Package engine wires the collector and the store writer and supervises
// them until shutdown.
package engine

import (
	"context"
	"errors"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"fleetrelay/internal/durablelog"
	"fleetrelay/internal/handoff"
	"fleetrelay/internal/ingest"
	"fleetrelay/internal/logging"
	"fleetrelay/internal/notify"
	"fleetrelay/internal/relay"
	"fleetrelay/internal/spec"
	"fleetrelay/internal/store"
	"fleetrelay/internal/storewriter"
	"fleetrelay/internal/telemetry"
	"fleetrelay/internal/transport"
)

type Engine struct {
	cfg     spec.File
	roles   Roles
	reg     *prometheus.Registry
	metrics *telemetry.Metrics
	health  *transport.Server

	buf      *handoff.Buffer
	dlog     *durablelog.Writer
	ingest   *ingest.Server
	drain    *relay.Drain
	notifier *notify.Notifier

	store  *store.Store
	writer *storewriter.Writer
}

// IngestAddr is the bound producer address, nil without the collector role.
func (e *Engine) IngestAddr() net.Addr {
	if e.ingest == nil {
		return nil
	}
	return e.ingest.Addr()
}

// HealthAddr is the bound health endpoint, nil when grpc.addr is empty.
func (e *Engine) HealthAddr() net.Addr {
	if e.health == nil {
		return nil
	}
	return e.health.Addr()
}

func (e *Engine) Metrics() *telemetry.Metrics { return e.metrics }

// Run blocks until ctx is done or a component fails fatally.
//
// Shutdown runs front to back: ingest stops accepting and lets open
// connections finish, then the relay drains the slot one last time and
// closes its outputs, and only then does the store writer stop reading.
func (e *Engine) Run(ctx context.Context) error {
	defer e.release()
	log := logging.For("engine")

	g, gctx := errgroup.WithContext(ctx)

	if addr := e.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return telemetry.Expose(gctx, addr, e.reg) })
	}
	if e.health != nil {
		g.Go(e.health.Serve)
		g.Go(func() error {
			<-gctx.Done()
			e.health.Stop()
			return nil
		})
	}

	// The store writer outlives the relay in a combined process so that the
	// final drain still has a reader on the ordered channel.
	swCtx := gctx
	if e.roles.Collector {
		downCtx, cancelDown := context.WithCancel(context.WithoutCancel(gctx))
		var cancelSW context.CancelFunc = func() {}
		if e.roles.StoreWriter {
			swCtx, cancelSW = context.WithCancel(context.WithoutCancel(gctx))
		}

		g.Go(func() error {
			defer cancelDown()
			defer e.setServing(transport.Ingest, false)
			e.setServing(transport.Ingest, true)
			return e.ingest.Serve(gctx)
		})
		g.Go(func() error {
			defer cancelSW()
			defer e.setServing(transport.Relay, false)
			e.setServing(transport.Relay, true)
			err := e.drain.Run(downCtx)
			if cerr := e.drain.Close(); cerr != nil {
				log.Warn("close outputs", "err", cerr)
			}
			return err
		})
		if e.notifier != nil {
			g.Go(func() error {
				defer e.setServing(transport.Notifier, false)
				e.setServing(transport.Notifier, true)
				return e.notifier.Run(downCtx)
			})
		}
	}

	if e.roles.StoreWriter {
		g.Go(func() error {
			defer e.setServing(transport.StoreWriter, false)
			e.setServing(transport.StoreWriter, true)
			return e.writer.Run(swCtx)
		})
	}

	e.setServing("", true)
	log.Info("relayd running", "collector", e.roles.Collector, "storewriter", e.roles.StoreWriter)

	err := g.Wait()
	e.setServing("", false)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine stopped", "err", err)
		return err
	}
	log.Info("engine stopped")
	return nil
}

func (e *Engine) setServing(component string, ok bool) {
	if e.health != nil {
		e.health.SetServing(component, ok)
	}
}

// release closes what Run does not: the durable log, the store and the
// health listener when Run never started.
func (e *Engine) release() {
	if e.dlog != nil {
		if err := e.dlog.Close(); err != nil {
			logging.L().Warn("close durable log", "err", err)
		}
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.health != nil {
		e.health.Stop()
	}
}
