package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fleetrelay/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetrelay"

// Metrics groups every counter the relay components update. Components take
// a *Metrics; tests build one over a private registry.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	LinesReceived       prometheus.Counter
	LinesDiscarded      *prometheus.CounterVec // reason
	HandoffOverwrites   prometheus.Counter

	RecordsLogged   prometheus.Counter
	ChannelFailures *prometheus.CounterVec // sink
	Notifications   *prometheus.CounterVec // result

	DecodeFailures prometheus.Counter
	Inserts        *prometheus.CounterVec // result
	ChannelReopens prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "connections_accepted_total",
			Help: "Producer connections admitted.",
		}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "connections_active",
			Help: "Connections currently holding an admission token.",
		}),
		LinesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "lines_received_total",
			Help: "Complete lines written into the hand-off buffer.",
		}),
		LinesDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "lines_discarded_total",
			Help: "Lines dropped or truncated on the way into the hand-off buffer.",
		}, []string{"reason"}),
		HandoffOverwrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "handoff", Name: "overwrites_total",
			Help: "Writes that replaced a value no drain had read.",
		}),
		RecordsLogged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "records_logged_total",
			Help: "Lines appended to the durable log.",
		}),
		ChannelFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "channel_failures_total",
			Help: "Failed writes to an output channel.",
		}, []string{"sink"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifier", Name: "notifications_total",
			Help: "Change notifications by outcome.",
		}, []string{"result"}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storewriter", Name: "decode_failures_total",
			Help: "Lines rejected by the record codec.",
		}),
		Inserts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storewriter", Name: "inserts_total",
			Help: "Store inserts by outcome.",
		}, []string{"result"}),
		ChannelReopens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storewriter", Name: "channel_reopens_total",
			Help: "Times the ordered channel was reopened after end of stream.",
		}),
	}
}

// Discard returns metrics registered nowhere.
func Discard() *Metrics { return NewMetrics(prometheus.NewRegistry()) }

// Expose serves /metrics on addr until ctx is done.
func Expose(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.L().Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
