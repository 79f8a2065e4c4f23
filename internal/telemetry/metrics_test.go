package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.LinesReceived.Add(3)
	m.ChannelFailures.WithLabelValues("fifo").Inc()

	if got := testutil.ToFloat64(m.LinesReceived); got != 3 {
		t.Fatalf("expected 3 lines, got %f", got)
	}
	want := `
# HELP fleetrelay_relay_channel_failures_total Failed writes to an output channel.
# TYPE fleetrelay_relay_channel_failures_total counter
fleetrelay_relay_channel_failures_total{sink="fifo"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "fleetrelay_relay_channel_failures_total"); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestDiscard_IsIndependent(t *testing.T) {
	a, b := Discard(), Discard()
	a.DecodeFailures.Inc()
	if got := testutil.ToFloat64(b.DecodeFailures); got != 0 {
		t.Fatalf("registries must not share counters, got %f", got)
	}
}
