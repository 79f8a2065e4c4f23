package engine

import (
	"context"
	"database/sql"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fleetrelay/internal/config"
	"fleetrelay/internal/spec"
	"fleetrelay/internal/transport"
)

func testConfig(t *testing.T) spec.File {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Ingest.Addr = "127.0.0.1:0"
	cfg.Ingest.ShutdownGrace = 100 * time.Millisecond
	cfg.Relay.LogPath = filepath.Join(dir, "giis", "gdfs.data")
	cfg.Relay.Sinks = []string{"fifo"}
	cfg.Channel.Path = filepath.Join(dir, "giis", "ipc_to_db")
	cfg.Channel.OpenRetry = 5 * time.Millisecond
	cfg.Notifier.FIFOPath = filepath.Join(dir, "giis", "ipc_notify")
	cfg.Notifier.Interval = 20 * time.Millisecond
	cfg.Store.DSN = filepath.Join(dir, "prksys_db.db")
	cfg.Metrics.Addr = ""
	cfg.GRPC.Addr = "127.0.0.1:0"
	return cfg
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type row struct {
	Mac     string
	Status  string
	X, Y, Z float64
}

func readRows(dsn string) ([]row, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.Query("SELECT mac_address, status, x, y, z FROM customer_data ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Mac, &r.Status, &r.X, &r.Y, &r.Z); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func TestEngine_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := Bootstrap(ctx, cfg, Roles{Collector: true, StoreWriter: true})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	conn, err := net.Dial("tcp", e.IngestAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("AA:BB:CC:DD:EE:FF: D: x 12.34 y 56.78 z 90.12\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []row
	eventually(t, "first insert", func() bool {
		got, err = readRows(cfg.Store.DSN)
		return err == nil && len(got) == 1
	})
	want := row{Mac: "AA:BB:CC:DD:EE:FF", Status: "D", X: 12.34, Y: 56.78, Z: 90.12}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Fatalf("row (-want +got):\n%s", diff)
	}

	if _, err := conn.Write([]byte("garbage\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, "decode failure", func() bool {
		return testutil.ToFloat64(e.Metrics().DecodeFailures) == 1
	})

	hctx, hcancel := context.WithTimeout(ctx, 5*time.Second)
	st, err := transport.Check(hctx, e.HealthAddr().String(), transport.Ingest)
	hcancel()
	if err != nil || st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("ingest health: %v %v", st, err)
	}

	_ = conn.Close()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("engine did not stop")
	}

	raw, err := os.ReadFile(cfg.Relay.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(raw) != "AA:BB:CC:DD:EE:FF: D: x 12.34 y 56.78 z 90.12\ngarbage\n" {
		t.Fatalf("durable log holds %q", raw)
	}
	if got, err := readRows(cfg.Store.DSN); err != nil || len(got) != 1 {
		t.Fatalf("garbage must not be inserted: rows=%v err=%v", got, err)
	}
	if _, err := os.Lstat(cfg.Notifier.FIFOPath); !os.IsNotExist(err) {
		t.Fatalf("notifier pipe left behind: %v", err)
	}
}

func TestBootstrap_SecondCollectorIsRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Addr = ""
	ctx := context.Background()

	first, err := Bootstrap(ctx, cfg, Roles{Collector: true})
	if err != nil {
		t.Fatalf("first Bootstrap: %v", err)
	}
	defer first.abort()

	if _, err := Bootstrap(ctx, cfg, Roles{Collector: true}); err == nil {
		t.Fatal("second collector on the same durable log must fail")
	}
}

func TestBootstrap_NoRole(t *testing.T) {
	if _, err := Bootstrap(context.Background(), testConfig(t), Roles{}); err == nil {
		t.Fatal("want error without roles")
	}
}
