package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fleetrelay/internal/config"
	"fleetrelay/internal/engine"
	"fleetrelay/internal/transport"
)

func writeConfig(t *testing.T) (path, dsn string) {
	t.Helper()
	dir := t.TempDir()
	dsn = filepath.Join(dir, "prksys_db.db")
	path = filepath.Join(dir, "relayd.yml")
	raw := "schema_version: v1\n" +
		"relay:\n  log_path: " + filepath.Join(dir, "gdfs.data") + "\n" +
		"store:\n  driver: sqlite\n  dsn: " + dsn + "\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dsn
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCmd_PrintsMergedConfig(t *testing.T) {
	path, dsn := writeConfig(t)
	t.Setenv("RELAY__INGEST__MAX_CLIENTS", "3")

	out, err := execute(t, "config", "--config", path)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	for _, want := range []string{"max_clients: 3", "dsn: " + dsn} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestPricesCmd_ListsTable(t *testing.T) {
	path, dsn := writeConfig(t)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st, err := engine.OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	_ = st.Close()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec("INSERT INTO prices (location, price) VALUES (?, ?), (?, ?)", "Hauptbahnhof", 2.5, "Altstadt", 3); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = db.Close()

	out, err := execute(t, "prices", "-c", path)
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "LOCATION") ||
		!strings.Contains(lines[1], "Hauptbahnhof") || !strings.Contains(lines[2], "3.00") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestReplayCmd_ReportsStats(t *testing.T) {
	path, _ := writeConfig(t)
	logPath := filepath.Join(t.TempDir(), "gdfs.data")
	raw := "AA:BB:CC:DD:EE:FF: D: x 12.34 y 56.78 z 90.12\nnoise\n"
	if err := os.WriteFile(logPath, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "replay", logPath, "--config", path)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if strings.TrimSpace(out) != "lines=2 inserted=1 rejected=1 failed=0" {
		t.Fatalf("unexpected stats %q", out)
	}
}

func TestServeCmd_RejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.yml")
	if err := os.WriteFile(path, []byte("schema_version: v9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "run", "--config", path); err == nil {
		t.Fatal("want schema error")
	}
}

func TestHealthCmd(t *testing.T) {
	srv, err := transport.StartServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	go func() { _ = srv.Serve() }()
	defer srv.Stop()
	srv.SetServing(transport.Relay, true)

	path := filepath.Join(t.TempDir(), "relayd.yml")
	raw := "grpc:\n  addr: " + srv.Addr().String() + "\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "health", "relay", "--json", "--config", path)
	if err != nil {
		t.Fatalf("health relay: %v", err)
	}
	if !strings.Contains(out, `"SERVING"`) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := execute(t, "health", "--config", path); err == nil {
		t.Fatal("process status was never set, want NOT_SERVING error")
	}
}

func TestDialAddr(t *testing.T) {
	cases := map[string]string{":7070": "localhost:7070", "10.0.0.1:7070": "10.0.0.1:7070"}
	for in, want := range cases {
		if got := dialAddr(in); got != want {
			t.Fatalf("dialAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
