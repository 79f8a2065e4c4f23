package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fleetrelay/internal/durablelog"
	"fleetrelay/internal/handoff"
	"fleetrelay/internal/telemetry"
)

type captureSink struct {
	mu     sync.Mutex
	pushed []string
	err    error
}

func (c *captureSink) Configure(any) error { return nil }
func (c *captureSink) Push(_ context.Context, line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.pushed = append(c.pushed, string(line))
	return nil
}
func (c *captureSink) Close() error { return nil }

func (c *captureSink) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pushed...)
}

type failingLog struct{}

func (failingLog) Append([]byte) error { return errors.New("no space left on device") }

func openLog(t *testing.T) (*durablelog.Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gdfs.data")
	w, err := durablelog.Open(path, durablelog.WithoutSync())
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(raw)
}

func TestOnce_OneWriteOneDelivery(t *testing.T) {
	buf := handoff.New(1024)
	log, path := openLog(t)
	cs := &captureSink{}
	d := New(buf, log, 0, telemetry.Discard(), Output{"fifo", cs})

	buf.Write([]byte("dev: D: x 1.00 y 2.00 z 3.00"))
	if err := d.Once(context.Background()); err != nil {
		t.Fatalf("Once: %v", err)
	}
	if err := d.Once(context.Background()); err != nil {
		t.Fatalf("second Once: %v", err)
	}

	if got := readLog(t, path); got != "dev: D: x 1.00 y 2.00 z 3.00\n" {
		t.Fatalf("log must hold exactly one line, got %q", got)
	}
	if got := cs.lines(); len(got) != 1 {
		t.Fatalf("want one delivery, got %v", got)
	}
}

func TestOnce_LastWriteWins(t *testing.T) {
	buf := handoff.New(1024)
	log, path := openLog(t)
	cs := &captureSink{}
	d := New(buf, log, 0, telemetry.Discard(), Output{"fifo", cs})

	buf.Write([]byte("first"))
	buf.Write([]byte("second"))
	_ = d.Once(context.Background())

	if got := readLog(t, path); got != "second\n" {
		t.Fatalf("want only the second write logged, got %q", got)
	}
	if got := cs.lines(); len(got) != 1 || got[0] != "second" {
		t.Fatalf("want only second delivered, got %v", got)
	}
}

func TestOnce_ChannelFailureIsNotFatal(t *testing.T) {
	buf := handoff.New(1024)
	log, path := openLog(t)
	broken := &captureSink{err: errors.New("no reader")}
	ok := &captureSink{}
	m := telemetry.Discard()
	d := New(buf, log, 0, m, Output{"fifo", broken}, Output{"stdout", ok})

	buf.Write([]byte("garbage"))
	if err := d.Once(context.Background()); err != nil {
		t.Fatalf("channel failure must not end the drain: %v", err)
	}
	if got := readLog(t, path); got != "garbage\n" {
		t.Fatalf("unvalidated line must still be logged, got %q", got)
	}
	if len(ok.lines()) != 1 {
		t.Fatal("remaining outputs must still receive the line")
	}
	if got := testutil.ToFloat64(m.ChannelFailures.WithLabelValues("fifo")); got != 1 {
		t.Fatalf("want one fifo failure, got %v", got)
	}
}

func TestRun_LogFailureIsFatal(t *testing.T) {
	buf := handoff.New(1024)
	d := New(buf, failingLog{}, time.Hour, telemetry.Discard())
	buf.Write([]byte("x"))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("want durable log error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept going after a durable log failure")
	}
}

func TestRun_WakesOnWriteAndFlushesOnCancel(t *testing.T) {
	buf := handoff.New(1024)
	log, path := openLog(t)
	cs := &captureSink{}
	d := New(buf, log, time.Hour, telemetry.Discard(), Output{"fifo", cs})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	buf.Write([]byte("woken"))
	deadline := time.Now().Add(5 * time.Second)
	for len(cs.lines()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("write notification did not wake the drain")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	buf.Write([]byte("late"))
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readLog(t, path); got != "woken\nlate\n" && got != "woken\n" {
		t.Fatalf("unexpected log %q", got)
	}
}
