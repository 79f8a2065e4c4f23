package stdout

import (
	"bytes"
	"context"
	"testing"

	"fleetrelay/sink"
)

func TestStdoutSink_PrintsWithCounter(t *testing.T) {
	s, err := sink.NewAdapter("stdout")
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	var out bytes.Buffer
	if err := s.Configure(Config{PrintCounter: true, Out: &out}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	_ = s.Push(context.Background(), []byte("a: D: x 1 y 2 z 3\n"))
	_ = s.Push(context.Background(), []byte("b: D: x 1 y 2 z 3"))

	want := "[sink 000001] a: D: x 1 y 2 z 3\n[sink 000002] b: D: x 1 y 2 z 3\n"
	if out.String() != want {
		t.Fatalf("want %q, got %q", want, out.String())
	}
}

func TestStdoutSink_RejectsForeignConfig(t *testing.T) {
	s, _ := sink.NewAdapter("stdout")
	if err := s.Configure(struct{}{}); err == nil {
		t.Fatal("expected error for wrong config type")
	}
}
