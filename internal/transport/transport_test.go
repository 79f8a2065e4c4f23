package transport

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s, err := StartServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	go func() { _ = s.Serve() }()
	t.Cleanup(s.Stop)
	return s
}

func TestCheck_ReportsComponentStatus(t *testing.T) {
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := Check(ctx, s.Addr().String(), "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("process must start NOT_SERVING, got %v", got)
	}

	s.SetServing(Ingest, true)
	s.SetServing("", true)
	for _, c := range []string{"", Ingest} {
		got, err := Check(ctx, s.Addr().String(), c)
		if err != nil {
			t.Fatalf("Check %q: %v", c, err)
		}
		if got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("%q: want SERVING, got %v", c, got)
		}
	}

	s.SetServing(Ingest, false)
	if got, _ := Check(ctx, s.Addr().String(), Ingest); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("want NOT_SERVING after flip, got %v", got)
	}
}

func TestCheck_UnknownComponent(t *testing.T) {
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Check(ctx, s.Addr().String(), StoreWriter)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("want NotFound for an unregistered component, got %v", err)
	}
}
