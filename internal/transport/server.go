// Package transport is the control-plane endpoint of relayd. It serves the
// standard gRPC health protocol with one service name per component.
package transport

import (
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fleetrelay/internal/logging"
)

// Component service names reported through the health protocol. The empty
// name is the overall process status.
const (
	Ingest      = "ingest"
	Relay       = "relay"
	Notifier    = "notifier"
	StoreWriter = "storewriter"
)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartServer binds addr and registers the health service. Every component
// starts as NOT_SERVING until the engine marks it.
func StartServer(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// SetServing flips the status of one component, or of the whole process
// when component is "".
func (s *Server) SetServing(component string, ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(component, st)
}

func (s *Server) Serve() error {
	logging.For("transport").Info("health endpoint listening", "addr", s.lis.Addr().String())
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop reports NOT_SERVING to watchers and then drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	_ = s.lis.Close()
}
