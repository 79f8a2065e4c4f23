package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func Dial(addr string) (healthpb.HealthClient, *grpc.ClientConn, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return healthpb.NewHealthClient(cc), cc, nil
}

// Check asks the relayd at addr for the status of one component.
func Check(ctx context.Context, addr, component string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	cli, cc, err := Dial(addr)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer cc.Close()

	resp, err := cli.Check(ctx, &healthpb.HealthCheckRequest{Service: component})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("transport: check %q: %w", component, err)
	}
	return resp.GetStatus(), nil
}
