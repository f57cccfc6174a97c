package voiceserver

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/pagecast/narrator/internal/resilience"
	"github.com/pagecast/narrator/internal/tts"
)

// HealthServiceName is the gRPC health service name of the voice server
const HealthServiceName = "narrator.VoiceServer"

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 and the health
// server backing it
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    30 * time.Second,
		Timeout: 5 * time.Second,
	}))
	hs := health.NewServer()
	hs.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// TrackBreaker flips the serving status whenever the upstream circuit
// breaker opens or closes
func TrackBreaker(hs *health.Server, cb *resilience.CircuitBreaker) {
	cb.OnStateChange(func(name string, state resilience.CircuitState) {
		tts.RecordBreakerState(name, state)
		status := healthpb.HealthCheckResponse_SERVING
		if state == resilience.StateOpen {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(HealthServiceName, status)
	})
}

// HealthClient checks the voice server over gRPC
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// NewHealthClient creates a client for the voice server gRPC endpoint at target
func NewHealthClient(target string, opts ...grpc.DialOption) (*HealthClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice server client: %w", err)
	}
	return &HealthClient{conn: conn, client: healthpb.NewHealthClient(conn)}, nil
}

// HealthCheck reports whether the voice server is serving
func (c *HealthClient) HealthCheck(ctx context.Context) (bool, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the connection
func (c *HealthClient) Close() error {
	return c.conn.Close()
}
