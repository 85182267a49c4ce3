package inference

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/retina-screen/internal/logging"
)

// HealthProbe checks the inference service through the standard gRPC health protocol.
type HealthProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	logger  *zap.Logger
}

// DialHealthProbe connects lazily; the first Check establishes the connection.
func DialHealthProbe(ctx context.Context, addr, service string, logger *zap.Logger) (*HealthProbe, error) {
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		wrapped := logging.NewOperationError("inference.dial_health", "", err)
		logger.Error("failed to dial inference health endpoint", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &HealthProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		logger:  logger,
	}, nil
}

// Check returns nil when the service reports SERVING.
func (p *HealthProbe) Check(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return logging.NewOperationError("inference.health_check", "", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("inference service status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection.
func (p *HealthProbe) Close() error {
	return p.conn.Close()
}
