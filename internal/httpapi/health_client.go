package httpapi

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrNotServing is returned by HealthClient.Check for a service that is known
// but not ready.
var ErrNotServing = errors.New("service not serving")

// HealthClient probes a running scheduler over the gRPC health protocol.
type HealthClient struct {
	conn *grpc.ClientConn
	svc  healthpb.HealthClient
}

// DialHealth creates a client; without options the transport is insecure.
func DialHealth(target string, opts ...grpc.DialOption) (*HealthClient, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &HealthClient{conn: conn, svc: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *HealthClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check returns nil when service reports SERVING. The empty service name asks
// about the server as a whole.
func (c *HealthClient) Check(ctx context.Context, service string) error {
	ctx = outgoingWithRequestID(ctx)
	resp, err := c.svc.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("unknown service %q", service)
		}
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}
	return nil
}

func outgoingWithRequestID(ctx context.Context) context.Context {
	if rid := RequestIDFromContext(ctx); rid != "" {
		return metadata.AppendToOutgoingContext(ctx, "x-request-id", rid)
	}
	return ctx
}
