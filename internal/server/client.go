package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/periperidip/rtsched/internal/monitor"
)

// Client queries a running monitor service.
type Client struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
}

// NewClient connects to addr without transport security. Extra dial
// options are appended.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to monitor %s: %w", addr, err)
	}
	return &Client{conn: conn, health: grpc_health_v1.NewHealthClient(conn)}, nil
}

// Status fetches the monitor status.
func (c *Client) Status(ctx context.Context) (monitor.Status, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetStatusMethod, &emptypb.Empty{}, out); err != nil {
		return monitor.Status{}, fmt.Errorf("get status: %w", err)
	}
	st, err := fromStruct(out)
	if err != nil {
		return monitor.Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Healthy reports whether the monitor service is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
