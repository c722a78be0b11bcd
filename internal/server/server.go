// ============================================================================
// rtsched Monitor Service - gRPC status endpoint
// ============================================================================
//
// Package: internal/server
// File: server.go
// Purpose: Serve the monitor status over gRPC so a second process (the
//          `rtsched status` command) can watch a running scheduler.
//
// Service:
//   rtsched.v1.Monitor/GetStatus(google.protobuf.Empty) -> google.protobuf.Struct
//
//   The response is the monitor.Status JSON document carried as a Struct,
//   so no generated code is needed on either side. The standard gRPC
//   health service is registered next to it.
//
// ============================================================================

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/periperidip/rtsched/internal/monitor"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "rtsched.v1.Monitor"
	// GetStatusMethod is the full method path of GetStatus.
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
)

// StatusProvider supplies the status served by GetStatus.
type StatusProvider interface {
	Status() monitor.Status
}

// MonitorServer is the server API of the monitor service.
type MonitorServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ServiceDesc describes the monitor service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rtsched/v1/monitor.proto",
}

func getStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MonitorServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStatusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MonitorServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Server serves the monitor service.
type Server struct {
	provider StatusProvider
	grpc     *grpc.Server
	health   *health.Server
	logger   *slog.Logger
}

// New creates a server backed by provider.
func New(provider StatusProvider, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		provider: provider,
		grpc:     grpc.NewServer(opts...),
		health:   health.NewServer(),
		logger:   logger,
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return s
}

// GetStatus returns the current monitor status.
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.provider == nil {
		return nil, status.Error(codes.Unavailable, "no status provider")
	}
	out, err := toStruct(s.provider.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Monitor service listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Stop marks the service not serving and drains open calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func toStruct(st monitor.Status) (*structpb.Struct, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(s *structpb.Struct) (monitor.Status, error) {
	var st monitor.Status
	data, err := protojson.Marshal(s)
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(data, &st)
	return st, err
}
