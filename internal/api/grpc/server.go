package grpc

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"fulfillment-engine/internal/api/grpc/interceptor"
	"fulfillment-engine/internal/security"
)

// NewServer builds the operational gRPC server exposing health and reflection.
func NewServer(tm security.TokenManager, monitor *HealthMonitor) *grpc.Server {
	auth := interceptor.NewAuthInterceptor(tm)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptor.Recovery(),
			auth.Unary(),
			interceptor.Logging(),
		),
	)
	healthpb.RegisterHealthServer(s, monitor.Server())
	reflection.Register(s)
	return s
}
