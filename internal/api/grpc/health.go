package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fulfillment-engine/internal/logger"
)

// ServiceName is the health service name reported for the engine.
const ServiceName = "fulfillment.Engine"

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthMonitor publishes store reachability through the standard gRPC
// health service.
type HealthMonitor struct {
	server *health.Server
	store  Pinger
}

func NewHealthMonitor(store Pinger) *HealthMonitor {
	return &HealthMonitor{server: health.NewServer(), store: store}
}

func (m *HealthMonitor) Server() *health.Server { return m.server }

// Check pings the store once and updates the serving status of both the
// overall server and ServiceName.
func (m *HealthMonitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := m.store.Ping(ctx); err != nil {
		logger.Warn("Store ping failed", "error", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus("", st)
	m.server.SetServingStatus(ServiceName, st)
	return st
}

// Run checks on every tick until ctx is done, then marks the server as shutting down.
func (m *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	m.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
