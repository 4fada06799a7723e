// Package grpc serves and probes the gRPC health endpoint of each runtime.
package grpc

import (
	"net"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer is a gRPC server exposing the health service.
type HealthServer struct {
	server   *gogrpc.Server
	health   *health.Server
	listener net.Listener
	serveErr chan error
	stopOnce sync.Once
}

// ServeHealth starts serving health checks on listener. The overall status
// and every named service report SERVING until Stop.
func ServeHealth(listener net.Listener, services ...string) *HealthServer {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, name := range services {
		healthServer.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	s := &HealthServer{
		server:   server,
		health:   healthServer,
		listener: listener,
		serveErr: make(chan error, 1),
	}
	go func() {
		s.serveErr <- server.Serve(listener)
	}()
	return s
}

// Addr returns the listening address.
func (s *HealthServer) Addr() net.Addr {
	return s.listener.Addr()
}

// SetServing flips the status of service.
func (s *HealthServer) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Stop reports NOT_SERVING, drains in-flight calls and waits for Serve to
// return.
func (s *HealthServer) Stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		s.server.GracefulStop()
		<-s.serveErr
	})
}
