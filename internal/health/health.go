package health

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "docker-queue"

// Server exposes the standard gRPC health service.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	logger       *logrus.Entry
}

func NewServer(logger *logrus.Entry) *Server {
	s := &Server{
		grpcServer:   grpc.NewServer(),
		healthServer: health.NewServer(),
		logger:       logger.WithField("component", "grpc-health"),
	}
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.SetServing(false)
	return s
}

// SetServing flips the status reported for ServiceName and the overall server.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, status)
	s.healthServer.SetServingStatus("", status)
}

// Serve blocks serving on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.WithField("addr", lis.Addr().String()).Info("gRPC health listening")
	return s.grpcServer.Serve(lis)
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return s.Serve(lis)
}

func (s *Server) Stop() {
	s.healthServer.Shutdown()
	s.grpcServer.GracefulStop()
}

// TrackCoordinator reports SERVING until done is closed.
func (s *Server) TrackCoordinator(done <-chan struct{}) {
	s.SetServing(true)
	go func() {
		<-done
		s.SetServing(false)
	}()
}
