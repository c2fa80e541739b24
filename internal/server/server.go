// Package server exposes the service surfaces: a gRPC listener carrying the
// standard health service plus reflection, an HTTP listener with the JSON
// read/admin routes, and a dedicated Prometheus metrics listener.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"stratbook/internal/observability"
	"stratbook/internal/reconcile"
	"stratbook/internal/snapshot"
)

// StatusWriter is the store surface the admin handlers need.
type StatusWriter interface {
	UpdateStratStatus(ctx context.Context, id string, d snapshot.StratStatusDelta) error
}

// Deps holds the collaborators behind the HTTP/gRPC surfaces.
type Deps struct {
	StratID string
	Cache   *snapshot.StratCache
	Store   StatusWriter
	Engine  *reconcile.Engine
	Health  *observability.HealthChecker
	Log     zerolog.Logger
}

// Server runs the three listeners.
type Server struct {
	deps        Deps
	grpcAddr    string
	httpAddr    string
	metricsAddr string

	grpcServer    *grpc.Server
	healthService *health.Server
}

func New(grpcAddr, httpAddr, metricsAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()
	healthService := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthService)
	reflection.Register(grpcServer)

	return &Server{
		deps:          deps,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		metricsAddr:   metricsAddr,
		grpcServer:    grpcServer,
		healthService: healthService,
	}
}

// SetServing flips the gRPC health service once the readiness ladder
// completes.
func (s *Server) SetServing(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthService.SetServingStatus("", status)
}

// RunGRPC serves the gRPC listener until ctx is cancelled (blocking).
func (s *Server) RunGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.deps.Log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.deps.Log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// RunHTTP serves the JSON routes until ctx is cancelled (blocking).
func (s *Server) RunHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return err
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	httpMux.Handle("/", mux)

	return s.serve(ctx, s.httpAddr, httpMux, "HTTP server")
}

// RunMetrics serves /metrics on its own listener (blocking).
func (s *Server) RunMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return s.serve(ctx, s.metricsAddr, mux, "metrics server")
}

func (s *Server) serve(ctx context.Context, addr string, handler http.Handler, name string) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		s.deps.Log.Info().Str("server", name).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.deps.Log.Info().Str("addr", addr).Str("server", name).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
