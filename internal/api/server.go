package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix prefixes the per-collector gRPC health service names.
const ServicePrefix = "flowspectra.collector."

// Source is the running engine the API reads from.
type Source interface {
	Collectors() []model.Collector
	Collector(name string) (model.Collector, bool)
	Elapsed() time.Duration
}

// Server serves the status API over HTTP and a health service over gRPC.
type Server struct {
	cfg      config.APIConfig
	src      Source
	registry *prometheus.Registry
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a server for src. Metrics are served from registry when
// it is not nil.
func NewServer(cfg config.APIConfig, src Source, registry *prometheus.Registry, log logrus.FieldLogger) *Server {
	s := &Server{
		cfg:      cfg,
		src:      src,
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		health: health.NewServer(),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, c := range src.Collectors() {
		s.health.SetServingStatus(ServicePrefix+c.Name(), healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/collectors", s.handleCollectors).Methods(http.MethodGet)
	api.HandleFunc("/stats/{collector}", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{collector}", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/stream/{collector}", s.handleStream)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Start listens on the configured HTTP and gRPC addresses. The gRPC server
// is skipped when no address is configured.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		s.log.WithField("addr", s.cfg.ListenAddr).Info("HTTP API server starting")
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	if s.cfg.GRPCAddr == "" {
		return nil
	}
	glis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCAddr, err)
	}
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	go func() {
		s.log.WithField("addr", s.cfg.GRPCAddr).Info("gRPC health server starting")
		if err := s.grpcServer.Serve(glis); err != nil {
			s.log.WithError(err).Error("gRPC server error")
		}
	}()
	return nil
}

// Shutdown marks every service as not serving and stops both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
