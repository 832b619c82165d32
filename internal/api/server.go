package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"reserva/internal/config"
	"reserva/internal/logging"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the name reported by the ops health endpoint.
const HealthService = "reserva"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// GRPCServer is the ops endpoint: standard gRPC health checking and reflection.
type GRPCServer struct {
	cfg      config.APIGRPCConfig
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	deps     []Pinger
	log      *zerolog.Logger
}

func NewGRPCServer(cfg config.APIGRPCConfig, logger *zerolog.Logger, deps ...Pinger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	unary := ChainUnaryInterceptors(
		RecoveryUnaryInterceptor(logger),
		LoggingUnaryInterceptor(logger),
	)
	serverOpts := []grpc.ServerOption{grpc.UnaryInterceptor(unary)}
	if cfg.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			_ = lis.Close()
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	grpcServer := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	if cfg.Reflection {
		reflection.Register(grpcServer)
	}

	return &GRPCServer{
		cfg:      cfg,
		server:   grpcServer,
		health:   hs,
		listener: lis,
		deps:     deps,
		log:      logging.Component(logger, "grpc"),
	}, nil
}

func buildTLSConfig(cfg config.APITLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("grpc tls enabled but cert_file/key_file not set")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load grpc tls keypair: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.RequireClientCert {
		if cfg.ClientCAFile == "" {
			return nil, fmt.Errorf("grpc tls require_client_cert=true but client_ca_file not set")
		}
		caPEM, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client_ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse client_ca_file PEM")
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		tlsCfg.ClientCAs = pool
	}

	return tlsCfg, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC ops endpoint listening")
	return s.server.Serve(s.listener)
}

// CheckDependencies pings every dependency once and updates the health status.
func (s *GRPCServer) CheckDependencies(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for _, d := range s.deps {
		if err := d.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("dependency check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	s.health.SetServingStatus(HealthService, status)
	s.health.SetServingStatus("", status)
}

// WatchDependencies runs CheckDependencies every interval until ctx is done.
func (s *GRPCServer) WatchDependencies(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.CheckDependencies(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}
