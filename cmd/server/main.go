// Command bloodlink-server starts the BloodLink gRPC API and WebSocket feed.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/bloodlink/internal/api"
	"github.com/and161185/bloodlink/internal/config"
	"github.com/and161185/bloodlink/internal/feed"
	"github.com/and161185/bloodlink/internal/limiter"
	"github.com/and161185/bloodlink/internal/matcher"
	"github.com/and161185/bloodlink/internal/migrate"
	"github.com/and161185/bloodlink/internal/repository"
	"github.com/and161185/bloodlink/internal/repository/memory"
	"github.com/and161185/bloodlink/internal/repository/postgres"
	grpcserver "github.com/and161185/bloodlink/internal/server/grpc"
	"github.com/and161185/bloodlink/internal/server/ws"
	"github.com/and161185/bloodlink/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, opens storage and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := feed.NewHub(cfg.FeedBuffer, logger)
	defer hub.Close()

	repos, lim, cleanup := openStorage(ctx, cfg, hub, logger)
	defer cleanup()

	// Services
	key := []byte(cfg.JWTKey)
	authSvc := service.NewAuthService(repos.Users, repos.Donors, key, cfg.AccessTTL, lim, cfg.Admins)
	if err := authSvc.SeedAdmins(ctx, cfg.AdminPassword); err != nil {
		logger.Fatal("seed admins", zap.Error(err))
	}
	feedSvc := service.NewFeedService(hub, repos)
	app := grpcserver.New(grpcserver.Services{
		Auth:     authSvc,
		Requests: service.NewRequestService(repos, matcher.New(repos.Donors, cfg.MatchLimit), logger),
		Donors:   service.NewDonorService(repos.Donors, cfg.ProfileCooldown, logger),
		Events:   service.NewEventService(repos.Events),
		Feed:     feedSvc,
	}, logger)
	identity := grpcserver.NewIdentity(key, authSvc)

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.TimeoutUnary(cfg.QueryTimeout),
			identity.Unary(),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.RecoverStream(logger),
			grpcserver.LoggingStream(logger),
			identity.Stream(),
		),
	}
	if cfg.TLS() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving gRPC without TLS")
	}
	s := grpc.NewServer(opts...)
	api.RegisterBloodLinkServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLS()))
		errCh <- s.Serve(lis)
	}()

	var httpSrv *http.Server
	if cfg.WSAddr != "" {
		httpSrv = ws.NewServer(cfg.WSAddr, ws.NewHandler(feedSvc, identity, cfg.AllowedOrigins, logger))
		go func() {
			logger.Info("ws feed listening", zap.String("addr", cfg.WSAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpSrv.Shutdown(sctx)
			cancel()
		}
		// open Subscribe streams would block GracefulStop
		hub.Close()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// openStorage selects the backend. For postgres it runs migrations and starts
// the LISTEN loop that feeds hub; the memory store publishes to hub directly.
func openStorage(ctx context.Context, cfg *config.Config, hub *feed.Hub, logger *zap.Logger) (repository.Store, limiter.Limiter, func()) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on exit")
		return memory.New(hub).Repositories(), limiter.NewMemory(limiter.DefaultLoginPolicy), func() {}
	}

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	pool := db.Native()

	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := feed.NewListener(pool, hub, feed.DefaultChannel, logger).Run(lctx); err != nil {
			logger.Error("change listener stopped", zap.Error(err))
		}
	}()

	return postgres.Repositories(db), limiter.NewPG(pool, limiter.DefaultLoginPolicy), func() {
		cancel()
		<-done
		db.Close()
	}
}
