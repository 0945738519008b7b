package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/jmerrifield20/chainledger/internal/api/handler"
	"github.com/jmerrifield20/chainledger/internal/archive"
)

// nodeService is the health service name reporting the node as a whole.
const nodeService = "chainledger.archive.v1.Node"

// nodeHost is a shard host that can advertise its public URL.
type nodeHost interface {
	archive.Host
	SetCallbackBase(base string)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("archive node exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("archive")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("node.http_port", 8090)
	viper.SetDefault("node.grpc_port", 9090)
	viper.SetDefault("node.public_url", "http://localhost:8090")
	viper.SetDefault("node.backend", "level")
	viper.SetDefault("node.dir", "data/archive")
	viper.SetDefault("node.health_interval", "15s")
	viper.SetDefault("node.rate_limit_rps", 200)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	httpPort := viper.GetInt("node.http_port")
	grpcPort := viper.GetInt("node.grpc_port")
	publicURL := viper.GetString("node.public_url")

	// ── Shard host ───────────────────────────────────────────────────────────
	host, closeHost, err := newHost(logger)
	if err != nil {
		return err
	}
	defer closeHost()
	host.SetCallbackBase(publicURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)
	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	reflection.Register(grpcServer)

	syncHealth(ctx, host, healthSvc, logger)
	go func() {
		ticker := time.NewTicker(viper.GetDuration("node.health_interval"))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				syncHealth(ctx, host, healthSvc, logger)
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(64 << 20))
	if rps := viper.GetInt("node.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, float64(rps), rps*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", handler.Healthz)
	router.GET("/metrics", handler.MetricsHandler())
	handler.NewShardHandler(host, logger).Register(router.Group("/api/v1"))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Start both servers ───────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("archive node gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("archive node HTTP listening",
			zap.Int("port", httpPort),
			zap.String("public_url", publicURL),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down archive node...")
	healthSvc.Shutdown()
	cancel()

	grpcServer.GracefulStop()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("archive node stopped")
	return nil
}

// newHost opens the shard backend named by node.backend.
func newHost(logger *zap.Logger) (nodeHost, func(), error) {
	switch backend := viper.GetString("node.backend"); backend {
	case "memory":
		logger.Warn("archive node backend is in-memory, shards are lost on restart")
		return archive.NewMemoryProvisioner(), func() {}, nil

	case "level":
		dir := viper.GetString("node.dir")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create node dir: %w", err)
		}
		dirLock := flock.New(filepath.Join(dir, "LOCK"))
		locked, err := dirLock.TryLock()
		if err != nil {
			return nil, nil, fmt.Errorf("lock node dir: %w", err)
		}
		if !locked {
			return nil, nil, fmt.Errorf("node dir %s is in use by another archive node", dir)
		}

		p, err := archive.NewLevelProvisioner(filepath.Join(dir, "shards"))
		if err != nil {
			dirLock.Unlock() //nolint:errcheck
			return nil, nil, fmt.Errorf("open shards: %w", err)
		}
		infos, _ := p.List(context.Background())
		logger.Info("shards opened", zap.String("dir", dir), zap.Int("shards", len(infos)))
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Error("close shards", zap.Error(err))
			}
			dirLock.Unlock() //nolint:errcheck
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown node.backend %q (want memory or level)", backend)
	}
}

// syncHealth publishes one health status per shard ("shard/<ref>": SERVING
// while running) and an overall status for the node.
func syncHealth(ctx context.Context, host archive.Host, hs *health.Server, logger *zap.Logger) {
	infos, err := host.List(ctx)
	if err != nil {
		logger.Warn("list shards for health", zap.Error(err))
		hs.SetServingStatus(nodeService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return
	}
	for _, info := range infos {
		st := grpc_health_v1.HealthCheckResponse_SERVING
		if info.Status != archive.StatusRunning {
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(shardService(info.Ref), st)
	}
	hs.SetServingStatus(nodeService, grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}

func shardService(ref archive.ShardRef) string { return "shard/" + string(ref) }

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
