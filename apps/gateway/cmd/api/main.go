// Package main is the entry point for the Gateway — the edge service that
// fans GET requests for content-addressed blocks out across a fixed set of
// IPFS storage nodes, health-probes those nodes in the background, samples a
// subset of requests for distributed tracing, and forwards PUT writes to a
// single healthy node.
//
// Design constraints (enforced here):
//   - The storage-node list is fixed at startup (STORAGE_NODE_URLS); nodes
//     are never added or removed at runtime, only reclassified Healthy or
//     Unhealthy by the background probe.
//   - Cross-replica health sync over NATS JetStream is optional: the
//     Gateway serves correctly with probing-only, per-replica health when
//     NATS_URL is unset.
// @title        Gateway
// @version      1.0
// @description  Fans GET requests out across IPFS storage nodes, forwards PUT writes, and samples requests for tracing.
// @BasePath     /
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/apps/gateway/internal/catalog"
	gwconfig "github.com/arc-self/apps/gateway/internal/config"
	"github.com/arc-self/apps/gateway/internal/fanout"
	"github.com/arc-self/apps/gateway/internal/handler"
	"github.com/arc-self/apps/gateway/internal/healthsync"
	"github.com/arc-self/apps/gateway/internal/pool"
	"github.com/arc-self/apps/gateway/internal/storageclient"
	goconfig "github.com/arc-self/packages/go-core/config"
	"github.com/arc-self/packages/go-core/natsclient"
	"github.com/arc-self/packages/go-core/telemetry"
)

// counterFlushInterval is how often the in-process traced-item tally is
// drained into the catalog's persistent counter.
const counterFlushInterval = 15 * time.Second

func main() {
	// ── Structured Logger ──────────────────────────────────────────────────
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := gwconfig.Load()
	if len(cfg.StorageNodeBaseURLs) == 0 {
		logger.Fatal("STORAGE_NODE_URLS must list at least one storage node")
	}

	// ── OpenTelemetry Tracer & Metrics ─────────────────────────────────────
	if cfg.OTelExporterEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "gateway", cfg.OTelExporterEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.OTelExporterEndpoint))
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), "gateway", cfg.OTelExporterEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// ── Vault Secret Loading ───────────────────────────────────────────────
	vaultManager, err := goconfig.NewSecretManager(cfg.VaultAddr, cfg.VaultToken)
	if err != nil {
		logger.Fatal("Vault connection failed", zap.Error(err))
	}
	secrets, err := vaultManager.GetKV2(cfg.VaultSecretPath)
	if err != nil {
		logger.Fatal("failed to load secrets from Vault", zap.Error(err))
	}
	redisURL, _ := secrets["REDIS_URL"].(string)
	natsURL, _ := secrets["NATS_URL"].(string)
	cfg = cfg.WithSecrets(redisURL, natsURL)

	// ── Redis Client ───────────────────────────────────────────────────────
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to parse REDIS_URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	logger.Info("Redis connected", zap.String("addr", redisOpts.Addr))

	store := catalog.NewRedisStore(redisClient)

	// ── NodePool ─────────────────────────────────────────────────────────────
	nodePool := pool.New(cfg.StorageNodeBaseURLs)
	logger.Info("storage node pool initialized", zap.Int("node_count", nodePool.Len()))

	// ── NATS JetStream (optional cross-replica health sync) ────────────────
	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.NewClient(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("NATS connection failed", zap.Error(err))
		}
		defer natsClient.Close()

		if err := natsClient.ProvisionNodeHealthStream(); err != nil {
			logger.Fatal("NATS stream provisioning failed", zap.Error(err))
		}

		nodePool.SetPublisher(healthsync.NewPublisher(natsClient))

		syncCtx, cancelSync := context.WithCancel(context.Background())
		defer cancelSync()
		if err := healthsync.Subscribe(syncCtx, natsClient, nodePool); err != nil {
			logger.Fatal("NATS health-sync subscribe failed", zap.Error(err))
		}
		logger.Info("cross-replica health sync enabled")
	} else {
		logger.Info("NATS_URL unset — running with probing-only, per-replica health")
	}

	// ── Background Health Probe ──────────────────────────────────────────────
	probeCtx, cancelProbe := context.WithCancel(context.Background())
	defer cancelProbe()
	healthProbe := pool.NewHealthProbe(nodePool, pool.NewHTTPProber(), time.Duration(cfg.TimeoutInSeconds)*time.Second, logger)
	go healthProbe.Run(probeCtx)

	// ── Fan-Out Runner ───────────────────────────────────────────────────────
	storageClient := storageclient.NewHTTPClient()
	var tracedTally int64
	runner := fanout.NewRunner(nodePool, storageClient, fanout.Config{
		SampleRate:     cfg.SampleRate,
		TimeoutSeconds: cfg.TimeoutInSeconds,
		MaxWorkers:     cfg.MaxWorkers,
	}, &tracedTally, logger)

	// Periodically drain the in-process traced-item tally into the durable
	// catalog counter so it survives a restart.
	flushCtx, cancelFlush := context.WithCancel(context.Background())
	defer cancelFlush()
	go flushTracedTally(flushCtx, store, &tracedTally, logger)

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true

	e.Use(otelecho.Middleware("gateway"))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.NewIPFSHandler(runner, storageClient, store, nodePool, logger).Register(e)
	handler.NewAdminHandler(nodePool, store, logger).Register(e)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("gateway listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("gateway shut down cleanly")
}

// flushTracedTally drains the atomic traced-item counter into the catalog's
// durable counter every counterFlushInterval, so concurrent requests don't
// contend on a single Redis INCRBY per traced item.
func flushTracedTally(ctx context.Context, store catalog.Store, tally *int64, logger *zap.Logger) {
	ticker := time.NewTicker(counterFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delta := atomic.SwapInt64(tally, 0)
			if delta == 0 {
				continue
			}
			if _, err := store.IncrementCounter(ctx, "traced_requests", delta); err != nil {
				logger.Error("failed to flush traced-request counter", zap.Error(err))
				atomic.AddInt64(tally, delta) // retry next tick
			}
		}
	}
}
