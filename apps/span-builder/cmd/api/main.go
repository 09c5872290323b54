// Package main is the entry point for the Span Builder — the service that
// ingests raw half-events emitted by storage nodes, pairs START/END events
// into spans, reconstructs parent-child lineage across node boundaries using
// a fixed causal graph, and emits completed spans to a downstream OTLP
// collector.
//
// Design constraints (enforced here):
//   - Events for the same trace-id are serialized by a per-trace striped
//     lock; events for distinct trace-ids proceed fully in parallel.
//   - Nothing is emitted for a trace until all five mandatory span-names
//     have been observed complete — a single missing peer event holds the
//     whole trace's spans back, bounded by the bucket TTL.
// @title        Span Builder
// @version      1.0
// @description  Pairs raw half-events into spans and forwards them to an OTLP collector.
// @BasePath     /
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/apps/span-builder/internal/assembler"
	sbconfig "github.com/arc-self/apps/span-builder/internal/config"
	"github.com/arc-self/apps/span-builder/internal/dedupe"
	"github.com/arc-self/apps/span-builder/internal/handler"
	"github.com/arc-self/apps/span-builder/internal/otlp"
	"github.com/arc-self/apps/span-builder/internal/trace"
	goconfig "github.com/arc-self/packages/go-core/config"
	"github.com/arc-self/packages/go-core/telemetry"
)

// staleSweepInterval is how often the TraceStore is swept for buckets that
// outlived their TTL without ever completing — the backstop for the inline
// post-emission eviction in the assembler.
const staleSweepInterval = 30 * time.Second

func main() {
	// ── Structured Logger ──────────────────────────────────────────────────
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := sbconfig.Load()

	// ── OpenTelemetry Tracer & Metrics ─────────────────────────────────────
	if cfg.OTelExporterEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), cfg.ServiceName, cfg.OTelExporterEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.OTelExporterEndpoint))
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), cfg.ServiceName, cfg.OTelExporterEndpoint)
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
	bearerToken, _ := secrets["COLLECTOR_BEARER_TOKEN"].(string)
	cfg = cfg.WithSecrets(bearerToken)

	// ── Trace Assembly Pipeline ──────────────────────────────────────────────
	traceStore := trace.NewStore()
	dedupeStore := dedupe.NewStore(cfg.DedupeCapacity)
	poster := otlp.NewHTTPPoster(cfg.CollectorBearerToken)
	emitter := otlp.NewEmitter(cfg.CollectorURL, poster)
	bucketTTL := time.Duration(cfg.BucketTTLSec) * time.Second
	assemblerSvc := assembler.NewService(cfg.ServiceName, emitter, dedupeStore, bucketTTL)

	logger.Info("span assembly pipeline initialized",
		zap.String("collector_url", cfg.CollectorURL),
		zap.Int("dedupe_capacity", cfg.DedupeCapacity),
		zap.Int("bucket_ttl_sec", cfg.BucketTTLSec),
	)

	// ── Stale Bucket Sweep ───────────────────────────────────────────────────
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go sweepStaleBuckets(sweepCtx, traceStore, bucketTTL, logger)

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true

	e.Use(otelecho.Middleware(cfg.ServiceName))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
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

	handler.NewIngestHandler(assemblerSvc, traceStore, logger).Register(e)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("span-builder listening", zap.String("addr", addr))
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
	logger.Info("span-builder shut down cleanly")
}

// sweepStaleBuckets periodically evicts TraceStore buckets that have
// outlived ttl without ever completing, bounding memory for traces missing
// a peer event that will never arrive.
func sweepStaleBuckets(ctx context.Context, store *trace.Store, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.EvictStale(ttl); n > 0 {
				logger.Info("evicted stale trace buckets", zap.Int("count", n))
			}
		}
	}
}
