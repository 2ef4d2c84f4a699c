// scribeflow is the transcription platform server: HTTP API, live
// streaming sessions, the batch worker pool, and the metrics exporter.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/AuralStack/ScribeFlow/config"
	"github.com/AuralStack/ScribeFlow/core"
	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/metrics/prometheus"
	"github.com/AuralStack/ScribeFlow/server"
	"github.com/AuralStack/ScribeFlow/telemetry"
	"github.com/AuralStack/ScribeFlow/version"
)

const (
	serviceName = "scribeflow"

	// defaultShutdownTimeout bounds the whole graceful-shutdown
	// sequence; override with SHUTDOWN_TIMEOUT.
	defaultShutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	envPath := ".env"
	if p := os.Getenv("ENV_FILE"); p != "" {
		envPath = p
	}
	if err := godotenv.Load(envPath); err != nil {
		logger.Debug("no .env file loaded, using existing environment",
			"path", envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Info("starting scribeflow", version.GetBuildInfo()...)

	ctx := context.Background()
	svcs, err := core.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer svcs.Close()

	// Transcript events become pollable records for the HTTP event API.
	svcs.Records.Bridge(ctx, svcs.Bus)

	// Metrics: exporter on its own listener, fed by the bus.
	exporter := prometheus.NewExporter(cfg.MetricsAddr)
	if err := exporter.Start(); err != nil {
		return err
	}
	svcs.Bus.SubscribeAll(prometheus.NewMetricsListener().Listener())
	logger.Info("metrics exporter listening", "addr", cfg.MetricsAddr)

	// Tracing only when an OTLP endpoint is configured.
	var tracerShutdown func(context.Context) error
	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, serviceName)
		if err != nil {
			return err
		}
		telemetry.SetupPropagation()
		svcs.Bus.SubscribeAll(telemetry.NewOTelEventListener(telemetry.Tracer(tp)).OnEvent)
		tracerShutdown = tp.Shutdown
		logger.Info("trace export enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	// Optional session event audit archive.
	if cfg.Events.ArchiveDir != "" {
		archive, err := events.NewArchive(cfg.Events.ArchiveDir)
		if err != nil {
			return err
		}
		archive.Listen(ctx, svcs.Bus)
		defer func() {
			if err := archive.Close(); err != nil {
				logger.Error("event archive close failed", "error", err)
			}
		}()
		logger.Info("event archive enabled", "dir", cfg.Events.ArchiveDir)
	}

	svcs.Pool.Start(ctx)
	svcs.Sweeper.Start(ctx)

	srv := server.New(server.Deps{
		Uploads: svcs.Uploads,
		Live:    svcs.Live,
		Jobs:    svcs.Jobs,
		Runner:  svcs.Runner,
		Records: svcs.Records,
		Blobs:   svcs.Blobs,
		Cache:   svcs.Cache,
		Limiter: svcs.Limiter,
		Quota:   svcs.Quota,
		Bus:     svcs.Bus,
	},
		server.WithAddr(cfg.ListenAddr),
		server.WithCacheTTL(cfg.Cache.DefaultTTL),
	)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout())
	defer cancel()

	// Stop intake first, then drain the workers feeding on what was
	// already accepted.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	svcs.Live.Shutdown()
	svcs.Pool.Stop()
	svcs.Sweeper.Stop()

	if err := exporter.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics exporter shutdown error", "error", err)
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("trace export shutdown error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func shutdownTimeout() time.Duration {
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		logger.Warn("ignoring malformed SHUTDOWN_TIMEOUT", "value", v)
	}
	return defaultShutdownTimeout
}
