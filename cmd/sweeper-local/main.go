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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/health"
	"github.com/austindbirch/task_sweeper/internal/logging"
	"github.com/austindbirch/task_sweeper/internal/metrics"
	"github.com/austindbirch/task_sweeper/internal/notify"
	"github.com/austindbirch/task_sweeper/internal/store"
	"github.com/austindbirch/task_sweeper/internal/sweep"
	"github.com/austindbirch/task_sweeper/internal/tracing"
)

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(kv []interface{}) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	return fields
}

func openStore(ctx context.Context, cfg config.Config) (sweep.Store, error) {
	return store.Open(ctx, cfg)
}

// newSweepJob returns the cron job body: one sweep.Run per tick with a fresh
// store connection.
func newSweepJob(ctx context.Context, cfg config.Config, connect sweep.ConnectFunc, logger *logging.Logger, opts ...sweep.Option) func() {
	return func() {
		ctx, span := tracing.StartSpan(ctx, "sweeper.tick")
		defer span.End()
		_, _ = sweep.Run(ctx, cfg, connect, logger, opts...)
	}
}

func newMux(reg *prometheus.Registry, p health.Pinger, table string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(p, table))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewWithLevel(cfg.AppName+"-local", logging.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		logger.Plain().WithError(err).Fatal("Invalid configuration")
	}

	if cfg.TracingEnabled {
		shutdown, err := tracing.InitTracing(ctx, cfg.AppName+"-local")
		if err != nil {
			logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
		}
		defer shutdown(context.Background())
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// Store handle for health checks only; sweeps connect per run.
	healthStore, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to build store client")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Local.HTTPPort,
		Handler:           newMux(reg, healthStore, cfg.Store.TableName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("sweeper HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("sweeper HTTP server failed")
		}
	}()

	var opts []sweep.Option
	if cfg.NotifyEnabled() {
		n, err := notify.NewNSQ(cfg.Notify.NsqdTCPAddr, cfg.Notify.Topic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer creation failed")
		}
		defer n.Stop()
		opts = append(opts, sweep.WithNotifier(n))
	}

	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(cfg.Local.Schedule, newSweepJob(ctx, cfg, openStore, logger, opts...)); err != nil {
		logger.Plain().WithError(err).WithField("schedule", cfg.Local.Schedule).Fatal("Invalid sweep schedule")
	}
	c.Start()
	logger.Plain().WithTable(cfg.Store.TableName).WithField("schedule", cfg.Local.Schedule).Info("sweeper scheduled")

	<-ctx.Done()
	logger.Plain().Info("shutting down")

	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
