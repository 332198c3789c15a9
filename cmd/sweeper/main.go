package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/logging"
	"github.com/austindbirch/task_sweeper/internal/notify"
	"github.com/austindbirch/task_sweeper/internal/store"
	"github.com/austindbirch/task_sweeper/internal/sweep"
	"github.com/austindbirch/task_sweeper/internal/tracing"
)

// handler runs one sweep per scheduled event.
type handler struct {
	loadConfig func() config.Config
	connect    sweep.ConnectFunc
	logger     *logging.Logger
}

func openStore(ctx context.Context, cfg config.Config) (sweep.Store, error) {
	return store.Open(ctx, cfg)
}

// Handle never returns an error: failures are logged by sweep.Run and the
// invocation still ends successfully, so the scheduler does not retry it.
func (h *handler) Handle(ctx context.Context, ev events.CloudWatchEvent) error {
	cfg := h.loadConfig()

	ctx, span := tracing.StartSpan(ctx, "sweeper.invoke")
	defer span.End()

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"event_id":    ev.ID,
		"detail_type": ev.DetailType,
		"source":      ev.Source,
	}).Debug("Scheduled event received")

	var opts []sweep.Option
	if cfg.NotifyEnabled() {
		n, err := notify.NewNSQ(cfg.Notify.NsqdTCPAddr, cfg.Notify.Topic)
		if err != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("Completion notifications disabled")
		} else {
			defer n.Stop()
			opts = append(opts, sweep.WithNotifier(n))
		}
	}

	_, _ = sweep.Run(ctx, cfg, h.connect, h.logger, opts...)
	return nil
}

type tracingInit func(ctx context.Context, serviceName string) (func(context.Context), error)

// setupTracing installs the tracer provider for the life of the process.
// lambda.Start never returns, so the provider is not shut down; spans are
// exported synchronously as each one ends.
func setupTracing(ctx context.Context, cfg config.Config, logger *logging.Logger, initFn tracingInit) {
	if !cfg.TracingEnabled {
		return
	}
	if _, err := initFn(ctx, cfg.AppName); err != nil {
		logger.Plain().WithError(err).Warn("Failed to initialize tracing")
	}
}

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.NewWithLevel(cfg.AppName, logging.ParseLevel(cfg.LogLevel))

	setupTracing(ctx, cfg, logger, tracing.InitTracing)

	h := &handler{
		loadConfig: config.FromEnv,
		connect:    openStore,
		logger:     logger,
	}
	lambda.Start(h.Handle)
}
