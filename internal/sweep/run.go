package sweep

import (
	"context"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/logging"
	"github.com/austindbirch/task_sweeper/internal/metrics"
)

// ConnectFunc opens the record store for one invocation.
type ConnectFunc func(ctx context.Context, cfg config.Config) (Store, error)

// Run performs one invocation: validate cfg, connect, sweep at the current
// time. Every error is logged here before being returned; callers that have
// nothing to report to may drop it.
func Run(ctx context.Context, cfg config.Config, connect ConnectFunc, logger *logging.Logger, opts ...Option) (*Result, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger.WithContext(ctx).Info("Task sweeper started")

	if err := cfg.Validate(); err != nil {
		cerr := &ConfigError{Err: err}
		logger.WithContext(ctx).WithError(cerr).Error("Invalid sweeper configuration")
		metrics.RecordSweep("config_error", 0, 0)
		return nil, cerr
	}
	table := cfg.Store.TableName
	logger.WithContext(ctx).WithTable(table).Debugf("Using table: %s", table)

	st, err := connect(ctx, cfg)
	if err != nil {
		qerr := &QueryError{Table: table, Err: err}
		logger.WithContext(ctx).WithTable(table).WithError(qerr).Error("Error connecting to record store")
		metrics.RecordSweep("query_error", 0, 0)
		return nil, qerr
	}

	opts = append([]Option{WithConcurrency(cfg.Sweep.UpdateConcurrency)}, opts...)
	s := New(st, table, logger, opts...)

	res, err := s.RunOnce(ctx)
	if err != nil {
		logger.WithContext(ctx).WithTable(table).WithError(err).Error("Error querying for overdue tasks")
		metrics.RecordSweep("query_error", 0, res.Duration)
		return res, err
	}

	entry := logger.WithContext(ctx).WithTable(table).WithFields(map[string]any{
		"now":         res.Now,
		"matched":     res.Matched,
		"completed":   res.Completed,
		"failed":      len(res.Failures),
		"duration_ms": res.Duration.Milliseconds(),
	})
	if len(res.Failures) > 0 {
		entry.Warnf("Sweep finished with %d failed updates", len(res.Failures))
	} else {
		entry.Info("Sweep finished")
	}
	metrics.RecordSweep(res.Outcome(), res.Matched, res.Duration)
	return res, nil
}

