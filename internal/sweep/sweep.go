// Package sweep finds task records whose scheduled time has passed and marks
// them COMPLETED.
//
// A sweep is a single pass: scan for due records, then set the status of
// each one. A failed scan aborts the sweep before any update; a failed update
// is recorded and the remaining records are still processed.
package sweep

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/austindbirch/task_sweeper/internal/logging"
	"github.com/austindbirch/task_sweeper/internal/metrics"
	"github.com/austindbirch/task_sweeper/internal/task"
	"github.com/austindbirch/task_sweeper/internal/tracing"
)

// Store is the record store a sweep reads from and writes to.
type Store interface {
	ScanDue(ctx context.Context, now int64) ([]task.Task, error)
	MarkCompleted(ctx context.Context, taskID string) error
}

// Notifier is told about every task the sweep completed.
type Notifier interface {
	TaskCompleted(ctx context.Context, table string, t task.Task, at time.Time) error
}

// Result summarises one sweep.
type Result struct {
	Table     string
	Now       int64 // Unix seconds used for the scan filter
	Matched   int
	Completed int
	Failures  []*UpdateError
	Duration  time.Duration
}

// Outcome is the metrics label for the result.
func (r *Result) Outcome() string {
	if len(r.Failures) > 0 {
		return "partial"
	}
	return "ok"
}

type Sweeper struct {
	store       Store
	table       string
	logger      *logging.Logger
	concurrency int
	notifier    Notifier
	clock       func() time.Time
}

type Option func(*Sweeper)

// WithConcurrency bounds how many updates run at once. Values below 2 keep
// the updates sequential.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		s.concurrency = n
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Sweeper) {
		s.notifier = n
	}
}

// WithClock overrides the time source used by RunOnce.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

func New(store Store, table string, logger *logging.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       store,
		table:       table,
		logger:      logger,
		concurrency: 1,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

// Sweep scans for records due at now and marks each one COMPLETED.
//
// now is truncated to whole seconds once and used for the whole pass. A scan
// failure returns a *QueryError and no updates are made. Update failures are
// collected in Result.Failures in scan order.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (*Result, error) {
	start := time.Now()
	res := &Result{Table: s.table, Now: now.UTC().Unix()}

	ctx, span := tracing.StartSpan(ctx, "sweep.run",
		attribute.String("table", s.table),
		attribute.Int64("scan.now", res.Now),
	)
	defer span.End()

	s.logger.WithContext(ctx).WithTable(s.table).WithField("now", res.Now).Infof("Scanning for overdue tasks at %d", res.Now)

	tasks, err := s.store.ScanDue(ctx, res.Now)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		res.Duration = time.Since(start)
		return res, &QueryError{Table: s.table, Err: err}
	}
	res.Matched = len(tasks)
	span.SetAttributes(attribute.Int("tasks.matched", res.Matched))
	s.logger.WithContext(ctx).WithTable(s.table).WithField("matched", res.Matched).Infof("Found %d overdue tasks", res.Matched)

	// notifications carry the same whole-second time the scan used
	at := time.Unix(res.Now, 0).UTC()
	failures := make([]*UpdateError, len(tasks))
	if s.concurrency < 2 || len(tasks) < 2 {
		for i, t := range tasks {
			failures[i] = s.complete(ctx, t, at)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i, t := range tasks {
			i, t := i, t
			g.Go(func() error {
				failures[i] = s.complete(ctx, t, at)
				// failures are collected per index; Wait must see none
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, f := range failures {
		if f != nil {
			res.Failures = append(res.Failures, f)
		}
	}
	res.Completed = res.Matched - len(res.Failures)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("tasks.completed", res.Completed),
		attribute.Int("tasks.failed", len(res.Failures)),
	)
	return res, nil
}

// complete marks one task COMPLETED and returns a non-nil error when the
// record was unreadable or the store update failed.
func (s *Sweeper) complete(ctx context.Context, t task.Task, at time.Time) *UpdateError {
	ctx, span := tracing.StartSpan(ctx, "sweep.update", attribute.String("task_id", t.TaskID))
	defer span.End()

	if t.DecodeErr != nil {
		tracing.SetSpanError(ctx, t.DecodeErr)
		metrics.RecordUpdate("failed")
		s.logger.WithContext(ctx).WithTable(s.table).WithField("raw_key", t.TaskID).WithError(t.DecodeErr).Error("Skipping unreadable task record")
		return &UpdateError{TaskID: t.TaskID, Err: t.DecodeErr}
	}

	s.logger.WithContext(ctx).WithTable(s.table).WithTask(t.TaskID).Infof("Processing task: %s", t.TaskID)

	if err := s.store.MarkCompleted(ctx, t.TaskID); err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.RecordUpdate("failed")
		s.logger.WithContext(ctx).WithTable(s.table).WithTask(t.TaskID).WithError(err).Errorf("Error updating task %s", t.TaskID)
		return &UpdateError{TaskID: t.TaskID, Err: err}
	}

	metrics.RecordUpdate("completed")
	s.logger.WithContext(ctx).WithTable(s.table).WithTask(t.TaskID).Infof("Task %s marked as %s", t.TaskID, task.StatusCompleted)

	if s.notifier != nil {
		if err := s.notifier.TaskCompleted(ctx, s.table, t, at); err != nil {
			tracing.AddSpanEvent(ctx, "notify.failed")
			s.logger.WithContext(ctx).WithTable(s.table).WithTask(t.TaskID).WithError(err).Warn("Completion notification failed")
		}
	}
	return nil
}

// RunOnce sweeps using the configured clock.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	return s.Sweep(ctx, s.clock())
}
