package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/sweep"
)

type sweepOutput struct {
	Table      string          `json:"table"`
	Now        int64           `json:"now"`
	Matched    int             `json:"matched"`
	Completed  int             `json:"completed"`
	Failed     int             `json:"failed"`
	Failures   []failureOutput `json:"failures,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

type failureOutput struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

func newSweepOutput(res *sweep.Result) sweepOutput {
	out := sweepOutput{
		Table:      res.Table,
		Now:        res.Now,
		Matched:    res.Matched,
		Completed:  res.Completed,
		Failed:     len(res.Failures),
		DurationMS: res.Duration.Milliseconds(),
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, failureOutput{TaskID: f.TaskID, Error: f.Err.Error()})
	}
	return out
}

func newSweepCmd(a *app) *cobra.Command {
	var at string

	c := &cobra.Command{
		Use:   "sweep",
		Short: "Mark every due task COMPLETED",
		Long: `Run one sweep: scan the task table for records whose scheduled_time is at
or before now and set their status to COMPLETED.

Per-task update failures are reported but do not fail the command. A missing
table name or a failed scan exits non-zero.`,
		Example: `  sweepctl sweep --table scheduled-tasks
  sweepctl sweep --at 2024-05-01T00:00:00Z --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			ctx, cancel := a.context()
			defer cancel()

			connect := func(ctx context.Context, cfg config.Config) (sweep.Store, error) {
				return a.open(ctx, cfg)
			}
			res, err := sweep.Run(ctx, a.config(), connect, a.logger(),
				sweep.WithClock(func() time.Time { return now }))
			if err != nil {
				return err
			}

			out := newSweepOutput(res)
			w := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(w, out)
			}
			fmt.Fprintf(w, "Table:      %s\n", out.Table)
			fmt.Fprintf(w, "Scan time:  %d (%s)\n", out.Now, time.Unix(out.Now, 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "Matched:    %d\n", out.Matched)
			fmt.Fprintf(w, "Completed:  %d\n", out.Completed)
			fmt.Fprintf(w, "Failed:     %d\n", out.Failed)
			for _, f := range out.Failures {
				fmt.Fprintf(w, "  ✗ %s: %s\n", f.TaskID, f.Error)
			}
			return nil
		},
	}

	c.Flags().StringVar(&at, "at", "", "scan time as unix seconds or RFC3339 (default now)")
	c.Flags().Int("concurrency", 0, "parallel status updates (overrides SWEEP_UPDATE_CONCURRENCY)")
	_ = a.v.BindPFlag("concurrency", c.Flags().Lookup("concurrency"))
	return c
}
