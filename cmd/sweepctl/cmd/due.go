package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/task_sweeper/internal/sweep"
	"github.com/austindbirch/task_sweeper/internal/task"
)

type dueOutput struct {
	Table string      `json:"table"`
	Now   int64       `json:"now"`
	Count int         `json:"count"`
	Tasks []task.Task `json:"tasks"`
}

func newDueCmd(a *app) *cobra.Command {
	var at string

	c := &cobra.Command{
		Use:   "due",
		Short: "List tasks that a sweep would complete, without updating them",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			cfg := a.config()
			if err := cfg.Validate(); err != nil {
				return &sweep.ConfigError{Err: err}
			}

			ctx, cancel := a.context()
			defer cancel()
			st, err := a.open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			out := dueOutput{Table: cfg.Store.TableName, Now: now.UTC().Unix()}
			out.Tasks, err = st.ScanDue(ctx, out.Now)
			if err != nil {
				return &sweep.QueryError{Table: out.Table, Err: err}
			}
			out.Count = len(out.Tasks)
			if out.Tasks == nil {
				out.Tasks = []task.Task{}
			}

			w := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(w, out)
			}
			if out.Count == 0 {
				fmt.Fprintf(w, "No tasks due in %s at %d\n", out.Table, out.Now)
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK ID\tSCHEDULED\tSTATUS")
			for _, t := range out.Tasks {
				status := t.Status
				if status == "" {
					status = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.TaskID, time.Unix(t.ScheduledTime, 0).UTC().Format(time.RFC3339), status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(w, "%d tasks due\n", out.Count)
			return nil
		},
	}

	c.Flags().StringVar(&at, "at", "", "scan time as unix seconds or RFC3339 (default now)")
	return c
}
