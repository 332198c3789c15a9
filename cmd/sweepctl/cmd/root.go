package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/logging"
	"github.com/austindbirch/task_sweeper/internal/store"
	"github.com/austindbirch/task_sweeper/internal/sweep"
)

// StoreClient is what the CLI needs from the record store.
type StoreClient interface {
	sweep.Store
	Ping(ctx context.Context) error
}

// OpenFunc opens the record store for one command.
type OpenFunc func(ctx context.Context, cfg config.Config) (StoreClient, error)

func openDynamo(ctx context.Context, cfg config.Config) (StoreClient, error) {
	return store.Open(ctx, cfg)
}

// app holds the state shared by every command of one root.
type app struct {
	v       *viper.Viper
	cfgFile string
	open    OpenFunc
	stderr  io.Writer
}

// Execute runs the CLI against DynamoDB.
func Execute() error {
	return NewRootCmd(openDynamo).Execute()
}

// NewRootCmd builds the command tree. open is called once per command that
// touches the store.
func NewRootCmd(open OpenFunc) *cobra.Command {
	a := &app{v: viper.New(), open: open, stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "sweepctl",
		Short: "Task Sweeper CLI - inspect and sweep the scheduled task table",
		Long: `sweepctl is an operator tool for the task sweeper.

It runs the same sweep the scheduled function runs, lists records that are
due without changing them, and checks that the task table is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stderr = cmd.ErrOrStderr()
			return a.initConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.sweepctl.yaml)")
	pf.String("table", "", "task table name (overrides TABLE_NAME)")
	pf.String("region", "", "AWS region (overrides AWS_REGION)")
	pf.String("endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	pf.Duration("timeout", 30*time.Second, "overall command timeout")
	pf.String("log-level", "warn", "log level for sweep diagnostics on stderr")
	pf.Bool("json", false, "output in JSON format")

	_ = a.v.BindPFlag("tableName", pf.Lookup("table"))
	_ = a.v.BindPFlag("region", pf.Lookup("region"))
	_ = a.v.BindPFlag("endpoint", pf.Lookup("endpoint"))
	_ = a.v.BindPFlag("timeout", pf.Lookup("timeout"))
	_ = a.v.BindPFlag("logLevel", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("json", pf.Lookup("json"))

	root.AddCommand(
		newSweepCmd(a),
		newDueCmd(a),
		newHealthCmd(a),
		newVersionCmd(a),
	)
	return root
}

// initConfig reads .env, the optional config file and SWEEPCTL_* env vars.
func (a *app) initConfig() error {
	_ = godotenv.Load()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(home)
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".sweepctl")
	}

	a.v.SetEnvPrefix("sweepctl")
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err == nil {
		fmt.Fprintln(a.stderr, "Using config file:", a.v.ConfigFileUsed())
	} else if a.cfgFile != "" {
		return fmt.Errorf("read config %s: %w", a.cfgFile, err)
	}
	return nil
}

// config layers CLI settings over the environment configuration.
func (a *app) config() config.Config {
	cfg := config.FromEnv()
	if s := strings.TrimSpace(a.v.GetString("tableName")); s != "" {
		cfg.Store.TableName = s
	}
	if s := a.v.GetString("region"); s != "" {
		cfg.Store.Region = s
	}
	if s := a.v.GetString("endpoint"); s != "" {
		cfg.Store.Endpoint = s
	}
	if n := a.v.GetInt("concurrency"); n > 0 {
		cfg.Sweep.UpdateConcurrency = n
	}
	return cfg
}

func (a *app) logger() *logging.Logger {
	return logging.NewWithWriter("sweepctl", a.stderr, logging.ParseLevel(a.v.GetString("logLevel")))
}

func (a *app) context() (context.Context, context.CancelFunc) {
	d := a.v.GetDuration("timeout")
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}

func (a *app) jsonOutput() bool {
	return a.v.GetBool("json")
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseAt accepts Unix seconds or an RFC3339 timestamp. Empty means now.
func parseAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want unix seconds or RFC3339): %w", s, err)
	}
	return t, nil
}
