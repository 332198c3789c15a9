package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingTableName is returned by Validate when no table name is configured.
var ErrMissingTableName = errors.New("table name is required")

// legacyTableEnv is the variable older deployments used for the table name.
const legacyTableEnv = "scheduled_tasks"

type Store struct {
	TableName       string // DynamoDB table holding task records
	Region          string // AWS region
	Endpoint        string // optional endpoint override, e.g. http://localhost:8000
	AccessKeyID     string // static credentials for the endpoint override
	SecretAccessKey string
}

type Sweep struct {
	PageSize          int           // Scan page size, 0 uses the store default
	UpdateConcurrency int           // Parallel status updates, 1 is sequential
	CallTimeout       time.Duration // Timeout applied to each store call
}

type Local struct {
	Schedule string // cron spec for the local runner
	HTTPPort string // health/metrics listen address
}

type Notify struct {
	NsqdTCPAddr string // e.g. nsqd:4150, empty disables notifications
	Topic       string // NSQ topic for task.completed events
}

type Config struct {
	AppName        string
	LogLevel       string
	TracingEnabled bool
	Store          Store
	Sweep          Sweep
	Local          Local
	Notify         Notify
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// tableName prefers TABLE_NAME and falls back to the legacy variable.
func tableName() string {
	return strings.TrimSpace(getenv("TABLE_NAME", os.Getenv(legacyTableEnv)))
}

func FromEnv() Config {
	return Config{
		AppName:        getenv("APP_NAME", "task-sweeper"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		TracingEnabled: getenvBool("TRACING_ENABLED", false),
		Store: Store{
			TableName:       tableName(),
			Region:          getenv("AWS_REGION", "us-east-1"),
			Endpoint:        getenv("DYNAMO_ENDPOINT", ""),
			AccessKeyID:     getenv("DYNAMO_ACCESS_KEY_ID", ""),
			SecretAccessKey: getenv("DYNAMO_SECRET_ACCESS_KEY", ""),
		},
		Sweep: Sweep{
			PageSize:          getenvInt("SWEEP_SCAN_PAGE_SIZE", 0),
			UpdateConcurrency: getenvInt("SWEEP_UPDATE_CONCURRENCY", 1),
			CallTimeout:       getenvDuration("SWEEP_CALL_TIMEOUT", 10*time.Second),
		},
		Local: Local{
			Schedule: getenv("SWEEP_SCHEDULE", "@every 1m"),
			HTTPPort: getenv("HTTP_PORT", ":8085"),
		},
		Notify: Notify{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", ""),
			Topic:       getenv("NSQ_COMPLETED_TOPIC", "tasks_completed"),
		},
	}
}

// Validate checks the fields a sweep cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Store.TableName) == "" {
		return fmt.Errorf("%w: set TABLE_NAME", ErrMissingTableName)
	}
	if c.Sweep.UpdateConcurrency < 1 {
		return fmt.Errorf("update concurrency must be at least 1, got %d", c.Sweep.UpdateConcurrency)
	}
	if c.Sweep.PageSize < 0 {
		return fmt.Errorf("scan page size must not be negative, got %d", c.Sweep.PageSize)
	}
	return nil
}

// NotifyEnabled reports whether completion events should be published.
func (c Config) NotifyEnabled() bool {
	return c.Notify.NsqdTCPAddr != ""
}
