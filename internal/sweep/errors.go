package sweep

import "fmt"

// ConfigError means the invocation could not start. No store call was made.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sweep: invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// QueryError means the due-task scan failed. No update was attempted.
type QueryError struct {
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("sweep: scanning table %q: %v", e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// UpdateError is a failed status update for a single task. It never aborts
// the sweep.
type UpdateError struct {
	TaskID string
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("sweep: updating task %q: %v", e.TaskID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }
