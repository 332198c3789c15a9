package notify

import (
	"time"

	"github.com/austindbirch/task_sweeper/internal/task"
)

const CompletedType = "task.completed"

// Event is the JSON body published for every task the sweeper completed.
type Event struct {
	Type         string            `json:"type"`    // "task.completed"
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 sweep time
	Table        string            `json:"table"`
	Task         task.Task         `json:"task"` // record as scanned, status before the update
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func NewCompleted(table string, t task.Task, at time.Time) Event {
	return Event{
		Type:    CompletedType,
		Version: "v1",
		At:      at.UTC().Format(time.RFC3339Nano),
		Table:   table,
		Task:    t,
	}
}
