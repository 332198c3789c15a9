package task

// StatusCompleted is the only status the sweeper writes.
const StatusCompleted = "COMPLETED"

// DynamoDB attribute names of a task record.
const (
	AttrTaskID        = "task_id"
	AttrScheduledTime = "scheduled_time"
	AttrStatus        = "status"
)

// Task is a scheduled task record. The record store owns it; the sweeper
// only reads the key and due time and overwrites Status.
type Task struct {
	TaskID        string `dynamodbav:"task_id" json:"task_id"`
	ScheduledTime int64  `dynamodbav:"scheduled_time" json:"scheduled_time"` // Unix seconds, UTC
	Status        string `dynamodbav:"status,omitempty" json:"status,omitempty"`

	// DecodeErr is set when the stored item has no usable task_id. Such a
	// record cannot be updated and is reported as a failure on its own.
	DecodeErr error `dynamodbav:"-" json:"-"`
}

// DueAt reports whether t is due at now (Unix seconds). Equality counts as due.
func (t Task) DueAt(now int64) bool {
	return t.ScheduledTime <= now
}
