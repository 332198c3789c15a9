// Package notify publishes task.completed events to NSQ.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/task_sweeper/internal/metrics"
	"github.com/austindbirch/task_sweeper/internal/task"
	"github.com/austindbirch/task_sweeper/internal/tracing"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type Notifier struct {
	pub   Publisher
	topic string
	stop  func()
}

func New(pub Publisher, topic string) *Notifier {
	return &Notifier{pub: pub, topic: topic, stop: func() {}}
}

// NewNSQ connects a producer to the nsqd at addr.
func NewNSQ(addr, topic string) (*Notifier, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLoggerLevel(nsq.LogLevelWarning)
	n := New(p, topic)
	n.stop = p.Stop
	return n, nil
}

// TaskCompleted publishes a task.completed event carrying the trace context of ctx.
func (n *Notifier) TaskCompleted(ctx context.Context, table string, t task.Task, at time.Time) error {
	ev := NewCompleted(table, t, at)
	ev.TraceHeaders = tracing.InjectHeaders(ctx)

	body, err := json.Marshal(ev)
	if err != nil {
		metrics.RecordNotification("failed")
		return fmt.Errorf("encode %s event: %w", CompletedType, err)
	}
	if err := n.pub.Publish(n.topic, body); err != nil {
		metrics.RecordNotification("failed")
		return fmt.Errorf("publish to %s: %w", n.topic, err)
	}
	metrics.RecordNotification("published")
	return nil
}

// Stop releases the underlying producer.
func (n *Notifier) Stop() {
	n.stop()
}
