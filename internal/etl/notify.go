package etl

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/kafka"
)

// RunEvent is published after every finished run.
type RunEvent struct {
	RunID            string    `json:"run_id"`
	BatchID          string    `json:"batch_id"`
	Source           string    `json:"source"`
	Status           RunStatus `json:"status"`
	RecordsProcessed int       `json:"records_processed"`
	DurationMS       float64   `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
	EndedAt          time.Time `json:"ended_at"`
}

// TriggerEvent asks an ingestor to run a sweep. An empty Sources list means
// every enabled source.
type TriggerEvent struct {
	RequestID   string    `json:"request_id"`
	Sources     []string  `json:"sources,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Notifier receives run outcomes. Notification failures never fail a run.
type Notifier interface {
	NotifyRun(ctx context.Context, ev RunEvent) error
}

type publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// KafkaNotifier publishes RunEvents keyed by source so that events for one
// source stay ordered within a partition.
type KafkaNotifier struct {
	producer publisher
}

// NewKafkaNotifier wraps a producer for the run-events topic.
func NewKafkaNotifier(p *kafka.Producer) *KafkaNotifier {
	return &KafkaNotifier{producer: p}
}

func (n *KafkaNotifier) NotifyRun(ctx context.Context, ev RunEvent) error {
	return n.producer.Publish(ctx, kafka.Event{Key: ev.Source, Value: ev})
}

// TriggerPublisher publishes TriggerEvents for ingestors to pick up.
type TriggerPublisher struct {
	producer publisher
}

// NewTriggerPublisher wraps a producer for the triggers topic.
func NewTriggerPublisher(p *kafka.Producer) *TriggerPublisher {
	return &TriggerPublisher{producer: p}
}

// Trigger publishes ev keyed by its request id.
func (t *TriggerPublisher) Trigger(ctx context.Context, ev TriggerEvent) error {
	return t.producer.Publish(ctx, kafka.Event{Key: ev.RequestID, Value: ev})
}
