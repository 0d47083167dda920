// Package kafka delivers notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"mortuary/internal/notify"
)

// Producer is the subset of *kgo.Client the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Sink produces one JSON record per event. Records are keyed by case id, or
// slot id for slot-only events, so one case's events stay ordered within a
// partition.
type Sink struct {
	producer Producer
	topic    string
}

func NewSink(producer Producer, topic string) *Sink {
	return &Sink{producer: producer, topic: topic}
}

var _ notify.Sink = (*Sink)(nil)

func (s *Sink) Send(ctx context.Context, e notify.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(recordKey(e)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "audience", Value: []byte(audience(e))},
		},
		Timestamp: e.OccurredAt,
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

func recordKey(e notify.Event) string {
	if !e.CaseID.IsNil() {
		return e.CaseID.String()
	}
	if !e.SlotID.IsNil() {
		return e.SlotID.String()
	}
	return e.ID.String()
}

func audience(e notify.Event) string {
	out := make([]string, 0, len(e.Audience))
	for _, r := range e.Audience {
		out = append(out, r.String())
	}
	return strings.Join(out, ",")
}
