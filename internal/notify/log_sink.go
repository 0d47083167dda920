package notify

import (
	"context"
	"log/slog"
	"strings"
)

// LogSink writes events to the structured log. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(ctx context.Context, e Event) error {
	audience := make([]string, 0, len(e.Audience))
	for _, r := range e.Audience {
		audience = append(audience, r.String())
	}
	args := []any{
		"event_id", e.ID.String(),
		"event_type", string(e.Type),
		"audience", strings.Join(audience, ","),
		"occurred_at", e.OccurredAt,
	}
	if !e.CaseID.IsNil() {
		args = append(args, "case_id", e.CaseID.String())
	}
	if !e.SlotID.IsNil() {
		args = append(args, "slot_id", e.SlotID.String())
	}
	if e.State != "" {
		args = append(args, "state", e.State)
	}
	for k, v := range e.Attributes {
		args = append(args, "attr_"+k, v)
	}
	s.logger.InfoContext(ctx, "notification", args...)
	return nil
}
