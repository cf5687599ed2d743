// internal/events/nats.go
package events

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/models"
)

// Publisher is the slice of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event to <prefix>.<type>, e.g.
// substitution.handoff.promoted.
type NATSSink struct {
	conn   Publisher
	prefix string
}

func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "substitution.handoff"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

func (s *NATSSink) Publish(ctx context.Context, event models.HandoffEvent) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewEventPublishError(s.Name(), err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewEventPublishError(s.Name(), fmt.Errorf("marshal event: %w", err))
	}
	if err := s.conn.Publish(s.Subject(event.Type), data); err != nil {
		return apperrors.NewEventPublishError(s.Name(), err)
	}
	return nil
}
