// Package events delivers committed handoff transitions to downstream sinks.
package events

import (
	"context"
	"errors"

	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/common/metrics"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/models"
)

// Sink is one destination for handoff events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event models.HandoffEvent) error
}

// Fanout publishes every event to all sinks. A failing sink does not stop
// the others; their errors are joined.
type Fanout struct {
	sinks  []Sink
	logger logger.Logger
}

var _ handoff.EventPublisher = (*Fanout)(nil)

func NewFanout(log logger.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Fanout{sinks: sinks, logger: log}
}

func (f *Fanout) Publish(ctx context.Context, event models.HandoffEvent) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(sink.Name(), "failed").Inc()
			f.logger.Warn("event sink failed", map[string]interface{}{
				"sink":      sink.Name(),
				"eventType": event.Type,
				"postingId": event.PostingID,
				"error":     err.Error(),
			})
			errs = append(errs, err)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(sink.Name(), "published").Inc()
	}
	return errors.Join(errs...)
}

// Len reports the number of configured sinks.
func (f *Fanout) Len() int { return len(f.sinks) }
