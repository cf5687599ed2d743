// internal/events/elasticsearch.go
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/models"
)

const DefaultEventsIndex = "substitution-handoff-events"

// ElasticsearchSink appends events to an audit index, one document per event
// keyed by event id so a retried publish overwrites instead of duplicating.
type ElasticsearchSink struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchSink(client *elasticsearch.Client, index string) *ElasticsearchSink {
	if index == "" {
		index = DefaultEventsIndex
	}
	return &ElasticsearchSink{client: client, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Publish(ctx context.Context, event models.HandoffEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewEventPublishError(s.Name(), fmt.Errorf("marshal event: %w", err))
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return apperrors.NewEventPublishError(s.Name(), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return apperrors.NewEventPublishError(s.Name(), fmt.Errorf("index %s: %s: %s", s.index, res.Status(), detail))
	}
	return nil
}
