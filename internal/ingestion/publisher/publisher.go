// Package publisher queues validated documents for indexing by publishing
// them to the document-ingest topic, keyed by document key.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/kafka"
)

// EventWriter writes events to the ingest topic.
type EventWriter interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher turns ingestion requests into Kafka events.
type Publisher struct {
	writer     EventWriter
	primaryKey string
	logger     *slog.Logger
}

// New returns a Publisher writing to w. Documents without a Key take it from
// their primaryKey field.
func New(w EventWriter, primaryKey string) *Publisher {
	return &Publisher{
		writer:     w,
		primaryKey: primaryKey,
		logger:     slog.Default().With("component", "publisher"),
	}
}

// Ingest publishes every document of req in one write. Either all documents
// are queued or the call fails.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	events := make([]kafka.Event, 0, len(req.Documents))
	keys := make([]string, 0, len(req.Documents))
	for _, doc := range req.Documents {
		if doc.Key == "" {
			doc.Key = doc.Fields[p.primaryKey]
		}
		events = append(events, kafka.Event{Key: doc.Key, Type: indexer.EventDocumentUpsert, Value: doc})
		keys = append(keys, doc.Key)
	}

	if err := p.writer.PublishBatch(ctx, events); err != nil {
		return nil, fmt.Errorf("queueing %d documents: %w", len(events), err)
	}
	p.logger.Debug("documents queued", "count", len(events))
	return &ingestion.IngestResponse{
		Accepted: len(events),
		Keys:     keys,
		Status:   "QUEUED",
	}, nil
}
