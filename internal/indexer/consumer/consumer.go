// Package consumer reads document events from Kafka and indexes every batch
// in one upsert transaction. Committed versions are registered in
// PostgreSQL and announced on the index-complete topic.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/resilience"
)

// Recorder registers committed versions.
type Recorder interface {
	RecordSegment(ctx context.Context, seg postgres.Segment, docs []postgres.IndexedDocument) error
}

// Publisher announces committed versions.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Option configures an IndexConsumer.
type Option func(*IndexConsumer)

// WithRecorder registers every committed version with r.
func WithRecorder(r Recorder) Option {
	return func(ic *IndexConsumer) { ic.recorder = r }
}

// WithPublisher announces every committed version through p.
func WithPublisher(p Publisher) Option {
	return func(ic *IndexConsumer) { ic.publisher = p }
}

// WithMetrics records indexing metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ic *IndexConsumer) { ic.metrics = m }
}

// WithRetry replaces the lock contention retry schedule.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(ic *IndexConsumer) { ic.retry = cfg }
}

// IndexConsumer turns batches of document events into index versions.
type IndexConsumer struct {
	cfg       config.IndexConfig
	analyzer  indexer.Analyzer
	recorder  Recorder
	publisher Publisher
	metrics   *metrics.Metrics
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	logger    *slog.Logger
}

// New returns a consumer writing to cfg.DataDir with analyzer.
func New(cfg config.IndexConfig, analyzer indexer.Analyzer, opts ...Option) *IndexConsumer {
	ic := &IndexConsumer{
		cfg:      cfg,
		analyzer: analyzer,
		retry: resilience.RetryConfig{
			MaxAttempts:  8,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "index-consumer"),
	}
	for _, opt := range opts {
		opt(ic)
	}
	ic.breaker = resilience.NewCircuitBreaker("segment-registry", resilience.CircuitBreakerConfig{
		OnStateChange: ic.metrics.CircuitObserver(),
	})
	ic.retry.Retryable = func(err error) bool { return errors.Is(err, indexer.ErrWriteLocked) }
	if ic.metrics != nil {
		ic.retry.OnRetry = func(int, error, time.Duration) { ic.metrics.LockRetriesTotal.Inc() }
	}
	return ic
}

// Start consumes c until ctx is cancelled, one transaction per batch.
func (ic *IndexConsumer) Start(ctx context.Context, c *kafka.Consumer) error {
	ic.logger.Info("index consumer starting", "batch_size", ic.cfg.BatchSize, "flush_interval", ic.cfg.FlushInterval)
	return c.StartBatch(ctx, ic.cfg.BatchSize, ic.cfg.FlushInterval, ic.HandleBatch)
}

// HandleBatch indexes the decodable events of batch. Undecodable events are
// logged and dropped. The batch fails only when the transaction does.
func (ic *IndexConsumer) HandleBatch(ctx context.Context, batch []kafka.Message) error {
	docs := make([]index.Document, 0, len(batch))
	keys := make([]string, 0, len(batch))
	for _, msg := range batch {
		if msg.Type != "" && msg.Type != indexer.EventDocumentUpsert {
			ic.logger.Warn("skipping unexpected event type", "type", msg.Type, "offset", msg.Offset)
			continue
		}
		event, err := kafka.DecodeJSON[indexer.DocumentEvent](msg.Value)
		if err != nil {
			ic.logger.Error("failed to decode document event",
				"error", err,
				"key", string(msg.Key),
				"offset", msg.Offset,
			)
			continue
		}
		if event.Key == "" {
			event.Key = string(msg.Key)
		}
		docs = append(docs, event.Document(ic.cfg.PrimaryKeyField))
		keys = append(keys, event.Key)
	}
	if len(docs) == 0 {
		return nil
	}

	var version int64
	err := resilience.Retry(ctx, "upsert", ic.retry, func() error {
		v, err := indexer.Upsert(ctx, ic.cfg, ic.analyzer, indexer.FromDocuments(docs), indexer.WithMetrics(ic.metrics))
		version = v
		return err
	})
	if err != nil {
		return fmt.Errorf("indexing batch of %d documents: %w", len(docs), err)
	}
	info, err := segment.ReadBatchInfo(ic.cfg.DataDir, version)
	if err != nil {
		return fmt.Errorf("reading committed version %d: %w", version, err)
	}
	ic.logger.Info("batch indexed", "version", version, "documents", len(docs), "doc_base", info.DocBase)

	ic.record(ctx, info, keys)
	ic.announce(ctx, info)
	return nil
}

func (ic *IndexConsumer) record(ctx context.Context, info *segment.BatchInfo, keys []string) {
	if ic.recorder == nil {
		return
	}
	fields := make([]string, 0, len(info.Fields))
	for _, f := range info.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	docs := make([]postgres.IndexedDocument, len(keys))
	for i, key := range keys {
		docs[i] = postgres.IndexedDocument{Key: key, DocID: info.DocBase + uint64(i)}
	}
	seg := postgres.Segment{
		Version:       info.VersionID,
		DocBase:       info.DocBase,
		DocumentCount: info.DocumentCount,
		Fields:        fields,
		Compression:   info.Compression,
	}
	err := ic.breaker.Execute(func() error {
		return ic.recorder.RecordSegment(ctx, seg, docs)
	})
	if err != nil {
		ic.logger.Error("failed to record segment", "version", info.VersionID, "error", err)
	}
}

func (ic *IndexConsumer) announce(ctx context.Context, info *segment.BatchInfo) {
	if ic.publisher == nil {
		return
	}
	event := kafka.Event{
		Key:  fmt.Sprintf("%d", info.VersionID),
		Type: indexer.EventIndexComplete,
		Value: indexer.IndexCompleteEvent{
			Version:       info.VersionID,
			DocBase:       info.DocBase,
			DocumentCount: info.DocumentCount,
			CommittedAt:   info.CreatedAt,
		},
	}
	if err := ic.publisher.Publish(ctx, event); err != nil {
		ic.logger.Error("failed to announce version", "version", info.VersionID, "error", err)
	}
}
