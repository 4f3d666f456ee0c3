// Package builder constructs one term dictionary per field from a stream of
// (field, token, posting) triples. Fields are multiplexed onto a bounded pool
// of workers; every field is pinned to one worker so its insertions are
// applied in arrival order by a single goroutine.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/trie"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
)

var (
	// ErrBuilderFinalized is returned by Add and Finalize once Finalize has
	// been called.
	ErrBuilderFinalized = errors.New("trie builder already finalized")
	// ErrEmptyField is returned by Add for a WordInfo without a field name.
	ErrEmptyField = errors.New("empty field name")
)

// FieldState is the lifecycle position of one field's dictionary.
type FieldState int

const (
	Unseen FieldState = iota
	Building
	Draining
	Finalized
)

func (s FieldState) String() string {
	switch s {
	case Building:
		return "building"
	case Draining:
		return "draining"
	case Finalized:
		return "finalized"
	default:
		return "unseen"
	}
}

// Option configures a Builder.
type Option func(*Builder)

// WithMetrics records the build duration in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

type worker struct {
	queue chan index.WordInfo
	dicts map[string]*trie.Dictionary
}

// Builder is safe for concurrent use by multiple producers.
type Builder struct {
	mu        sync.RWMutex
	finalized bool
	workers   []*worker
	group     *errgroup.Group
	groupCtx  context.Context

	failMu sync.Mutex
	failed error

	stateMu sync.Mutex
	states  map[string]FieldState
	words   int64

	start   time.Time
	insert  func(d *trie.Dictionary, w index.WordInfo) error
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New starts a builder with the given number of workers, each owning a queue
// of queueSize items. Non-positive values select GOMAXPROCS workers and an
// unbuffered queue.
func New(workers, queueSize int, opts ...Option) *Builder {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if queueSize < 0 {
		queueSize = 0
	}
	b := &Builder{
		states: make(map[string]FieldState),
		start:  time.Now(),
		insert: func(d *trie.Dictionary, w index.WordInfo) error {
			return d.Add(w.Token, w.Posting)
		},
		logger: slog.Default().With("component", "trie-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.group, b.groupCtx = errgroup.WithContext(context.Background())
	b.workers = make([]*worker, workers)
	for i := range b.workers {
		w := &worker{
			queue: make(chan index.WordInfo, queueSize),
			dicts: make(map[string]*trie.Dictionary),
		}
		b.workers[i] = w
		b.group.Go(func() error { return b.run(i, w) })
	}
	return b
}

func (b *Builder) run(id int, w *worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trie builder worker %d panicked: %v", id, r)
		}
		if err != nil {
			b.fail(err)
		}
	}()
	for item := range w.queue {
		d, ok := w.dicts[item.Field]
		if !ok {
			d = trie.NewDictionary()
			w.dicts[item.Field] = d
		}
		if err := b.insert(d, item); err != nil {
			return fmt.Errorf("building field %q: inserting %q: %w", item.Field, item.Token, err)
		}
	}
	return nil
}

func (b *Builder) fail(err error) {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	if b.failed == nil {
		b.failed = err
	}
}

func (b *Builder) failure() error {
	b.failMu.Lock()
	defer b.failMu.Unlock()
	return b.failed
}

// Add enqueues w on the worker owning w.Field. It blocks while that worker's
// queue is full, and returns early when ctx is done or a worker has failed.
func (b *Builder) Add(ctx context.Context, w index.WordInfo) error {
	if w.Field == "" {
		return ErrEmptyField
	}
	if w.Token == "" {
		return fmt.Errorf("field %q: %w", w.Field, trie.ErrEmptyToken)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.finalized {
		return ErrBuilderFinalized
	}
	if err := b.failure(); err != nil {
		return err
	}
	b.markBuilding(w.Field)

	q := b.workers[segment.FieldHash(w.Field)%uint64(len(b.workers))].queue
	select {
	case q <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.groupCtx.Done():
		if err := b.failure(); err != nil {
			return err
		}
		return b.groupCtx.Err()
	}
}

func (b *Builder) markBuilding(field string) {
	b.stateMu.Lock()
	if _, ok := b.states[field]; !ok {
		b.states[field] = Building
	}
	b.words++
	b.stateMu.Unlock()
}

func (b *Builder) setAll(state FieldState) {
	b.stateMu.Lock()
	for field := range b.states {
		b.states[field] = state
	}
	b.stateMu.Unlock()
}

// State reports the lifecycle position of field.
func (b *Builder) State(field string) FieldState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.states[field]
}

// Finalize closes every queue, waits for the workers to drain and returns
// the dictionary of each field. If any insertion failed, the first failure
// is returned and no dictionaries are.
func (b *Builder) Finalize() (map[string]*trie.Dictionary, error) {
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return nil, ErrBuilderFinalized
	}
	b.finalized = true
	b.setAll(Draining)
	for _, w := range b.workers {
		close(w.queue)
	}
	b.mu.Unlock()

	if err := b.group.Wait(); err != nil {
		b.logger.Error("trie build failed", "error", err)
		return nil, err
	}

	out := make(map[string]*trie.Dictionary)
	for _, w := range b.workers {
		for field, d := range w.dicts {
			out[field] = d
		}
	}
	b.setAll(Finalized)

	elapsed := time.Since(b.start)
	if b.metrics != nil {
		b.metrics.BuilderDuration.Observe(elapsed.Seconds())
	}
	b.logger.Info("tries built",
		"fields", len(out),
		"words", b.words,
		"workers", len(b.workers),
		"duration", elapsed,
	)
	return out, nil
}
