// Package cache keeps search results in Redis. Keys are derived from the
// index version and the canonical form of the parsed query, so a newly
// committed version never serves results computed on an older one.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/resilience"
)

const keyPrefix = "search:"

// Store is the key-value store behind the cache.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Option configures a QueryCache.
type Option func(*QueryCache)

// WithMetrics counts hits and misses in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *QueryCache) { c.metrics = m }
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. Store failures open a circuit breaker so
// an unavailable store degrades to uncached searches.
func New(store Store, cfg config.RedisConfig, opts ...Option) *QueryCache {
	c := &QueryCache{
		store:  store,
		ttl:    cfg.CacheTTL,
		logger: slog.Default().With("component", "query-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		IsFailure:        func(err error) bool { return err != nil && !pkgredis.IsNilError(err) },
		OnStateChange:    c.metrics.CircuitObserver(),
	})
	return c
}

// Get returns the cached page for q.
func (c *QueryCache) Get(ctx context.Context, version int64, q *parser.Query, page, size int) (*searcher.Result, bool) {
	key := BuildKey(version, q, page, size)
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result searcher.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "err", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", q.RawQuery, "key", key)
	return &result, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Set stores result for q.
func (c *QueryCache) Set(ctx context.Context, q *parser.Query, page, size int, result *searcher.Result) {
	key := BuildKey(result.Version, q, page, size)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for q or computes, stores and returns
// it. Concurrent misses for the same key share one computation.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version int64,
	q *parser.Query,
	page, size int,
	computeFn func() (*searcher.Result, error),
) (*searcher.Result, bool, error) {
	if result, ok := c.Get(ctx, version, q, page, size); ok {
		return result, true, nil
	}
	key := BuildKey(version, q, page, size)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, q, page, size, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*searcher.Result), false, nil
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	pattern := keyPrefix + "*"
	deleted, err := c.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey derives the cache key of a page of q at version. Clause order
// does not change the key.
func BuildKey(version int64, q *parser.Query, page, size int) string {
	raw := fmt.Sprintf("v=%d|%s|page=%d|size=%d", version, canonical(q), page, size)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%d:%x", keyPrefix, version, hash[:16])
}

func canonical(q *parser.Query) string {
	clauses := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		clauses[i] = c.String()
	}
	sort.Strings(clauses)
	return strings.Join(clauses, " ")
}
