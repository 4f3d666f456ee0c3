package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
	gets atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.gets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func parse(t *testing.T, query string) *parser.Query {
	t.Helper()
	q, err := parser.New(nil, "body", 2).Parse(query)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func result(version int64) *searcher.Result {
	return &searcher.Result{
		Query:   "quick",
		Total:   1,
		Version: version,
		Docs: []index.ScoredDocument{{
			Document: index.Document{ID: 3, Fields: map[string]string{"body": "quick fox"}},
			Score:    1.5,
		}},
	}
}

func TestGetOrCompute(t *testing.T) {
	store := newMemStore()
	c := New(store, config.RedisConfig{CacheTTL: time.Minute}, WithMetrics(metrics.NewWithRegistry(nil)))
	q := parse(t, "quick fox")
	computed := 0
	compute := func() (*searcher.Result, error) {
		computed++
		return result(7), nil
	}

	got, hit, err := c.GetOrCompute(context.Background(), 7, q, 0, 10, compute)
	if err != nil || hit || got.Docs[0].ID != 3 {
		t.Fatalf("first call = %+v, %v, %v", got, hit, err)
	}
	got, hit, err = c.GetOrCompute(context.Background(), 7, parse(t, "fox quick"), 0, 10, compute)
	if err != nil || !hit || got.Docs[0].Fields["body"] != "quick fox" {
		t.Fatalf("reordered query = %+v, %v, %v", got, hit, err)
	}
	if computed != 1 {
		t.Errorf("computed %d times, want 1", computed)
	}
	if _, hit, _ = c.GetOrCompute(context.Background(), 8, q, 0, 10, compute); hit {
		t.Error("result of version 7 served for version 8")
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 2 {
		t.Errorf("stats = %d hits, %d misses", hits, misses)
	}
}

func TestKeysDifferByPageAndOccur(t *testing.T) {
	base := BuildKey(1, parse(t, "quick"), 0, 10)
	for name, key := range map[string]string{
		"page":    BuildKey(1, parse(t, "quick"), 1, 10),
		"size":    BuildKey(1, parse(t, "quick"), 0, 20),
		"version": BuildKey(2, parse(t, "quick"), 0, 10),
		"occur":   BuildKey(1, parse(t, "-quick"), 0, 10),
		"fuzzy":   BuildKey(1, parse(t, "quick~1"), 0, 10),
	} {
		if key == base {
			t.Errorf("%s does not change the key", name)
		}
	}
}

func TestComputeErrorNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, config.RedisConfig{})
	boom := errors.New("index closed")
	if _, _, err := c.GetOrCompute(context.Background(), 1, parse(t, "quick"), 0, 10, func() (*searcher.Result, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("error = %v", err)
	}
	if len(store.data) != 0 {
		t.Errorf("failed computation cached: %v", store.data)
	}
}

func TestStoreOutageOpensCircuit(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	c := New(store, config.RedisConfig{})
	q := parse(t, "quick")
	for i := 0; i < 10; i++ {
		got, _, err := c.GetOrCompute(context.Background(), 1, q, 0, 10, func() (*searcher.Result, error) {
			return result(1), nil
		})
		if err != nil || got == nil {
			t.Fatalf("search failed during store outage: %v", err)
		}
	}
	if n := store.gets.Load(); n >= 10 {
		t.Errorf("store was called %d times with the circuit open", n)
	}
}

func TestInvalidate(t *testing.T) {
	store := newMemStore()
	c := New(store, config.RedisConfig{})
	c.Set(context.Background(), parse(t, "quick"), 0, 10, result(1))
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, hit := c.Get(context.Background(), 1, parse(t, "quick"), 0, 10); hit {
		t.Error("hit after invalidate")
	}
}
