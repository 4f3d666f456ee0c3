package searcher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
)

type handle struct {
	s  *Searcher
	wg sync.WaitGroup
}

// Live serves queries from the newest committed version. Reload swaps in a
// searcher pinned to a newer version; the previous searcher is closed once
// the queries still using it have released it.
type Live struct {
	cfg    *config.Config
	opts   []Option
	mu     sync.RWMutex
	cur    *handle
	reload sync.Mutex
	logger *slog.Logger
}

// NewLive opens a searcher at the latest committed version.
func NewLive(cfg *config.Config, opts ...Option) (*Live, error) {
	s, err := NewSearcher(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Live{
		cfg:    cfg,
		opts:   opts,
		cur:    &handle{s: s},
		logger: slog.Default().With("component", "live-searcher"),
	}, nil
}

// Acquire returns the current searcher. The caller must call release when
// done with it.
func (l *Live) Acquire() (s *Searcher, release func()) {
	l.mu.RLock()
	h := l.cur
	h.wg.Add(1)
	l.mu.RUnlock()
	return h.s, h.wg.Done
}

// Version returns the version currently served.
func (l *Live) Version() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur.s.Version()
}

// Reload switches to the latest committed version if it is newer than the
// one served and reports whether it switched.
func (l *Live) Reload() (bool, error) {
	l.reload.Lock()
	defer l.reload.Unlock()

	latest, ok, err := segment.LatestVersion(l.cfg.Index.DataDir)
	if err != nil {
		return false, fmt.Errorf("reading latest version: %w", err)
	}
	current := l.Version()
	if !ok || latest <= current {
		return false, nil
	}
	s, err := NewSearcher(l.cfg, append(l.opts[:len(l.opts):len(l.opts)], WithVersion(latest))...)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	old := l.cur
	l.cur = &handle{s: s}
	l.mu.Unlock()

	go func() {
		old.wg.Wait()
		if err := old.s.Close(); err != nil {
			l.logger.Error("closing previous searcher", "version", old.s.Version(), "error", err)
		}
	}()
	l.logger.Info("searcher reloaded", "from", current, "to", latest)
	return true, nil
}

// Close waits for in-flight queries and closes the current searcher.
func (l *Live) Close() error {
	l.mu.Lock()
	h := l.cur
	l.mu.Unlock()
	h.wg.Wait()
	return h.s.Close()
}
