// Package searcher answers queries against one pinned index version. A
// Searcher owns a field scanner and a document read session for its whole
// lifetime; versions committed after it was opened are never visible to it.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/collector"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/scanner"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/tracing"
)

// Result is one page of hits.
type Result struct {
	Query     string                 `json:"query"`
	Total     int                    `json:"total_hits"`
	Docs      []index.ScoredDocument `json:"results"`
	Version   int64                  `json:"version"`
	TermStats map[string]int         `json:"term_stats"`
}

type options struct {
	version    int64
	pinned     bool
	normalizer parser.Normalizer
	scoring    ranker.ScoringScheme
	metrics    *metrics.Metrics
}

// Option configures a Searcher.
type Option func(*options)

// WithVersion pins the searcher to version instead of the latest committed
// one.
func WithVersion(version int64) Option {
	return func(o *options) {
		o.version = version
		o.pinned = true
	}
}

// WithNormalizer replaces the query token normalizer. It must match the
// analyzer the index was built with.
func WithNormalizer(n parser.Normalizer) Option {
	return func(o *options) { o.normalizer = n }
}

// WithScoring replaces the configured scoring scheme.
func WithScoring(s ranker.ScoringScheme) Option {
	return func(o *options) { o.scoring = s }
}

// WithMetrics records query metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Searcher is safe for concurrent use until Close.
type Searcher struct {
	cfg       config.SearchConfig
	version   int64
	scanner   *scanner.FieldScanner
	session   *docstore.ReadSession
	parser    *parser.Parser
	collector *collector.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewSearcher opens the index in cfg.Index.DataDir at the latest committed
// version, or at the version given with WithVersion.
func NewSearcher(cfg *config.Config, opts ...Option) (*Searcher, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	dir := cfg.Index.DataDir

	versions, err := segment.ListVersions(dir)
	if err != nil {
		return nil, err
	}
	version := o.version
	switch {
	case !o.pinned && len(versions) == 0:
		return nil, fmt.Errorf("%w in %s", apperrors.ErrNoCommittedVersion, dir)
	case !o.pinned:
		version = versions[len(versions)-1]
	case !slices.Contains(versions, version):
		return nil, fmt.Errorf("%w: version %d in %s", apperrors.ErrNoCommittedVersion, version, dir)
	}

	if o.normalizer == nil {
		o.normalizer = tokenizer.FromConfig(cfg.Index)
	}
	if o.scoring == nil {
		if o.scoring, err = ranker.NewScheme(cfg.Search.Scoring); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
	}

	fs, err := scanner.Open(dir, version, scanner.WithMetrics(o.metrics))
	if err != nil {
		return nil, fmt.Errorf("opening field scanner: %w", err)
	}
	session, err := docstore.OpenReadSession(dir, version)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("opening read session: %w", err)
	}

	s := &Searcher{
		cfg:       cfg.Search,
		version:   version,
		scanner:   fs,
		session:   session,
		parser:    parser.New(o.normalizer, cfg.Search.DefaultField, cfg.Search.FuzzyEdits, parser.WithMaxEdits(cfg.Search.MaxFuzzyEdits)),
		collector: collector.New(fs, o.scoring, 0),
		metrics:   o.metrics,
		logger:    slog.Default().With("component", "searcher", "version", version),
	}
	if s.metrics != nil {
		s.metrics.IndexVersion.Set(float64(version))
	}
	s.logger.Info("searcher opened", "documents", fs.DocumentCount(), "fields", len(fs.Fields()))
	return s, nil
}

// Version returns the pinned version.
func (s *Searcher) Version() int64 {
	return s.version
}

// DocumentCount returns the number of documents visible to the searcher.
func (s *Searcher) DocumentCount() int {
	return s.scanner.DocumentCount()
}

// Scanner returns the field scanner backing the searcher.
func (s *Searcher) Scanner() *scanner.FieldScanner {
	return s.scanner
}

// Parse parses text with the searcher's default field and fuzzy distance.
func (s *Searcher) Parse(text string) (*parser.Query, error) {
	return s.parser.Parse(text)
}

// SearchText parses text and runs Search.
func (s *Searcher) SearchText(ctx context.Context, text string, page, size int) (*Result, error) {
	q, err := s.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, q, page, size)
}

// Search returns page page (zero based) of size hits for q, best first.
// Hits are selected by score, hydrated from the document tables and then put
// back into score order.
func (s *Searcher) Search(ctx context.Context, q *parser.Query, page, size int) (*Result, error) {
	if page < 0 || size < 0 {
		return nil, fmt.Errorf("%w: page %d size %d", apperrors.ErrInvalidInput, page, size)
	}
	if size == 0 {
		size = s.cfg.DefaultLimit
	}
	if size <= 0 {
		size = 10
	}
	if err := s.checkPage(page, size); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "searcher.search")
	span.SetAttr("query", q.String())
	span.SetAttr("version", s.version)
	defer span.End()

	var res *Result
	err := resilience.WithTimeout(ctx, s.cfg.Timeout, "search", func(ctx context.Context) error {
		r, err := s.search(ctx, q, page, size)
		res = r
		return err
	})
	s.observe(res, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	span.SetAttr("total_hits", res.Total)
	s.logger.Info("search completed",
		"query", q.RawQuery,
		"total_hits", res.Total,
		"returned", len(res.Docs),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// checkPage rejects pages whose last hit lies beyond MaxResults, or beyond
// what an int can address when no limit is set. size must be positive.
func (s *Searcher) checkPage(page, size int) error {
	limit := s.cfg.MaxResults
	if limit <= 0 {
		limit = math.MaxInt
	}
	if page >= limit/size {
		return fmt.Errorf("%w: page %d of size %d ends beyond result %d", apperrors.ErrInvalidInput, page, size, limit)
	}
	return nil
}

func (s *Searcher) search(ctx context.Context, q *parser.Query, page, size int) (*Result, error) {
	collectCtx, collectSpan := tracing.StartChildSpan(ctx, "collect")
	collected, err := s.collector.Collect(collectCtx, q, (page+1)*size)
	collectSpan.End()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Query:     q.RawQuery,
		Total:     collected.Total,
		Docs:      []index.ScoredDocument{},
		Version:   s.version,
		TermStats: collected.TermStats,
	}
	skip := page * size
	if skip >= len(collected.Scores) {
		return res, nil
	}
	paged := collected.Scores[skip:min(skip+size, len(collected.Scores))]

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, hydrateSpan := tracing.StartChildSpan(ctx, "hydrate")
	defer hydrateSpan.End()
	ids := make([]uint64, len(paged))
	scores := make(map[uint64]float64, len(paged))
	for i, ds := range paged {
		ids[i] = ds.DocumentID
		scores[ds.DocumentID] = ds.Score
	}
	docs, err := s.session.ReadDocuments(ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating page: %w", err)
	}
	for _, doc := range docs {
		res.Docs = append(res.Docs, index.ScoredDocument{Document: doc, Score: scores[doc.ID]})
	}
	slices.SortFunc(res.Docs, func(a, b index.ScoredDocument) int {
		x := index.DocumentScore{DocumentID: a.ID, Score: a.Score}
		y := index.DocumentScore{DocumentID: b.ID, Score: b.Score}
		switch {
		case merger.Better(x, y):
			return -1
		case merger.Better(y, x):
			return 1
		default:
			return 0
		}
	})
	return res, nil
}

func (s *Searcher) observe(res *Result, err error, latency time.Duration) {
	if s.metrics == nil {
		return
	}
	resultType := "hits"
	switch {
	case err != nil:
		resultType = "error"
	case res.Total == 0:
		resultType = "empty"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	s.metrics.SearchLatency.WithLabelValues("bypass").Observe(latency.Seconds())
	if err == nil && res != nil {
		s.metrics.SearchResultsCount.Observe(float64(res.Total))
	}
}

// Terms returns up to limit tokens of field starting with prefix, with their
// document frequency. A non-positive limit returns every match.
func (s *Searcher) Terms(field, prefix string, limit int) ([]index.TokenInfo, error) {
	r, err := s.scanner.GetReader(field)
	if err != nil || r == nil {
		return []index.TokenInfo{}, err
	}
	out := []index.TokenInfo{}
	for tok := range r.GetTokens(prefix) {
		if limit > 0 && len(out) == limit {
			break
		}
		p, err := r.GetPostings(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, index.TokenInfo{Token: tok, DocFreq: len(p)})
	}
	return out, nil
}

// Similar returns the tokens of field within edits edits of token. edits
// must not exceed the parser's limit.
func (s *Searcher) Similar(field, token string, edits int) ([]string, error) {
	if edits < 0 || edits > s.parser.MaxEdits() {
		return nil, fmt.Errorf("%w: edit distance %d outside [0, %d]", apperrors.ErrInvalidQuery, edits, s.parser.MaxEdits())
	}
	terms, err := s.scanner.Expand(index.Term{Field: field, Token: token, Fuzzy: true, Edits: edits})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Token
	}
	return out, nil
}

// Close releases the field scanner and the read session.
func (s *Searcher) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.scanner.Close(), s.session.Close())
		s.logger.Info("searcher closed")
	})
	return s.closeErr
}
