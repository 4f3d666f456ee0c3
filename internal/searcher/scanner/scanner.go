// Package scanner is the query-time view of an index directory pinned to one
// version. It maps every field to the tries that contribute to it across the
// committed versions, and lazily loads one merged FieldReader per field.
package scanner

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
)

// Option configures a FieldScanner.
type Option func(*FieldScanner)

// WithMetrics counts field reader loads in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *FieldScanner) { s.metrics = m }
}

// FieldScanner is safe for concurrent use.
type FieldScanner struct {
	dir        string
	version    int64
	fieldIndex map[string][]segment.TrieRef
	sources    map[int64]*Source
	docCount   int

	mu      sync.Mutex
	readers map[string]*FieldReader
	group   singleflight.Group
	load    func(field string, refs []segment.TrieRef) (*FieldReader, error)

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Open scans the committed versions of dir up to and including version and
// builds the field index, earlier versions first.
func Open(dir string, version int64, opts ...Option) (*FieldScanner, error) {
	versions, err := segment.VersionsUpTo(dir, version)
	if err != nil {
		return nil, err
	}
	s := &FieldScanner{
		dir:        dir,
		version:    version,
		fieldIndex: make(map[string][]segment.TrieRef),
		sources:    make(map[int64]*Source, len(versions)),
		readers:    make(map[string]*FieldReader),
		logger:     slog.Default().With("component", "field-scanner", "version", version),
	}
	s.load = s.loadReader
	for _, opt := range opts {
		opt(s)
	}
	for _, v := range versions {
		info, err := segment.ReadBatchInfo(dir, v)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.docCount += info.DocumentCount
		if len(info.FieldOffsets) == 0 {
			continue
		}
		src, err := OpenSource(dir, info)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.sources[v] = src
		refs := info.TrieRefs()
		fields := make([]string, 0, len(refs))
		for field := range refs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			s.fieldIndex[field] = append(s.fieldIndex[field], refs[field])
		}
	}
	s.logger.Debug("field index built", "versions", len(versions), "fields", len(s.fieldIndex))
	return s, nil
}

// Version returns the pinned version.
func (s *FieldScanner) Version() int64 {
	return s.version
}

// DocumentCount returns the number of documents in the visible versions.
func (s *FieldScanner) DocumentCount() int {
	return s.docCount
}

// Fields returns the indexed field names in order.
func (s *FieldScanner) Fields() []string {
	fields := make([]string, 0, len(s.fieldIndex))
	for f := range s.fieldIndex {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Files returns the logical trie identifiers contributing to field.
func (s *FieldScanner) Files(field string) []string {
	refs := s.fieldIndex[field]
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name()
	}
	return names
}

// GetReader returns the merged reader of field, loading it on first use.
// Concurrent callers for an uncached field share a single load. A field
// without any trie yields a nil reader.
func (s *FieldScanner) GetReader(field string) (*FieldReader, error) {
	s.mu.Lock()
	r, ok := s.readers[field]
	s.mu.Unlock()
	if ok {
		return r, nil
	}
	refs, ok := s.fieldIndex[field]
	if !ok {
		return nil, nil
	}
	v, err, _ := s.group.Do(field, func() (any, error) {
		s.mu.Lock()
		r, ok := s.readers[field]
		s.mu.Unlock()
		if ok {
			return r, nil
		}
		r, err := s.load(field, refs)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.readers[field] = r
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.FieldReaderLoads.WithLabelValues(field).Inc()
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading field %q: %w", field, err)
	}
	return v.(*FieldReader), nil
}

func (s *FieldScanner) loadReader(field string, refs []segment.TrieRef) (*FieldReader, error) {
	var merged *FieldReader
	for _, ref := range refs {
		src, ok := s.sources[ref.Version]
		if !ok {
			return nil, fmt.Errorf("version %d is not open", ref.Version)
		}
		r, err := LoadFieldReader(field, ref, src)
		if err != nil {
			return nil, err
		}
		if merged == nil {
			merged = r
		} else {
			merged.Merge(r)
		}
	}
	s.logger.Debug("field reader loaded", "field", field, "tries", len(refs))
	return merged, nil
}

// GetDocIDs returns the documents whose postings hold term's token exactly.
// A missing field or token yields an empty sequence.
func (s *FieldScanner) GetDocIDs(term index.Term) (iter.Seq[index.DocumentScore], error) {
	r, err := s.GetReader(term.Field)
	if err != nil || r == nil {
		return emptyScores, err
	}
	p, err := r.GetPostings(term.Token)
	if err != nil || p == nil {
		return emptyScores, err
	}
	return func(yield func(index.DocumentScore) bool) {
		for _, docID := range p.DocIDs() {
			if !yield(index.DocumentScore{DocumentID: docID, Score: p[docID]}) {
				return
			}
		}
	}, nil
}

func emptyScores(func(index.DocumentScore) bool) {}

// Expand rewrites a fuzzy or prefix term into the concrete terms of the
// dictionary it matches. Any other term expands to itself.
func (s *FieldScanner) Expand(term index.Term) ([]index.Term, error) {
	if !term.Fuzzy && !term.Prefix {
		return []index.Term{term}, nil
	}
	r, err := s.GetReader(term.Field)
	if err != nil || r == nil {
		return nil, err
	}
	var tokens iter.Seq[string]
	if term.Fuzzy {
		tokens = r.GetSimilar(term.Token, term.Edits)
	} else {
		tokens = r.GetTokens(term.Token)
	}
	var expanded []index.Term
	for tok := range tokens {
		expanded = append(expanded, index.Term{Field: term.Field, Token: tok})
	}
	s.logger.Debug("query rewrite", "from", term.String(), "to", len(expanded))
	return expanded, nil
}

// DocsInCorpus returns the number of distinct documents holding any token
// of field.
func (s *FieldScanner) DocsInCorpus(field string) (int, error) {
	r, err := s.GetReader(field)
	if err != nil || r == nil {
		return 0, err
	}
	return r.DocCount()
}

// GetAllTokens returns every token of field with its document frequency.
func (s *FieldScanner) GetAllTokens(field string) ([]index.TokenInfo, error) {
	r, err := s.GetReader(field)
	if err != nil || r == nil {
		return nil, err
	}
	return r.GetAllTokens()
}

// GetAllTokensFromTrie yields every token of field in order.
func (s *FieldScanner) GetAllTokensFromTrie(field string) (iter.Seq[string], error) {
	r, err := s.GetReader(field)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return func(func(string) bool) {}, nil
	}
	return r.GetAllTokensFromTrie(), nil
}

// Close releases every open compound file. Readers obtained from the scanner
// must not be used afterwards.
func (s *FieldScanner) Close() error {
	var errs []error
	for _, src := range s.sources {
		errs = append(errs, src.Close())
	}
	s.sources = nil
	s.mu.Lock()
	s.readers = make(map[string]*FieldReader)
	s.mu.Unlock()
	return errors.Join(errs...)
}
