// Package collector evaluates parsed queries against a field scanner. Each
// clause is expanded into concrete terms, every matching posting is scored
// with the scoring scheme and the clause results are combined as document
// sets: required clauses are intersected, optional clauses united and
// excluded clauses subtracted.
package collector

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/ranker"
)

// TermSource is the read side the collector queries.
type TermSource interface {
	Expand(term index.Term) ([]index.Term, error)
	GetDocIDs(term index.Term) (iter.Seq[index.DocumentScore], error)
	DocsInCorpus(field string) (int, error)
}

// Result is the outcome of one collection.
type Result struct {
	// Scores holds the best matches, best first.
	Scores []index.DocumentScore
	// Total is the number of matching documents.
	Total int
	// TermStats maps every expanded term to the number of documents
	// holding it.
	TermStats map[string]int
}

type Collector struct {
	src         TermSource
	scoring     ranker.ScoringScheme
	concurrency int
	logger      *slog.Logger
}

// New returns a collector that evaluates up to concurrency clauses at once.
func New(src TermSource, scoring ranker.ScoringScheme, concurrency int) *Collector {
	if scoring == nil {
		scoring = ranker.TfIdf{}
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Collector{
		src:         src,
		scoring:     scoring,
		concurrency: concurrency,
		logger:      slog.Default().With("component", "collector"),
	}
}

type clauseResult struct {
	docs   *roaring64.Bitmap
	scores map[uint64]float64
	stats  map[string]int
}

// Collect evaluates q and returns the limit best matches. A non-positive
// limit returns every match.
func (c *Collector) Collect(ctx context.Context, q *parser.Query, limit int) (*Result, error) {
	res := &Result{Scores: []index.DocumentScore{}, TermStats: make(map[string]int)}
	if len(q.Clauses) == 0 {
		return res, nil
	}

	results := make([]*clauseResult, len(q.Clauses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, clause := range q.Clauses {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := c.evaluate(clause)
			if err != nil {
				return fmt.Errorf("evaluating %s: %w", clause, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var must, should []*clauseResult
	excluded := roaring64.New()
	for i, clause := range q.Clauses {
		r := results[i]
		for term, n := range r.stats {
			res.TermStats[term] = n
		}
		switch clause.Occur {
		case parser.Must:
			must = append(must, r)
		case parser.MustNot:
			excluded.Or(r.docs)
		default:
			should = append(should, r)
		}
	}

	candidates := roaring64.New()
	if len(must) > 0 {
		candidates.Or(must[0].docs)
		for _, r := range must[1:] {
			candidates.And(r.docs)
		}
	} else {
		for _, r := range should {
			candidates.Or(r.docs)
		}
	}
	candidates.AndNot(excluded)

	scored := make([]index.DocumentScore, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		docID := it.Next()
		var score float64
		for _, r := range must {
			score += r.scores[docID]
		}
		for _, r := range should {
			score += r.scores[docID]
		}
		scored = append(scored, index.DocumentScore{DocumentID: docID, Score: score})
	}
	res.Total = len(scored)
	res.Scores = merger.TopK(scored, limit)

	c.logger.Debug("query collected",
		"query", q.String(),
		"clauses", len(q.Clauses),
		"candidates", res.Total,
		"excluded", excluded.GetCardinality(),
	)
	return res, nil
}

func (c *Collector) evaluate(clause parser.Clause) (*clauseResult, error) {
	r := &clauseResult{
		docs:   roaring64.New(),
		scores: make(map[uint64]float64),
		stats:  make(map[string]int),
	}
	terms, err := c.src.Expand(clause.Term)
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return r, nil
	}
	corpus, err := c.src.DocsInCorpus(clause.Field)
	if err != nil {
		return nil, err
	}
	for _, term := range terms {
		seq, err := c.src.GetDocIDs(term)
		if err != nil {
			return nil, err
		}
		var hits []index.DocumentScore
		for ds := range seq {
			hits = append(hits, ds)
		}
		if len(hits) == 0 {
			continue
		}
		r.stats[term.String()] = len(hits)
		for _, ds := range hits {
			r.docs.Add(ds.DocumentID)
			r.scores[ds.DocumentID] += c.scoring.Score(ds.Score, corpus, len(hits))
		}
	}
	return r, nil
}
