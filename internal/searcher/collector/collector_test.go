package collector

import (
	"context"
	"errors"
	"iter"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/ranker"
)

type fakeSource struct {
	fields map[string]map[string]index.Posting
	err    error
}

func (f *fakeSource) Expand(term index.Term) ([]index.Term, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !term.Prefix {
		return []index.Term{term}, nil
	}
	var out []index.Term
	for tok := range f.fields[term.Field] {
		if strings.HasPrefix(tok, term.Token) {
			out = append(out, index.Term{Field: term.Field, Token: tok})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (f *fakeSource) GetDocIDs(term index.Term) (iter.Seq[index.DocumentScore], error) {
	p := f.fields[term.Field][term.Token]
	return func(yield func(index.DocumentScore) bool) {
		for _, id := range p.DocIDs() {
			if !yield(index.DocumentScore{DocumentID: id, Score: p[id]}) {
				return
			}
		}
	}, nil
}

func (f *fakeSource) DocsInCorpus(field string) (int, error) {
	docs := make(map[uint64]struct{})
	for _, p := range f.fields[field] {
		for id := range p {
			docs[id] = struct{}{}
		}
	}
	return len(docs), nil
}

func corpus() *fakeSource {
	return &fakeSource{fields: map[string]map[string]index.Posting{
		"body": {
			"quick": {0: 1, 1: 1, 3: 2},
			"quiet": {4: 1},
			"fox":   {0: 1, 1: 2, 2: 1},
			"brown": {1: 1},
			"dog":   {2: 1, 3: 1},
		},
		"title": {
			"fox": {5: 3},
		},
	}}
}

func collect(t *testing.T, c *Collector, query string, limit int) *Result {
	t.Helper()
	q, err := parser.New(nil, "body", 1).Parse(query)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Collect(context.Background(), q, limit)
	if err != nil {
		t.Fatalf("Collect(%q): %v", query, err)
	}
	return res
}

func ids(scores []index.DocumentScore) []uint64 {
	out := make([]uint64, len(scores))
	for i, s := range scores {
		out[i] = s.DocumentID
	}
	return out
}

func TestCollectBooleanCombination(t *testing.T) {
	c := New(corpus(), ranker.Raw{}, 2)
	tests := []struct {
		query string
		want  []uint64
	}{
		{"quick", []uint64{3, 0, 1}},
		{"quick fox", []uint64{1, 0, 3, 2}},
		{"+quick +fox", []uint64{1, 0}},
		{"+quick fox", []uint64{1, 0, 3}},
		{"quick -brown", []uint64{3, 0}},
		{"+fox -dog -brown", []uint64{0}},
		{"-fox", []uint64{}},
		{"title:fox", []uint64{5}},
		{"qui*", []uint64{3, 0, 1, 4}},
		{"zebra", []uint64{}},
		{"", []uint64{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := collect(t, c, tt.query, 0)
			if got := ids(res.Scores); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
			if res.Total != len(tt.want) {
				t.Errorf("Total = %d, want %d", res.Total, len(tt.want))
			}
		})
	}
}

func TestCollectScoresSumAcrossClauses(t *testing.T) {
	res := collect(t, New(corpus(), ranker.Raw{}, 1), "quick fox", 0)
	want := []index.DocumentScore{
		{DocumentID: 1, Score: 3},
		{DocumentID: 0, Score: 2},
		{DocumentID: 3, Score: 2},
		{DocumentID: 2, Score: 1},
	}
	if !reflect.DeepEqual(res.Scores, want) {
		t.Errorf("scores = %v, want %v", res.Scores, want)
	}
	if res.TermStats["body:quick"] != 3 || res.TermStats["body:fox"] != 3 {
		t.Errorf("term stats = %v", res.TermStats)
	}
}

func TestCollectLimitKeepsTotal(t *testing.T) {
	res := collect(t, New(corpus(), ranker.Raw{}, 4), "quick fox", 2)
	if got := ids(res.Scores); !reflect.DeepEqual(got, []uint64{1, 0}) {
		t.Errorf("ids = %v, want [1 0]", got)
	}
	if res.Total != 4 {
		t.Errorf("Total = %d, want 4", res.Total)
	}
}

func TestCollectTfIdfPrefersRareTerms(t *testing.T) {
	res := collect(t, New(corpus(), ranker.TfIdf{}, 0), "brown dog", 0)
	if len(res.Scores) != 3 || res.Scores[0].DocumentID != 1 {
		t.Errorf("scores = %v, want document 1 first", res.Scores)
	}
}

func TestCollectErrors(t *testing.T) {
	boom := errors.New("trie unreadable")
	c := New(&fakeSource{err: boom}, nil, 0)
	q, _ := parser.New(nil, "body", 1).Parse("quick fox")
	if _, err := c.Collect(context.Background(), q, 10); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(corpus(), nil, 0).Collect(ctx, q, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
