package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/searcher/ranker"
)

// BenchmarkQueryParse measures query parsing latency for queries of varying
// complexity.
func BenchmarkQueryParse(b *testing.B) {
	p := parser.New(tokenizer.NewAnalyzer(), "body", 2)
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "distributed systems"},
		{"boolean_and", "search AND analytics AND platform"},
		{"with_not", "distributed NOT monolithic"},
		{"operators", "+title:search -body:deprecated rank* engne~1"},
		{"long", "distributed search analytics platform indexing query processing ranking caching sharding"},
	}

	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := p.Parse(q.query); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkScoring measures the per-posting cost of each scoring scheme.
func BenchmarkScoring(b *testing.B) {
	schemes := map[string]ranker.ScoringScheme{
		"tfidf": ranker.TfIdf{},
		"bm25":  ranker.BM25{DocLength: 120, AvgDocLength: 150},
		"raw":   ranker.Raw{},
	}
	for name, s := range schemes {
		b.Run(name, func(b *testing.B) {
			var sum float64
			for i := 0; i < b.N; i++ {
				sum += s.Score(float64(i%10+1), 100000, i%1000+1)
			}
			_ = sum
		})
	}
}

func openSearcher(b *testing.B, versions, docsPerVersion int) *searcher.Searcher {
	b.Helper()
	cfg := benchConfig(b.TempDir())
	for v := 0; v < versions; v++ {
		load(b, cfg, corpus(docsPerVersion, v*docsPerVersion))
	}
	s, err := searcher.NewSearcher(cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { s.Close() })
	return s
}

// BenchmarkSearch measures end-to-end search latency over 10 000 documents
// spread across several versions.
func BenchmarkSearch(b *testing.B) {
	queries := []string{"search", "+search +ranking", "search -engine", "rank*", "engne~1"}
	for _, versions := range []int{1, 4} {
		s := openSearcher(b, versions, 10000/versions)
		for _, q := range queries {
			b.Run(fmt.Sprintf("versions_%d/%s", versions, q), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := s.SearchText(context.Background(), q, 0, 10); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkSearchParallel measures concurrent query throughput on one
// searcher.
func BenchmarkSearchParallel(b *testing.B) {
	s := openSearcher(b, 2, 5000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q := vocabulary[i%len(vocabulary)]
			if _, err := s.SearchText(context.Background(), q, 0, 10); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}
