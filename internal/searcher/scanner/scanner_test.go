package scanner

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
)

func indexConfig(dir string) config.IndexConfig {
	return config.IndexConfig{
		DataDir:          dir,
		PrimaryKeyField:  "id",
		Compression:      "snappy",
		BuilderWorkers:   2,
		BuilderQueueSize: 16,
	}
}

func commit(t *testing.T, dir string, bodies ...string) int64 {
	t.Helper()
	docs := make([]map[string]string, len(bodies))
	for i, b := range bodies {
		docs[i] = map[string]string{"body": b}
	}
	v, err := indexer.Upsert(context.Background(), indexConfig(dir), tokenizer.NewAnalyzer(), indexer.FromFields(docs))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return v
}

func openScanner(t *testing.T, dir string, version int64) *FieldScanner {
	t.Helper()
	s, err := Open(dir, version)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func docIDs(t *testing.T, s *FieldScanner, term index.Term) map[uint64]float64 {
	t.Helper()
	seq, err := s.GetDocIDs(term)
	if err != nil {
		t.Fatalf("GetDocIDs(%v): %v", term, err)
	}
	out := make(map[uint64]float64)
	for ds := range seq {
		out[ds.DocumentID] = ds.Score
	}
	return out
}

func tokens(terms []index.Term) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.Token
	}
	sort.Strings(out)
	return out
}

func TestQuickFox(t *testing.T) {
	dir := t.TempDir()
	v := commit(t, dir, "the quick fox", "quick brown fox")
	s := openScanner(t, dir, v)

	if got, want := docIDs(t, s, index.Term{Field: "body", Token: "quick"}), map[uint64]float64{0: 1, 1: 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("quick = %v, want %v", got, want)
	}

	prefix, err := s.Expand(index.Term{Field: "body", Token: "qu", Prefix: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := tokens(prefix); !reflect.DeepEqual(got, []string{"quick"}) {
		t.Errorf("prefix qu expands to %v, want [quick]", got)
	}

	fuzzy, err := s.Expand(index.Term{Field: "body", Token: "quack", Fuzzy: true, Edits: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := tokens(fuzzy); !slices.Contains(got, "quick") {
		t.Errorf("quack~2 expands to %v, want it to include quick", got)
	}

	exact := index.Term{Field: "body", Token: "fox"}
	if got, err := s.Expand(exact); err != nil || !reflect.DeepEqual(got, []index.Term{exact}) {
		t.Errorf("Expand(exact) = %v, %v", got, err)
	}

	n, err := s.DocsInCorpus("body")
	if err != nil || n != 2 {
		t.Errorf("DocsInCorpus = %d, %v; want 2", n, err)
	}
	if got := s.Fields(); !reflect.DeepEqual(got, []string{"body"}) {
		t.Errorf("Fields = %v", got)
	}
}

func TestMissingFieldAndToken(t *testing.T) {
	dir := t.TempDir()
	v := commit(t, dir, "quick fox")
	s := openScanner(t, dir, v)

	if got := docIDs(t, s, index.Term{Field: "title", Token: "quick"}); len(got) != 0 {
		t.Errorf("missing field returned %v", got)
	}
	if got := docIDs(t, s, index.Term{Field: "body", Token: "zebra"}); len(got) != 0 {
		t.Errorf("missing token returned %v", got)
	}
	r, err := s.GetReader("title")
	if err != nil || r != nil {
		t.Errorf("GetReader(title) = %v, %v; want nil, nil", r, err)
	}
	expanded, err := s.Expand(index.Term{Field: "body", Token: "zz", Prefix: true})
	if err != nil || len(expanded) != 0 {
		t.Errorf("Expand(zz*) = %v, %v; want empty", expanded, err)
	}
}

func TestPostingsSummedAcrossVersions(t *testing.T) {
	dir := t.TempDir()
	commit(t, dir, "quick fox", "lazy dog")
	v2 := commit(t, dir, "quick quick hound")
	s := openScanner(t, dir, v2)

	if got, want := docIDs(t, s, index.Term{Field: "body", Token: "quick"}), map[uint64]float64{0: 1, 2: 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("quick = %v, want %v", got, want)
	}
	if got := s.Files("body"); len(got) != 2 {
		t.Errorf("Files(body) = %v, want two tries", got)
	}
	all, err := s.GetAllTokens("body")
	if err != nil {
		t.Fatal(err)
	}
	freq := make(map[string]int)
	for _, ti := range all {
		freq[ti.Token] = ti.DocFreq
	}
	if freq["quick"] != 2 || freq["hound"] != 1 {
		t.Errorf("doc frequencies = %v", freq)
	}
	n, err := s.DocsInCorpus("body")
	if err != nil || n != 3 {
		t.Errorf("DocsInCorpus = %d, %v; want 3", n, err)
	}
	seq, err := s.GetAllTokensFromTrie("body")
	if err != nil {
		t.Fatal(err)
	}
	got := slices.Collect(seq)
	if !slices.IsSorted(got) || len(got) != len(all) {
		t.Errorf("GetAllTokensFromTrie = %v", got)
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	v1 := commit(t, dir, "quick fox", "quick dog")
	v2 := commit(t, dir, "quick hound", "slow fox")
	s := openScanner(t, dir, v2)

	load := func(v int64) *FieldReader {
		ref := s.fieldIndex["body"][0]
		if ref.Version != v {
			ref = s.fieldIndex["body"][1]
		}
		r, err := LoadFieldReader("body", ref, s.sources[v])
		if err != nil {
			t.Fatal(err)
		}
		return r
	}
	ab := load(v1)
	ab.Merge(load(v2))
	ba := load(v2)
	ba.Merge(load(v1))

	for _, tok := range []string{"quick", "fox", "dog", "hound", "slow"} {
		pa, err := ab.GetPostings(tok)
		if err != nil {
			t.Fatal(err)
		}
		pb, err := ba.GetPostings(tok)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(pa, pb) {
			t.Errorf("%s: A+B = %v, B+A = %v", tok, pa, pb)
		}
	}
	if !slices.Equal(slices.Collect(ab.GetAllTokensFromTrie()), slices.Collect(ba.GetAllTokensFromTrie())) {
		t.Error("merged token sets differ")
	}
}

func TestGetReaderLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	v := commit(t, dir, "quick fox", "quick brown fox")
	s := openScanner(t, dir, v)

	var loads atomic.Int32
	inner := s.load
	s.load = func(field string, refs []segment.TrieRef) (*FieldReader, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return inner(field, refs)
	}

	const callers = 32
	readers := make([]*FieldReader, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			r, err := s.GetReader("body")
			if err != nil {
				t.Errorf("GetReader: %v", err)
			}
			readers[i] = r
		}(i)
	}
	close(start)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
	for i, r := range readers {
		if r == nil || r != readers[0] {
			t.Fatalf("caller %d got reader %p, want %p", i, r, readers[0])
		}
	}
	again, _ := s.GetReader("body")
	if again != readers[0] || loads.Load() != 1 {
		t.Error("cached reader was reloaded")
	}
}

func TestScannerPinnedToVersion(t *testing.T) {
	dir := t.TempDir()
	v1 := commit(t, dir, "quick fox")
	s := openScanner(t, dir, v1)
	commit(t, dir, "quick hound")

	if got := docIDs(t, s, index.Term{Field: "body", Token: "quick"}); len(got) != 1 {
		t.Errorf("pinned scanner sees %v, want only document 0", got)
	}
	if got := docIDs(t, s, index.Term{Field: "body", Token: "hound"}); len(got) != 0 {
		t.Errorf("pinned scanner sees later token: %v", got)
	}
}

func TestCorruptTrieSurfaces(t *testing.T) {
	dir := t.TempDir()
	v := commit(t, dir, "quick fox")
	s := openScanner(t, dir, v)
	ref := s.fieldIndex["body"][0]
	ref.Offset = s.sources[v].size + 10
	if _, err := LoadFieldReader("body", ref, s.sources[v]); err == nil {
		t.Fatal("loading a trie beyond the file succeeded")
	}
	s.load = func(string, []segment.TrieRef) (*FieldReader, error) {
		return nil, errors.New("disk on fire")
	}
	if _, err := s.GetDocIDs(index.Term{Field: "body", Token: "quick"}); err == nil {
		t.Error("GetDocIDs hid a load failure")
	}
}
