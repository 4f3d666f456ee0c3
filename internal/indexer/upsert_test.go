package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
)

func testConfig(dir string) config.IndexConfig {
	return config.IndexConfig{
		DataDir:          dir,
		PrimaryKeyField:  "id",
		Compression:      "zstd",
		BuilderWorkers:   3,
		BuilderQueueSize: 8,
	}
}

func bodies(texts ...string) DocumentStream {
	docs := make([]map[string]string, len(texts))
	for i, text := range texts {
		docs[i] = map[string]string{"body": text, "id": "doc-" + text}
	}
	return FromFields(docs)
}

func latest(t *testing.T, dir string) (int64, bool) {
	t.Helper()
	v, ok, err := segment.LatestVersion(dir)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	return v, ok
}

func TestUpsertPublishesVersion(t *testing.T) {
	dir := t.TempDir()
	m := metrics.NewWithRegistry(nil)
	analyzer := tokenizer.NewAnalyzer(tokenizer.WithUnanalyzedFields("id"))
	v, err := Upsert(context.Background(), testConfig(dir), analyzer,
		bodies("the quick fox", "quick brown fox"), WithMetrics(m))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got, ok := latest(t, dir); !ok || got != v {
		t.Fatalf("latest = %d, %v; want %d", got, ok, v)
	}

	info, err := segment.ReadBatchInfo(dir, v)
	if err != nil {
		t.Fatal(err)
	}
	if info.DocumentCount != 2 || info.DocBase != 0 || info.Compression != "zstd" {
		t.Errorf("batch info = %+v", info)
	}
	fields := make([]string, 0, len(info.Fields))
	for _, f := range info.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if !reflect.DeepEqual(fields, []string{"body", "id"}) {
		t.Errorf("fields = %v", fields)
	}
	if _, err := os.Stat(segment.Path(dir, v, segment.ExtPostings)); !os.IsNotExist(err) {
		t.Errorf("scratch postings file survived commit: %v", err)
	}

	rs, err := docstore.OpenReadSession(dir, v)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	docs, err := rs.ReadDocuments([]uint64{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if docs[0].ID != 0 || docs[1].Fields["body"] != "quick brown fox" {
		t.Errorf("stored documents = %+v", docs)
	}
}

func TestSecondTransactionContinuesDocIDs(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	analyzer := tokenizer.NewAnalyzer()
	v1, err := Upsert(context.Background(), cfg, analyzer, bodies("alpha", "beta", "gamma"))
	if err != nil {
		t.Fatal(err)
	}
	tx, err := Begin(cfg, analyzer)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Abort()
	if tx.DocBase() != 3 {
		t.Errorf("DocBase = %d, want 3", tx.DocBase())
	}
	if tx.Version() <= v1 {
		t.Errorf("version %d not after %d", tx.Version(), v1)
	}
}

func TestVersionIDsNeverReused(t *testing.T) {
	dir := t.TempDir()
	frozen := time.Unix(1700000000, 0)
	cfg := testConfig(dir)
	clock := WithClock(func() time.Time { return frozen })
	v1, err := Upsert(context.Background(), cfg, tokenizer.NewAnalyzer(), bodies("alpha"), clock)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := Upsert(context.Background(), cfg, tokenizer.NewAnalyzer(), bodies("beta"), clock)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != frozen.UnixNano() || v2 != v1+1 {
		t.Errorf("versions = %d, %d", v1, v2)
	}
}

func TestWriteLockContention(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	tx, err := Begin(cfg, tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Begin(cfg, tokenizer.NewAnalyzer()); !errors.Is(err, ErrWriteLocked) {
		t.Fatalf("second Begin error = %v, want ErrWriteLocked", err)
	}
	if !errors.Is(ErrWriteLocked, apperrors.ErrIndexLocked) {
		t.Error("ErrWriteLocked does not wrap ErrIndexLocked")
	}
	if _, err := CollectGarbage(dir); !errors.Is(err, ErrWriteLocked) {
		t.Errorf("CollectGarbage during a transaction error = %v, want ErrWriteLocked", err)
	}

	if err := tx.Abort(); err != nil {
		t.Fatal(err)
	}
	again, err := Begin(cfg, tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatalf("Begin after release: %v", err)
	}
	again.Abort()
}

func TestAbortLeavesLatestUnchanged(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	v1, err := Upsert(context.Background(), cfg, tokenizer.NewAnalyzer(), bodies("alpha"))
	if err != nil {
		t.Fatal(err)
	}

	tx, err := Begin(cfg, tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Write(context.Background(), bodies("beta", "gamma")); err != nil {
		t.Fatal(err)
	}
	orphan := tx.Version()
	if err := tx.Abort(); err != nil {
		t.Fatal(err)
	}

	if got, _ := latest(t, dir); got != v1 {
		t.Fatalf("latest = %d after abort, want %d", got, v1)
	}
	if _, err := os.Stat(segment.Path(dir, orphan, segment.ExtCompound)); err != nil {
		t.Errorf("orphaned compound file missing: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTransactionClosed) {
		t.Errorf("Commit after Abort error = %v, want ErrTransactionClosed", err)
	}

	next, err := Begin(cfg, tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}
	defer next.Abort()
	if next.Version() <= orphan {
		t.Errorf("version %d reuses orphan %d", next.Version(), orphan)
	}
	if next.DocBase() != 1 {
		t.Errorf("DocBase = %d, want 1", next.DocBase())
	}
}

func TestCloseCommits(t *testing.T) {
	dir := t.TempDir()
	tx, err := Begin(testConfig(dir), tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Write(context.Background(), bodies("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got, ok := latest(t, dir); !ok || got != tx.Version() {
		t.Errorf("latest = %d, %v; want %d", got, ok, tx.Version())
	}
	if err := tx.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	tx, err := Begin(testConfig(dir), tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Close()
	if _, err := tx.Write(context.Background(), bodies("alpha")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit #%d: %v", i+1, err)
		}
	}
	if _, err := tx.Write(context.Background(), bodies("beta")); err != nil {
		t.Errorf("Write after Commit: %v", err)
	}
}

func TestFailedWriteNeverCommits(t *testing.T) {
	dir := t.TempDir()
	tx, err := Begin(testConfig(dir), tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("source went away")
	stream := func(yield func(index.Document, error) bool) {
		if !yield(index.Document{Fields: map[string]string{"body": "alpha"}}, nil) {
			return
		}
		yield(index.Document{}, boom)
	}
	if _, err := tx.Write(context.Background(), stream); !errors.Is(err, boom) {
		t.Fatalf("Write error = %v, want %v", err, boom)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTransactionFailed) {
		t.Errorf("Commit error = %v, want ErrTransactionFailed", err)
	}
	if err := tx.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, ok := latest(t, dir); ok {
		t.Error("failed transaction was published")
	}
}

func TestWriteHonorsContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Upsert(ctx, testConfig(dir), tokenizer.NewAnalyzer(), bodies("alpha")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Upsert error = %v, want context.Canceled", err)
	}
	if _, ok := latest(t, dir); ok {
		t.Error("cancelled transaction was published")
	}
}

func TestSecondWriteRejected(t *testing.T) {
	dir := t.TempDir()
	tx, err := Begin(testConfig(dir), tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Abort()
	if _, err := tx.Write(context.Background(), bodies("alpha")); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Write(context.Background(), bodies("beta")); !errors.Is(err, ErrAlreadyWritten) {
		t.Errorf("second Write error = %v, want ErrAlreadyWritten", err)
	}
}

func TestCollectGarbageRemovesOrphansOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	v1, err := Upsert(context.Background(), cfg, tokenizer.NewAnalyzer(), bodies("alpha"))
	if err != nil {
		t.Fatal(err)
	}
	tx, err := Begin(cfg, tokenizer.NewAnalyzer())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Write(context.Background(), bodies("beta")); err != nil {
		t.Fatal(err)
	}
	orphan := tx.Version()
	tx.Abort()
	stale := segment.FileName(v1, segment.ExtMeta) + segment.ExtTemp
	if err := os.WriteFile(filepath.Join(dir, stale), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	removed, err := CollectGarbage(dir)
	if err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}
	sort.Strings(removed)
	want := []string{
		segment.FileName(orphan, segment.ExtCompound),
		segment.FileName(orphan, segment.ExtDocuments),
		stale,
	}
	sort.Strings(want)
	if !reflect.DeepEqual(removed, want) {
		t.Errorf("removed = %v, want %v", removed, want)
	}

	names, err := segment.ListFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, ext := range []string{segment.ExtMeta, segment.ExtCompound, segment.ExtDocuments} {
		if !slices.Contains(names, segment.FileName(v1, ext)) {
			t.Errorf("committed file %s removed", segment.FileName(v1, ext))
		}
	}
	for _, name := range names {
		if strings.HasPrefix(name, segment.FileName(orphan, "")) {
			t.Errorf("orphan file %s survived", name)
		}
	}
}

func TestReadJSONLines(t *testing.T) {
	input := `{"id": 7, "title": "Quick", "draft": false}

{"body": "fox", "tags": ["a", "b"], "gone": null}
`
	var got []map[string]string
	for doc, err := range ReadJSONLines(strings.NewReader(input)) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, doc.Fields)
	}
	want := []map[string]string{
		{"id": "7", "title": "Quick", "draft": "false"},
		{"body": "fox", "tags": `["a","b"]`},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("documents = %v, want %v", got, want)
	}

	var lastErr error
	for _, err := range ReadJSONLines(strings.NewReader("{\"a\":\"b\"}\nnot json\n")) {
		lastErr = err
	}
	if lastErr == nil || !strings.Contains(lastErr.Error(), "line 2") {
		t.Errorf("error = %v, want a line 2 decode error", lastErr)
	}
}
