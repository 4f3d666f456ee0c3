package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 100)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, time.Millisecond},
		{50, 50 * time.Millisecond},
		{99, 99 * time.Millisecond},
		{100, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile of empty = %s", got)
	}
}

func TestReadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.txt")
	if err := os.WriteFile(path, []byte("# mix\nquick fox\n\n  +title:search  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := readQueries(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"quick fox", "+title:search"}; !reflect.DeepEqual(got, want) {
		t.Errorf("queries = %q, want %q", got, want)
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	os.WriteFile(empty, []byte("# nothing\n"), 0644)
	if _, err := readQueries(empty); err == nil {
		t.Error("expected an error for a file without queries")
	}
}

func TestRunLoadTest(t *testing.T) {
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		hits := 3
		if r.URL.Query().Get("q") == "nothing" {
			hits = 0
		}
		json.NewEncoder(w).Encode(map[string]int{"total_hits": hits})
	}))
	defer srv.Close()

	stats := runLoadTest(srv.Client(), Config{
		BaseURL:     srv.URL,
		Concurrency: 2,
		Duration:    100 * time.Millisecond,
		PageSize:    10,
		Pages:       1,
		Queries:     []string{"quick", "nothing"},
	})
	total := stats.totalRequests.Load()
	if total == 0 || total > served.Load() {
		t.Fatalf("recorded %d requests, server saw %d", total, served.Load())
	}
	if stats.errorCount.Load() != 0 {
		t.Errorf("errors = %d", stats.errorCount.Load())
	}
	if stats.zeroHits.Load() == 0 {
		t.Error("zero-hit queries not counted")
	}
}
