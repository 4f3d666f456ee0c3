package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.DataDir == "" || cfg.Index.PrimaryKeyField != "id" || cfg.Search.DefaultField != "body" {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Index, cfg.Search)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
index:
  dataDir: /var/lib/trieindex
  compression: zstd
  builderWorkers: 3
search:
  scoring: bm25
  timeout: 750ms
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SP_INDEX_BUILDER_WORKERS", "9")
	t.Setenv("SP_SEARCH_DEFAULT_FIELD", "title")
	t.Setenv("SP_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.DataDir != "/var/lib/trieindex" || cfg.Index.Compression != "zstd" {
		t.Errorf("file values not applied: %+v", cfg.Index)
	}
	if cfg.Index.BuilderWorkers != 9 {
		t.Errorf("builder workers = %d, want env override 9", cfg.Index.BuilderWorkers)
	}
	if cfg.Search.Scoring != "bm25" || cfg.Search.Timeout != 750*time.Millisecond || cfg.Search.DefaultField != "title" {
		t.Errorf("search = %+v", cfg.Search)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Index.Stemming != true {
		t.Error("unset keys lost their defaults")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("index: [unterminated"), 0644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("err = %v, want a parse error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"no data dir", func(c *Config) { c.Index.DataDir = "" }, true},
		{"unknown codec", func(c *Config) { c.Index.Compression = "lz4" }, true},
		{"negative workers", func(c *Config) { c.Index.BuilderWorkers = -1 }, true},
		{"negative edits", func(c *Config) { c.Search.FuzzyEdits = -1 }, true},
		{"negative max edits", func(c *Config) { c.Search.MaxFuzzyEdits = -1 }, true},
		{"default edits above max", func(c *Config) { c.Search.FuzzyEdits, c.Search.MaxFuzzyEdits = 4, 3 }, true},
		{"max edits unset", func(c *Config) { c.Search.MaxFuzzyEdits = 0 }, false},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
