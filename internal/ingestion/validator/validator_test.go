package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/ingestion"
)

func TestValidateIngestRequest(t *testing.T) {
	tests := []struct {
		name   string
		docs   []indexer.DocumentEvent
		fields []string
	}{
		{
			name: "valid",
			docs: []indexer.DocumentEvent{
				{Key: "a", Fields: map[string]string{"body": "fox"}},
				{Fields: map[string]string{"id": "b", "body": "dog"}},
			},
		},
		{
			name:   "empty batch",
			fields: []string{"documents"},
		},
		{
			name:   "missing key",
			docs:   []indexer.DocumentEvent{{Fields: map[string]string{"body": "fox"}}},
			fields: []string{"documents[0].key"},
		},
		{
			name: "second document invalid",
			docs: []indexer.DocumentEvent{
				{Key: "a", Fields: map[string]string{"body": "fox"}},
				{Key: "b", Fields: map[string]string{"": "fox"}},
			},
			fields: []string{"documents[1].fields"},
		},
		{
			name:   "oversized document",
			docs:   []indexer.DocumentEvent{{Key: "a", Fields: map[string]string{"body": strings.Repeat("x", maxDocumentBytes)}}},
			fields: []string{"documents[0].fields"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIngestRequest(&ingestion.IngestRequest{Documents: tt.docs}, "id")
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			for _, f := range tt.fields {
				if _, ok := ve.Fields[f]; !ok {
					t.Errorf("missing error for %s in %v", f, ve.Fields)
				}
			}
		})
	}
}

func TestTooManyDocuments(t *testing.T) {
	docs := make([]indexer.DocumentEvent, maxDocuments+1)
	for i := range docs {
		docs[i] = indexer.DocumentEvent{Key: "k", Fields: map[string]string{"body": "x"}}
	}
	err := ValidateIngestRequest(&ingestion.IngestRequest{Documents: docs}, "id")
	if err == nil || !strings.Contains(err.Error(), "documents:") {
		t.Errorf("err = %v", err)
	}
}
