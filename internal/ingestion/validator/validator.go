// Package validator checks ingestion requests before they are queued. It
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/ingestion"
)

const (
	maxDocuments     = 1000
	maxKeyLength     = 255
	maxFieldName     = 128
	maxDocumentBytes = 1048576
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateIngestRequest checks the batch size and every document of req.
// Every document needs a key, either as Key or under primaryKey in its
// fields, and at least one non-empty field.
func ValidateIngestRequest(req *ingestion.IngestRequest, primaryKey string) error {
	errs := make(map[string]string)

	switch n := len(req.Documents); {
	case n == 0:
		errs["documents"] = "at least one document is required"
	case n > maxDocuments:
		errs["documents"] = fmt.Sprintf("at most %d documents per request", maxDocuments)
	}

	for i, doc := range req.Documents {
		prefix := fmt.Sprintf("documents[%d]", i)
		key := doc.Key
		if key == "" {
			key = doc.Fields[primaryKey]
		}
		if strings.TrimSpace(key) == "" {
			errs[prefix+".key"] = "key is required"
		} else if len(key) > maxKeyLength {
			errs[prefix+".key"] = fmt.Sprintf("key must be at most %d characters", maxKeyLength)
		}

		size, nonEmpty := 0, 0
		for name, value := range doc.Fields {
			if strings.TrimSpace(name) == "" || len(name) > maxFieldName {
				errs[prefix+".fields"] = fmt.Sprintf("field names must be 1 to %d characters", maxFieldName)
			}
			if strings.TrimSpace(value) != "" {
				nonEmpty++
			}
			size += len(name) + len(value)
		}
		if nonEmpty == 0 {
			errs[prefix+".fields"] = "at least one non-empty field is required"
		}
		if size > maxDocumentBytes {
			errs[prefix+".fields"] = fmt.Sprintf("document must be at most %d bytes", maxDocumentBytes)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
