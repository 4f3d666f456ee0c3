package indexer

import (
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
)

// Event types carried in the event-type message header.
const (
	EventDocumentUpsert = "document.upsert"
	EventIndexComplete  = "index.complete"
)

// DocumentEvent is one document published on the ingest topic. Key is the
// external document key; it is stored under the primary key field unless
// Fields already holds that field.
type DocumentEvent struct {
	Key    string            `json:"key"`
	Fields map[string]string `json:"fields"`
}

// Document converts the event into a document, filling in the primary key.
func (e DocumentEvent) Document(primaryKey string) index.Document {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	if _, ok := fields[primaryKey]; !ok && primaryKey != "" && e.Key != "" {
		fields[primaryKey] = e.Key
	}
	return index.Document{Fields: fields}
}

// IndexCompleteEvent announces a committed version.
type IndexCompleteEvent struct {
	Version       int64  `json:"version"`
	DocBase       uint64 `json:"doc_base"`
	DocumentCount int    `json:"document_count"`
	CommittedAt   int64  `json:"committed_at"`
}
