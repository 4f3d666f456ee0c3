// Package ingestion defines the request and response types of the document
// ingestion endpoint. Accepted documents are published as
// indexer.DocumentEvent messages on the document-ingest topic.
package ingestion

import "github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer"

// IngestRequest is the JSON body accepted by the ingestion HTTP endpoint.
type IngestRequest struct {
	Documents []indexer.DocumentEvent `json:"documents"`
}

// IngestResponse is returned once the documents are queued for indexing.
type IngestResponse struct {
	Accepted int      `json:"accepted"`
	Keys     []string `json:"keys"`
	Status   string   `json:"status"`
}
