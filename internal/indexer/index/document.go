package index

// Document is one stored document. Fields holds the raw field values keyed
// by field name; ID is the global document id assigned at indexing time.
type Document struct {
	ID     uint64            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// ScoredDocument is a hydrated search hit.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}
