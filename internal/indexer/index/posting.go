// Package index holds the value types shared by the write and read paths of
// the segmented index: terms, postings and scored document references.
package index

import (
	"fmt"
	"sort"
)

// Posting maps a document id to its weight for one token. The weight is a
// term frequency at index time.
type Posting map[uint64]float64

// Add merges other into p, summing weights of documents present in both.
func (p Posting) Add(other Posting) {
	for docID, w := range other {
		p[docID] += w
	}
}

// Clone returns a copy of p.
func (p Posting) Clone() Posting {
	c := make(Posting, len(p))
	for docID, w := range p {
		c[docID] = w
	}
	return c
}

// DocIDs returns the document ids of p in ascending order.
func (p Posting) DocIDs() []uint64 {
	ids := make([]uint64, 0, len(p))
	for docID := range p {
		ids = append(ids, docID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Term is a query atom before expansion.
type Term struct {
	Field  string
	Token  string
	Fuzzy  bool
	Edits  int
	Prefix bool
}

func (t Term) String() string {
	switch {
	case t.Fuzzy:
		return fmt.Sprintf("%s:%s~%d", t.Field, t.Token, t.Edits)
	case t.Prefix:
		return fmt.Sprintf("%s:%s*", t.Field, t.Token)
	default:
		return fmt.Sprintf("%s:%s", t.Field, t.Token)
	}
}

// WordInfo is the unit fed into the trie builder during indexing.
type WordInfo struct {
	Field   string
	Token   string
	Posting Posting
}

// DocumentScore is a matched document id with its relevance, before the
// document body is read.
type DocumentScore struct {
	DocumentID uint64  `json:"doc_id"`
	Score      float64 `json:"score"`
}

// TokenInfo describes one dictionary entry for diagnostics.
type TokenInfo struct {
	Token   string `json:"token"`
	DocFreq int    `json:"doc_freq"`
}
