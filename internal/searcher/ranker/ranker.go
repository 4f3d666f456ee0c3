// Package ranker holds the relevance scoring schemes applied to postings.
package ranker

import (
	"fmt"
	"math"
	"strings"
)

const (
	k1 = 1.2
	b  = 0.75
)

// ScoringScheme scores one posting: weight is the posting weight of the
// document, docsInCorpus the number of documents holding any token of the
// field and docsWithTerm the number of documents holding the term.
type ScoringScheme interface {
	Score(weight float64, docsInCorpus, docsWithTerm int) float64
}

// TfIdf weighs the square root of the term frequency by the inverse document
// frequency.
type TfIdf struct{}

func (TfIdf) Score(weight float64, docsInCorpus, docsWithTerm int) float64 {
	if weight <= 0 || docsWithTerm <= 0 {
		return 0
	}
	idf := math.Log10(float64(docsInCorpus)/float64(docsWithTerm) + 1)
	return math.Sqrt(weight) * idf
}

// BM25 is Okapi BM25. Document lengths are not indexed, so AvgDocLength and
// DocLength default to 1 and the length normalization is neutral.
type BM25 struct {
	DocLength    float64
	AvgDocLength float64
}

func (s BM25) Score(weight float64, docsInCorpus, docsWithTerm int) float64 {
	if weight <= 0 || docsWithTerm <= 0 {
		return 0
	}
	docLen, avg := s.DocLength, s.AvgDocLength
	if docLen == 0 {
		docLen = 1
	}
	if avg == 0 {
		avg = 1
	}
	return computeIDF(int64(docsInCorpus), int64(docsWithTerm)) * computeTFNorm(weight, docLen, avg)
}

// Raw scores a document with its posting weight.
type Raw struct{}

func (Raw) Score(weight float64, _, _ int) float64 {
	return weight
}

// NewScheme returns the scheme named by name: tfidf, bm25 or raw.
func NewScheme(name string) (ScoringScheme, error) {
	switch strings.ToLower(name) {
	case "", "tfidf":
		return TfIdf{}, nil
	case "bm25":
		return BM25{}, nil
	case "raw":
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("unknown scoring scheme %q", name)
	}
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
