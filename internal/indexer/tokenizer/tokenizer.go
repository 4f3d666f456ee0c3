// Package tokenizer turns raw field values into index terms. Text is NFKC
// normalised, lower-cased, split on non-alphanumeric boundaries, stripped of
// stop-words and reduced with the Porter stemmer.
package tokenizer

import (
	"iter"
	"sort"
	"strings"
	"unicode"

	porter "github.com/reiver/go-porterstemmer"
	"golang.org/x/text/unicode/norm"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithStopWords toggles stop-word removal.
func WithStopWords(enabled bool) Option {
	return func(a *Analyzer) { a.stopWords = enabled }
}

// WithStemming toggles Porter stemming.
func WithStemming(enabled bool) Option {
	return func(a *Analyzer) { a.stemming = enabled }
}

// WithUnanalyzedFields lists fields whose values are indexed verbatim as a
// single lower-cased token, such as a primary key.
func WithUnanalyzedFields(fields ...string) Option {
	return func(a *Analyzer) {
		for _, f := range fields {
			if f != "" {
				a.unanalyzed[strings.ToLower(f)] = struct{}{}
			}
		}
	}
}

// Analyzer converts documents into (term, posting) pairs for indexing.
type Analyzer struct {
	stopWords  bool
	stemming   bool
	unanalyzed map[string]struct{}
}

// NewAnalyzer returns an analyzer with stop-word removal and stemming on.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		stopWords:  true,
		stemming:   true,
		unanalyzed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromConfig returns the analyzer described by cfg. The primary key field is
// left unanalyzed.
func FromConfig(cfg config.IndexConfig) *Analyzer {
	return NewAnalyzer(
		WithStopWords(cfg.StopWords),
		WithStemming(cfg.Stemming),
		WithUnanalyzedFields(cfg.PrimaryKeyField),
	)
}

var defaultAnalyzer = NewAnalyzer()

// Tokenize breaks text into stemmed, lower-cased Tokens with stop-words
// removed, using the default analyzer settings.
func Tokenize(text string) []Token {
	return defaultAnalyzer.Tokenize(text)
}

// Tokenize breaks text into normalised Tokens.
func (a *Analyzer) Tokenize(text string) []Token {
	text = normalize(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if _, isStop := stopWords[word]; isStop && a.stopWords {
			continue
		}
		if a.stemming {
			word = stem(word)
		}
		if word == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     word,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// AnalyzeDocument yields one term per distinct token of every field of doc,
// with a posting holding the token's frequency in doc. Fields are visited in
// name order and tokens in lexicographic order within a field.
func (a *Analyzer) AnalyzeDocument(doc index.Document) iter.Seq2[index.Term, index.Posting] {
	return func(yield func(index.Term, index.Posting) bool) {
		names := make([]string, 0, len(doc.Fields))
		for name := range doc.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			field := strings.ToLower(name)
			value := doc.Fields[name]
			if _, ok := a.unanalyzed[field]; ok {
				token := strings.TrimSpace(normalize(value))
				if token == "" {
					continue
				}
				if !yield(index.Term{Field: field, Token: token}, index.Posting{doc.ID: 1}) {
					return
				}
				continue
			}
			counts := make(map[string]int)
			for _, tok := range a.Tokenize(value) {
				counts[tok.Term]++
			}
			tokens := make([]string, 0, len(counts))
			for tok := range counts {
				tokens = append(tokens, tok)
			}
			sort.Strings(tokens)
			for _, tok := range tokens {
				if !yield(index.Term{Field: field, Token: tok}, index.Posting{doc.ID: float64(counts[tok])}) {
					return
				}
			}
		}
	}
}

// NormalizeQueryToken prepares a query atom for lookup in field. Exact atoms
// go through the same pipeline as indexed text; prefix and fuzzy atoms are
// only normalised, since stemming a partial or misspelt word distorts it.
func (a *Analyzer) NormalizeQueryToken(field, token string, exact bool) string {
	field = strings.ToLower(field)
	token = strings.TrimSpace(normalize(token))
	if _, ok := a.unanalyzed[field]; ok || !exact {
		return token
	}
	if a.stemming && token != "" {
		token = stem(token)
	}
	return token
}

func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// stem applies the Porter stemmer, keeping the word unchanged if the stemmer
// fails on it.
func stem(word string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = word
		}
	}()
	return porter.StemString(word)
}
