// Package parser turns query strings into clause lists. A query is a
// whitespace-separated list of clauses of the form
//
//	[+|-]field:token[*|~N]
//
// where a missing field means the default field, a trailing * makes the
// clause a prefix match and ~N a fuzzy match within N edits (~ alone uses the
// configured default). + marks a required clause and - an excluded one. The
// keywords AND, OR and NOT are accepted as well: AND makes unmarked clauses
// required, NOT excludes the next clause.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
)

type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

type QueryType int

const (
	QueryOR QueryType = iota
	QueryAND
)

// Clause is one term of a query with its occurrence.
type Clause struct {
	index.Term
	Occur Occur
}

func (c Clause) String() string {
	return c.Occur.String() + c.Term.String()
}

// Query is a parsed query.
type Query struct {
	Clauses  []Clause
	Type     QueryType
	RawQuery string
}

// String renders the query back into the clause grammar.
func (q *Query) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// Normalizer prepares a query token for lookup in a field.
type Normalizer interface {
	NormalizeQueryToken(field, token string, exact bool) string
}

// DefaultMaxEdits is the largest edit distance accepted when no other cap is
// configured.
const DefaultMaxEdits = 3

// Parser parses query strings with a fixed default field and fuzzy distance.
type Parser struct {
	normalizer   Normalizer
	defaultField string
	fuzzyEdits   int
	maxEdits     int
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxEdits caps the edit distance of fuzzy clauses. Non-positive values
// keep DefaultMaxEdits.
func WithMaxEdits(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxEdits = n
		}
	}
}

// New returns a parser. A nil normalizer only lowercases tokens.
func New(normalizer Normalizer, defaultField string, fuzzyEdits int, opts ...Option) *Parser {
	p := &Parser{
		normalizer:   normalizer,
		defaultField: strings.ToLower(defaultField),
		fuzzyEdits:   fuzzyEdits,
		maxEdits:     DefaultMaxEdits,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.fuzzyEdits = min(p.fuzzyEdits, p.maxEdits)
	return p
}

// MaxEdits returns the largest edit distance the parser accepts.
func (p *Parser) MaxEdits() int {
	return p.maxEdits
}

// Parse parses query. Clauses whose token normalizes to nothing are
// dropped. An empty query yields no clauses.
func (p *Parser) Parse(query string) (*Query, error) {
	q := &Query{RawQuery: query, Type: QueryOR}
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND":
			q.Type = QueryAND
			continue
		case "OR":
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		c, err := p.parseClause(word)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", apperrors.ErrInvalidQuery, word, err)
		}
		if excludeNext {
			c.Occur = MustNot
			excludeNext = false
		}
		if c.Token == "" {
			continue
		}
		q.Clauses = append(q.Clauses, c)
	}
	if q.Type == QueryAND {
		for i := range q.Clauses {
			if q.Clauses[i].Occur == Should {
				q.Clauses[i].Occur = Must
			}
		}
	}
	return q, nil
}

func (p *Parser) parseClause(word string) (Clause, error) {
	var c Clause
	switch word[0] {
	case '+':
		c.Occur = Must
		word = word[1:]
	case '-':
		c.Occur = MustNot
		word = word[1:]
	}

	field, token, ok := strings.Cut(word, ":")
	if !ok {
		field, token = p.defaultField, word
	}
	if field == "" {
		return c, errors.New("empty field name")
	}
	c.Field = strings.ToLower(field)

	switch {
	case strings.HasSuffix(token, "*"):
		c.Prefix = true
		token = strings.TrimSuffix(token, "*")
	case strings.Contains(token, "~"):
		var edits string
		token, edits, _ = strings.Cut(token, "~")
		c.Fuzzy = true
		c.Edits = p.fuzzyEdits
		if edits != "" {
			n, err := strconv.Atoi(edits)
			if err != nil || n < 0 {
				return c, fmt.Errorf("bad edit distance %q", edits)
			}
			if n > p.maxEdits {
				return c, fmt.Errorf("edit distance %d exceeds %d", n, p.maxEdits)
			}
			c.Edits = n
		}
	}

	exact := !c.Prefix && !c.Fuzzy
	if p.normalizer != nil {
		c.Token = p.normalizer.NormalizeQueryToken(c.Field, token, exact)
	} else {
		c.Token = strings.ToLower(token)
	}
	return c, nil
}
