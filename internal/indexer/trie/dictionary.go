package trie

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
)

var (
	// ErrEmptyToken is returned when an empty token is added to a dictionary.
	ErrEmptyToken = errors.New("empty token")
	// ErrUnresolvedAddress is returned by Serialize when a terminal node was
	// never assigned a postings address.
	ErrUnresolvedAddress = errors.New("unresolved postings address")
)

// EndOfWord is a terminal node of a Dictionary.
type EndOfWord struct {
	Node     int32
	Token    string
	Postings index.Posting
}

// Dictionary is the build-side term dictionary of one field. Postings are
// accumulated in memory until they are written out, after which each
// terminal node is given the address of its postings.
type Dictionary struct {
	trie  *Trie[index.Posting]
	addrs map[int32]int64
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{
		trie:  New[index.Posting](),
		addrs: make(map[int32]int64),
	}
}

// Add inserts token and merges posting into its posting map, summing the
// weights of documents already present.
func (d *Dictionary) Add(token string, posting index.Posting) error {
	if token == "" {
		return ErrEmptyToken
	}
	d.trie.Upsert(token, func(old index.Posting, found bool) index.Posting {
		if !found {
			return posting.Clone()
		}
		old.Add(posting)
		return old
	})
	return nil
}

// Len returns the number of distinct tokens.
func (d *Dictionary) Len() int {
	return d.trie.Len()
}

// Postings returns the accumulated posting map of token.
func (d *Dictionary) Postings(token string) (index.Posting, bool) {
	return d.trie.Get(token)
}

// EndOfWordNodes yields every terminal node once, in token order.
func (d *Dictionary) EndOfWordNodes() iter.Seq[EndOfWord] {
	return func(yield func(EndOfWord) bool) {
		d.trie.walkFrom(0, nil, func(token string, idx int32) bool {
			return yield(EndOfWord{Node: idx, Token: token, Postings: d.trie.values[idx]})
		})
	}
}

// SetPostingsAddress records where the postings of a terminal node were
// written.
func (d *Dictionary) SetPostingsAddress(node int32, addr int64) {
	d.addrs[node] = addr
}

// Words yields every token with its posting map.
func (d *Dictionary) Words() iter.Seq2[string, index.Posting] {
	return d.trie.All()
}

// Merge adds other's tokens and postings to d.
func (d *Dictionary) Merge(other *Dictionary) {
	d.trie.Merge(other.trie, func(a, b index.Posting) index.Posting {
		merged := a.Clone()
		merged.Add(b)
		return merged
	})
}

// Serialize writes the trie structure followed by the postings addresses.
// Every terminal node must have been given an address.
func (d *Dictionary) Serialize(w io.Writer) (int64, error) {
	for idx := range d.trie.values {
		if _, ok := d.addrs[idx]; !ok {
			return 0, fmt.Errorf("%w: node %d", ErrUnresolvedAddress, idx)
		}
	}
	n, err := w.Write(encode(d.trie.nodes, d.addrs))
	return int64(n), err
}
