// Package trie implements the term dictionary: an ordered character trie
// stored as an arena of left-child/right-sibling nodes addressed by index.
// Terminal nodes carry a value in a side table keyed by node index, so the
// same structure serves the build side (postings) and the read side
// (postings addresses).
package trie

import "iter"

const none int32 = -1

type node struct {
	label       rune
	firstChild  int32
	nextSibling int32
}

// Trie is an arena-backed trie. Node 0 is the root and has no label.
// A node is terminal iff it has an entry in the value table.
type Trie[V any] struct {
	nodes  []node
	values map[int32]V
}

// New returns an empty trie.
func New[V any]() *Trie[V] {
	return &Trie[V]{
		nodes:  []node{{firstChild: none, nextSibling: none}},
		values: make(map[int32]V),
	}
}

// Convert returns a trie with the same shape as t whose terminal values are
// fn applied to t's values.
func Convert[V, W any](t *Trie[V], fn func(V) W) *Trie[W] {
	out := &Trie[W]{
		nodes:  make([]node, len(t.nodes)),
		values: make(map[int32]W, len(t.values)),
	}
	copy(out.nodes, t.nodes)
	for idx, v := range t.values {
		out.values[idx] = fn(v)
	}
	return out
}

// Len returns the number of tokens in the trie.
func (t *Trie[V]) Len() int {
	return len(t.values)
}

// NodeCount returns the number of nodes in the arena, root included.
func (t *Trie[V]) NodeCount() int {
	return len(t.nodes)
}

// Upsert stores fn(old, found) at the terminal node of token, creating the
// path when needed, and returns the node index.
func (t *Trie[V]) Upsert(token string, fn func(old V, found bool) V) int32 {
	cur := int32(0)
	for _, r := range token {
		cur = t.child(cur, r, true)
	}
	old, found := t.values[cur]
	t.values[cur] = fn(old, found)
	return cur
}

// Get returns the value stored for token.
func (t *Trie[V]) Get(token string) (V, bool) {
	var zero V
	idx := t.find(token)
	if idx == none {
		return zero, false
	}
	v, ok := t.values[idx]
	return v, ok
}

// All yields every token and its value in lexicographic order.
func (t *Trie[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		t.walkFrom(0, nil, func(token string, idx int32) bool {
			return yield(token, t.values[idx])
		})
	}
}

// Prefix yields every token starting with prefix, including prefix itself
// when it is a complete token. Nothing is yielded when no path for prefix
// exists.
func (t *Trie[V]) Prefix(prefix string) iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		idx := t.find(prefix)
		if idx == none {
			return
		}
		if v, ok := t.values[idx]; ok {
			if !yield(prefix, v) {
				return
			}
		}
		t.walkFrom(idx, []rune(prefix), func(token string, n int32) bool {
			return yield(token, t.values[n])
		})
	}
}

// Similar yields every token whose Levenshtein distance to token is at most
// maxEdits. Branches are abandoned once no cell of their distance row is
// within maxEdits, since the distance can only grow deeper in the branch.
func (t *Trie[V]) Similar(token string, maxEdits int) iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if maxEdits < 0 {
			return
		}
		query := []rune(token)
		// No stored token is longer than the node count, so larger
		// distances match nothing more.
		maxEdits = min(maxEdits, len(query)+len(t.nodes)-1)
		row := make([]int, len(query)+1)
		for i := range row {
			row[i] = i
		}
		if v, ok := t.values[0]; ok && len(query) <= maxEdits {
			if !yield("", v) {
				return
			}
		}
		t.similar(0, query, row, maxEdits, make([]rune, 0, len(query)+min(maxEdits, 8)), yield)
	}
}

func (t *Trie[V]) similar(parent int32, query []rune, prev []int, maxEdits int, path []rune, yield func(string, V) bool) bool {
	for c := t.nodes[parent].firstChild; c != none; c = t.nodes[c].nextSibling {
		label := t.nodes[c].label
		row := make([]int, len(prev))
		row[0] = prev[0] + 1
		best := row[0]
		for j := 1; j < len(row); j++ {
			cost := 1
			if query[j-1] == label {
				cost = 0
			}
			row[j] = min(prev[j]+1, row[j-1]+1, prev[j-1]+cost)
			best = min(best, row[j])
		}
		if best > maxEdits {
			continue
		}
		next := append(path, label)
		if v, ok := t.values[c]; ok && row[len(row)-1] <= maxEdits {
			if !yield(string(next), v) {
				return false
			}
		}
		if !t.similar(c, query, row, maxEdits, next, yield) {
			return false
		}
	}
	return true
}

// Merge inserts every token of other into t. Values of tokens present in
// both are combined with combine(t's value, other's value).
func (t *Trie[V]) Merge(other *Trie[V], combine func(a, b V) V) {
	for token, v := range other.All() {
		t.Upsert(token, func(old V, found bool) V {
			if !found {
				return v
			}
			return combine(old, v)
		})
	}
}

func (t *Trie[V]) find(token string) int32 {
	cur := int32(0)
	for _, r := range token {
		cur = t.child(cur, r, false)
		if cur == none {
			return none
		}
	}
	return cur
}

// child returns the child of parent labelled r. Siblings are kept sorted by
// label; with create set a missing child is linked in at its sorted position.
func (t *Trie[V]) child(parent int32, r rune, create bool) int32 {
	prev := none
	c := t.nodes[parent].firstChild
	for c != none && t.nodes[c].label < r {
		prev = c
		c = t.nodes[c].nextSibling
	}
	if c != none && t.nodes[c].label == r {
		return c
	}
	if !create {
		return none
	}
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{label: r, firstChild: none, nextSibling: c})
	if prev == none {
		t.nodes[parent].firstChild = idx
	} else {
		t.nodes[prev].nextSibling = idx
	}
	return idx
}

// walkFrom visits the terminal descendants of from in lexicographic order.
// path holds the runes leading to from.
func (t *Trie[V]) walkFrom(from int32, path []rune, visit func(token string, idx int32) bool) bool {
	for c := t.nodes[from].firstChild; c != none; c = t.nodes[c].nextSibling {
		next := append(path, t.nodes[c].label)
		if _, ok := t.values[c]; ok {
			if !visit(string(next), c) {
				return false
			}
		}
		if !t.walkFrom(c, next, visit) {
			return false
		}
	}
	return true
}
