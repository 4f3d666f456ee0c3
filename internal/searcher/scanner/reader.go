package scanner

import (
	"fmt"
	"io"
	"iter"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/trie"
)

// Source is the compound file of one committed version opened for reading.
type Source struct {
	Version      int64
	r            io.ReaderAt
	size         int64
	postingsBase int64
	docBase      uint64
	closer       io.Closer
}

// OpenSource opens the compound file described by info.
func OpenSource(dir string, info *segment.BatchInfo) (*Source, error) {
	path := segment.Path(dir, info.VersionID, segment.ExtCompound)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening compound file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat compound file: %w", err)
	}
	if info.PostingsOffset < 0 || info.PostingsOffset > st.Size() {
		f.Close()
		return nil, fmt.Errorf("%w: version %d postings offset %d beyond file size %d",
			segment.ErrCorruptPostings, info.VersionID, info.PostingsOffset, st.Size())
	}
	return &Source{
		Version:      info.VersionID,
		r:            f,
		size:         st.Size(),
		postingsBase: info.PostingsOffset,
		docBase:      info.DocBase,
		closer:       f,
	}, nil
}

// Close closes the underlying file.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type postingsRef struct {
	src  *Source
	addr int64
}

// FieldReader is a read-only view of one field's dictionary merged across
// every trie that contributes to it. Each token keeps a reference to its
// postings in every contributing segment; the postings are read and summed
// on lookup.
type FieldReader struct {
	field string
	trie  *trie.Trie[[]postingsRef]

	docCountOnce sync.Once
	docCount     int
	docCountErr  error
}

// LoadFieldReader decodes the trie referenced by ref from src.
func LoadFieldReader(field string, ref segment.TrieRef, src *Source) (*FieldReader, error) {
	if ref.Offset < 0 || ref.Offset >= src.size {
		return nil, fmt.Errorf("%w: %s offset %d outside compound file", trie.ErrCorruptTrie, ref.Name(), ref.Offset)
	}
	t, err := trie.Decode(io.NewSectionReader(src.r, ref.Offset, src.size-ref.Offset))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref.Name(), err)
	}
	return &FieldReader{
		field: field,
		trie: trie.Convert(t, func(addr int64) []postingsRef {
			return []postingsRef{{src: src, addr: addr}}
		}),
	}, nil
}

// Field returns the field name.
func (fr *FieldReader) Field() string {
	return fr.field
}

// Merge unions other's dictionary into fr. Merging must complete before fr
// is shared with concurrent readers.
func (fr *FieldReader) Merge(other *FieldReader) {
	fr.trie.Merge(other.trie, func(a, b []postingsRef) []postingsRef {
		merged := make([]postingsRef, 0, len(a)+len(b))
		merged = append(merged, a...)
		return append(merged, b...)
	})
}

// GetPostings returns the summed postings of token, or nil if the token is
// not in the dictionary.
func (fr *FieldReader) GetPostings(token string) (index.Posting, error) {
	refs, ok := fr.trie.Get(token)
	if !ok {
		return nil, nil
	}
	return readAll(refs)
}

func readAll(refs []postingsRef) (index.Posting, error) {
	if len(refs) == 1 {
		return refs[0].read()
	}
	out := make(index.Posting)
	for _, ref := range refs {
		p, err := ref.read()
		if err != nil {
			return nil, err
		}
		out.Add(p)
	}
	return out, nil
}

func (r postingsRef) read() (index.Posting, error) {
	p, err := segment.ReadPostings(r.src.r, r.src.postingsBase+r.addr, r.src.docBase)
	if err != nil {
		return nil, fmt.Errorf("version %d: %w", r.src.Version, err)
	}
	return p, nil
}

// GetTokens yields every token starting with prefix, prefix included.
func (fr *FieldReader) GetTokens(prefix string) iter.Seq[string] {
	return keys(fr.trie.Prefix(prefix))
}

// GetSimilar yields every token within maxEdits edits of token.
func (fr *FieldReader) GetSimilar(token string, maxEdits int) iter.Seq[string] {
	return keys(fr.trie.Similar(token, maxEdits))
}

// GetAllTokensFromTrie yields every token in lexicographic order.
func (fr *FieldReader) GetAllTokensFromTrie() iter.Seq[string] {
	return keys(fr.trie.All())
}

// GetAllTokens returns every token with its document frequency.
func (fr *FieldReader) GetAllTokens() ([]index.TokenInfo, error) {
	out := make([]index.TokenInfo, 0, fr.trie.Len())
	for token, refs := range fr.trie.All() {
		p, err := readAll(refs)
		if err != nil {
			return nil, err
		}
		out = append(out, index.TokenInfo{Token: token, DocFreq: len(p)})
	}
	return out, nil
}

// DocCount returns the number of distinct documents referenced by any
// posting of the field. It is computed once.
func (fr *FieldReader) DocCount() (int, error) {
	fr.docCountOnce.Do(func() {
		docs := roaring64.New()
		for _, refs := range fr.trie.All() {
			p, err := readAll(refs)
			if err != nil {
				fr.docCountErr = err
				return
			}
			for docID := range p {
				docs.Add(docID)
			}
		}
		fr.docCount = int(docs.GetCardinality())
	})
	return fr.docCount, fr.docCountErr
}

func keys[V any](seq iter.Seq2[string, V]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range seq {
			if !yield(k) {
				return
			}
		}
	}
}
