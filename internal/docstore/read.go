package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
)

type table struct {
	db          *bolt.DB
	version     int64
	docBase     uint64
	docEnd      uint64
	compression Compression
}

// ReadSession reads documents of every version up to and including the
// version it was opened at. Later versions are never visible to it.
type ReadSession struct {
	version int64
	tables  []table
}

// OpenReadSession opens the document tables of all committed versions in dir
// that are not newer than version.
func OpenReadSession(dir string, version int64) (*ReadSession, error) {
	versions, err := segment.VersionsUpTo(dir, version)
	if err != nil {
		return nil, err
	}
	rs := &ReadSession{version: version}
	for _, v := range versions {
		info, err := segment.ReadBatchInfo(dir, v)
		if err != nil {
			rs.Close()
			return nil, err
		}
		if info.DocumentCount == 0 {
			continue
		}
		path := segment.Path(dir, v, segment.ExtDocuments)
		db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second, ReadOnly: true})
		if err != nil {
			rs.Close()
			return nil, fmt.Errorf("opening document table %s: %w", path, err)
		}
		rs.tables = append(rs.tables, table{
			db:          db,
			version:     v,
			docBase:     info.DocBase,
			docEnd:      info.DocEnd(),
			compression: Compression(info.Compression),
		})
	}
	sort.Slice(rs.tables, func(i, j int) bool { return rs.tables[i].docBase < rs.tables[j].docBase })
	return rs, nil
}

// Version returns the version the session is pinned to.
func (rs *ReadSession) Version() int64 {
	return rs.version
}

// DocumentCount returns the number of documents visible to the session.
func (rs *ReadSession) DocumentCount() int {
	n := 0
	for _, t := range rs.tables {
		n += int(t.docEnd - t.docBase)
	}
	return n
}

func (rs *ReadSession) tableFor(id uint64) (*table, bool) {
	i := sort.Search(len(rs.tables), func(i int) bool { return rs.tables[i].docEnd > id })
	if i == len(rs.tables) || id < rs.tables[i].docBase {
		return nil, false
	}
	return &rs.tables[i], true
}

// ReadDocuments returns the documents with the given ids in ascending id
// order. An id that is not visible to the session is an error.
func (rs *ReadSession) ReadDocuments(ids []uint64) ([]index.Document, error) {
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	docs := make([]index.Document, 0, len(sorted))
	for _, id := range sorted {
		t, ok := rs.tableFor(id)
		if !ok {
			return nil, fmt.Errorf("%w: id %d at version %d", apperrors.ErrDocumentNotFound, id, rs.version)
		}
		doc, err := t.read(id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

var errMissing = errors.New("missing")

func (t *table) read(id uint64) (index.Document, error) {
	var doc index.Document
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(docsBucket)
		if b == nil {
			return errMissing
		}
		value := b.Get(docKey(id - t.docBase))
		if value == nil {
			return errMissing
		}
		raw, err := t.compression.decompress(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &doc)
	})
	if errors.Is(err, errMissing) {
		return doc, fmt.Errorf("%w: id %d in version %d", apperrors.ErrDocumentNotFound, id, t.version)
	}
	if err != nil {
		return doc, fmt.Errorf("reading document %d from version %d: %w", id, t.version, err)
	}
	return doc, nil
}

// Close releases every table of the session.
func (rs *ReadSession) Close() error {
	var errs []error
	for _, t := range rs.tables {
		if err := t.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rs.tables = nil
	return errors.Join(errs...)
}
