// Package docstore persists document bodies next to the index. Every version
// owns one table, <version>.dtbl, a bolt database holding the compressed
// JSON of each document keyed by its id relative to the version's doc base.
package docstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
)

var docsBucket = []byte("docs")

const defaultBatchSize = 256

func docKey(local uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], local)
	return k[:]
}

type pendingDoc struct {
	key   []byte
	value []byte
}

// WriteSession stores the documents of one upsert transaction. Documents are
// buffered and written in batches; nothing is durable before Flush.
type WriteSession struct {
	db          *bolt.DB
	path        string
	docBase     uint64
	compression Compression
	batchSize   int
	pending     []pendingDoc
	written     int
	closed      bool
	logger      *slog.Logger
}

// OpenWriteSession creates the document table of version in dir. Documents
// written to it must carry ids at or above docBase.
func OpenWriteSession(dir string, version int64, docBase uint64, compression Compression) (*WriteSession, error) {
	path := segment.Path(dir, version, segment.ExtDocuments)
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening document table %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(docsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents bucket: %w", err)
	}
	return &WriteSession{
		db:          db,
		path:        path,
		docBase:     docBase,
		compression: compression,
		batchSize:   defaultBatchSize,
		logger:      slog.Default().With("component", "docstore", "version", version),
	}, nil
}

// Write stages doc, flushing when a batch is full.
func (s *WriteSession) Write(doc index.Document) error {
	if s.closed {
		return fmt.Errorf("write session closed")
	}
	if doc.ID < s.docBase {
		return fmt.Errorf("document id %d below doc base %d", doc.ID, s.docBase)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document %d: %w", doc.ID, err)
	}
	value, err := s.compression.compress(raw)
	if err != nil {
		return fmt.Errorf("compressing document %d: %w", doc.ID, err)
	}
	s.pending = append(s.pending, pendingDoc{key: docKey(doc.ID - s.docBase), value: value})
	if len(s.pending) >= s.batchSize {
		return s.Flush()
	}
	return nil
}

// Flush writes the staged documents in one bolt transaction.
func (s *WriteSession) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(docsBucket)
		for _, d := range s.pending {
			if err := b.Put(d.key, d.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flushing %d documents: %w", len(s.pending), err)
	}
	s.written += len(s.pending)
	s.logger.Debug("documents flushed", "count", len(s.pending), "total", s.written)
	s.pending = s.pending[:0]
	return nil
}

// Written returns the number of documents flushed so far.
func (s *WriteSession) Written() int {
	return s.written
}

// Close flushes pending documents and closes the table. Calling Close more
// than once is a no-op.
func (s *WriteSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.Flush()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing document table: %w", err)
	}
	return flushErr
}

// Discard closes the table without flushing staged documents.
func (s *WriteSession) Discard() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	return s.db.Close()
}
