// Package indexer writes immutable index versions. One Transaction owns the
// directory's write lock, analyzes a stream of documents, builds one term
// dictionary per field and publishes the result by writing the version's
// metadata file last.
package indexer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/builder"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/metrics"
)

var (
	// ErrTransactionFailed is returned by Commit after Write failed.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrTransactionClosed is returned by operations on a released transaction.
	ErrTransactionClosed = errors.New("transaction closed")
	// ErrAlreadyWritten is returned by a second call to Write.
	ErrAlreadyWritten = errors.New("transaction already written")
)

// Analyzer turns a document into (term, posting) pairs.
type Analyzer interface {
	AnalyzeDocument(doc index.Document) iter.Seq2[index.Term, index.Posting]
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithMetrics records indexing and commit counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transaction) { t.metrics = m }
}

// WithClock replaces the clock used to derive the version id.
func WithClock(now func() time.Time) Option {
	return func(t *Transaction) { t.now = now }
}

// Transaction is one exclusive write against an index directory. It is not
// safe for concurrent use.
type Transaction struct {
	dir      string
	cfg      config.IndexConfig
	analyzer Analyzer
	lock     *writeLock
	info     segment.BatchInfo

	compound *os.File
	cw       *bufio.Writer
	scratch  *os.File
	postings *segment.PostingsWriter
	session  *docstore.WriteSession

	count     int
	written   bool
	committed bool
	failed    bool
	released  bool

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Begin takes the directory's write lock, allocates the next version id and
// creates the version's compound, scratch and document files. It fails fast
// with ErrWriteLocked if another writer holds the lock.
func Begin(cfg config.IndexConfig, analyzer Analyzer, opts ...Option) (*Transaction, error) {
	t := &Transaction{
		dir:      cfg.DataDir,
		cfg:      cfg,
		analyzer: analyzer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	compression, err := docstore.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	lock, err := acquireWriteLock(t.dir)
	if err != nil {
		return nil, err
	}
	t.lock = lock

	names, err := segment.ListFiles(t.dir)
	if err != nil {
		t.release()
		return nil, err
	}
	docBase, err := segment.NextDocBase(t.dir)
	if err != nil {
		t.release()
		return nil, fmt.Errorf("reading latest version: %w", err)
	}
	version := segment.NextVersion(names, t.now())
	t.info = segment.BatchInfo{
		VersionID:       version,
		DocBase:         docBase,
		Compression:     string(compression),
		PrimaryKeyField: cfg.PrimaryKeyField,
		Fields:          make(map[uint64]string),
		FieldOffsets:    make(map[uint64]int64),
	}
	t.logger = slog.Default().With("component", "upsert", "version", version)

	if t.compound, err = createExclusive(segment.Path(t.dir, version, segment.ExtCompound), os.O_WRONLY); err != nil {
		t.release()
		return nil, err
	}
	t.cw = bufio.NewWriterSize(t.compound, 256*1024)
	if t.scratch, err = createExclusive(segment.Path(t.dir, version, segment.ExtPostings), os.O_RDWR); err != nil {
		t.release()
		return nil, err
	}
	t.postings = segment.NewPostingsWriter(t.scratch, docBase)
	if t.session, err = docstore.OpenWriteSession(t.dir, version, docBase, compression); err != nil {
		t.release()
		return nil, err
	}
	t.logger.Info("transaction started", "doc_base", docBase, "compression", compression)
	return t, nil
}

func createExclusive(path string, flag int) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, nil
}

// Version returns the version id the transaction will publish.
func (t *Transaction) Version() int64 {
	return t.info.VersionID
}

// DocBase returns the global id assigned to the first document.
func (t *Transaction) DocBase() uint64 {
	return t.info.DocBase
}

// Count returns the number of documents consumed by Write.
func (t *Transaction) Count() int {
	return t.count
}

// Write consumes docs: every document gets the next id, is analyzed into the
// trie builder and stored through the write session. The finalized tries and
// their postings are then written to the compound file. Any error marks the
// transaction failed; it will never be committed.
func (t *Transaction) Write(ctx context.Context, docs DocumentStream) (int64, error) {
	switch {
	case t.released:
		return 0, ErrTransactionClosed
	case t.committed:
		return t.info.VersionID, nil
	case t.failed:
		return 0, ErrTransactionFailed
	case t.written:
		return 0, ErrAlreadyWritten
	}
	if err := t.write(ctx, docs); err != nil {
		t.failed = true
		t.observe("failed")
		t.logger.Error("transaction failed", "error", err, "documents", t.count)
		return 0, err
	}
	t.written = true
	return t.info.VersionID, nil
}

func (t *Transaction) write(ctx context.Context, docs DocumentStream) error {
	start := time.Now()
	b := builder.New(t.cfg.BuilderWorkers, t.cfg.BuilderQueueSize, builder.WithMetrics(t.metrics))
	if err := t.feed(ctx, b, docs); err != nil {
		b.Finalize()
		return err
	}
	t.logger.Info("documents stored", "count", t.count, "duration", time.Since(start))

	dicts, err := b.Finalize()
	if err != nil {
		return fmt.Errorf("building tries: %w", err)
	}

	fields := make([]string, 0, len(dicts))
	for field := range dicts {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	postingsStart := time.Now()
	for _, field := range fields {
		d := dicts[field]
		for eow := range d.EndOfWordNodes() {
			addr, err := t.postings.Write(eow.Postings)
			if err != nil {
				return fmt.Errorf("field %q token %q: %w", field, eow.Token, err)
			}
			d.SetPostingsAddress(eow.Node, addr)
		}
		if t.logger.Enabled(ctx, slog.LevelDebug) {
			for token, p := range d.Words() {
				t.logger.Debug("word", "field", field, "token", token, "docs", len(p))
			}
		}
	}
	if err := t.postings.Flush(); err != nil {
		return fmt.Errorf("flushing postings: %w", err)
	}
	t.logger.Info("postings staged", "bytes", t.postings.Size(), "duration", time.Since(postingsStart))

	var offset int64
	for _, field := range fields {
		hash := segment.FieldHash(field)
		if other, dup := t.info.Fields[hash]; dup {
			return fmt.Errorf("fields %q and %q share hash %d", other, field, hash)
		}
		n, err := dicts[field].Serialize(t.cw)
		if err != nil {
			return fmt.Errorf("serializing trie of field %q: %w", field, err)
		}
		t.info.Fields[hash] = field
		t.info.FieldOffsets[hash] = offset
		offset += n
	}

	t.info.PostingsOffset = offset
	if _, err := t.scratch.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding postings: %w", err)
	}
	if _, err := io.Copy(t.cw, t.scratch); err != nil {
		return fmt.Errorf("copying postings into compound file: %w", err)
	}
	if err := t.cw.Flush(); err != nil {
		return fmt.Errorf("flushing compound file: %w", err)
	}
	t.info.DocumentCount = t.count
	return nil
}

func (t *Transaction) feed(ctx context.Context, b *builder.Builder, docs DocumentStream) error {
	for doc, err := range docs {
		if err != nil {
			return fmt.Errorf("reading document %d: %w", t.count, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		doc.ID = t.info.DocBase + uint64(t.count)
		t.count++
		for term, posting := range t.analyzer.AnalyzeDocument(doc) {
			w := index.WordInfo{Field: term.Field, Token: term.Token, Posting: posting}
			if err := b.Add(ctx, w); err != nil {
				return fmt.Errorf("document %d: %w", doc.ID, err)
			}
		}
		if err := t.session.Write(doc); err != nil {
			return err
		}
	}
	if t.metrics != nil {
		t.metrics.DocsIndexedTotal.Add(float64(t.count))
	}
	return nil
}

// Commit publishes the version: the document table and the compound file are
// flushed and closed, then the metadata file is written. Only the metadata
// file makes the version visible. Calling Commit again is a no-op.
func (t *Transaction) Commit() error {
	switch {
	case t.committed:
		return nil
	case t.released:
		return ErrTransactionClosed
	case t.failed:
		return ErrTransactionFailed
	}
	if err := t.commit(); err != nil {
		t.failed = true
		t.observe("failed")
		return err
	}
	t.committed = true
	t.observe("committed")
	t.logger.Info("version committed",
		"documents", t.info.DocumentCount,
		"fields", len(t.info.Fields),
		"postings_offset", t.info.PostingsOffset,
	)
	return nil
}

func (t *Transaction) commit() error {
	if err := t.session.Close(); err != nil {
		return fmt.Errorf("closing write session: %w", err)
	}
	if err := t.cw.Flush(); err != nil {
		return fmt.Errorf("flushing compound file: %w", err)
	}
	if err := t.compound.Sync(); err != nil {
		return fmt.Errorf("syncing compound file: %w", err)
	}
	if err := t.compound.Close(); err != nil {
		return fmt.Errorf("closing compound file: %w", err)
	}
	t.compound = nil
	t.dropScratch()

	t.info.DocumentCount = t.count
	t.info.CreatedAt = t.now().Unix()
	if _, err := segment.WriteBatchInfo(t.dir, &t.info); err != nil {
		return err
	}
	return nil
}

// Close commits the transaction unless it was committed already or failed,
// then releases the files and the write lock.
func (t *Transaction) Close() error {
	if t.released {
		return nil
	}
	var err error
	if !t.committed && !t.failed {
		err = t.Commit()
	}
	if rerr := t.release(); err == nil {
		err = rerr
	}
	return err
}

// Abort releases the transaction without committing. Files already written
// stay on disk as an orphaned version that readers never see.
func (t *Transaction) Abort() error {
	if t.released {
		return nil
	}
	if !t.committed {
		t.observe("aborted")
		if t.logger != nil {
			t.logger.Warn("transaction aborted", "documents", t.count)
		}
	}
	return t.release()
}

func (t *Transaction) release() error {
	if t.released {
		return nil
	}
	t.released = true
	var errs []error
	if t.session != nil {
		if t.committed {
			errs = append(errs, t.session.Close())
		} else {
			errs = append(errs, t.session.Discard())
		}
	}
	if t.compound != nil {
		errs = append(errs, t.compound.Close())
		t.compound = nil
	}
	t.dropScratch()
	errs = append(errs, t.lock.release())
	return errors.Join(errs...)
}

func (t *Transaction) dropScratch() {
	if t.scratch == nil {
		return
	}
	name := t.scratch.Name()
	t.scratch.Close()
	os.Remove(name)
	t.scratch = nil
}

func (t *Transaction) observe(status string) {
	if t.metrics != nil {
		t.metrics.SegmentCommitsTotal.WithLabelValues(status).Inc()
	}
}

// Upsert runs one complete transaction over docs and returns the committed
// version.
func Upsert(ctx context.Context, cfg config.IndexConfig, analyzer Analyzer, docs DocumentStream, opts ...Option) (int64, error) {
	t, err := Begin(cfg, analyzer, opts...)
	if err != nil {
		return 0, err
	}
	if _, err := t.Write(ctx, docs); err != nil {
		t.Abort()
		return 0, err
	}
	if err := t.Commit(); err != nil {
		t.Abort()
		return 0, err
	}
	return t.Version(), t.Close()
}
