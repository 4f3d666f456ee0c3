package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_segments (
	version        BIGINT PRIMARY KEY,
	doc_base       BIGINT NOT NULL,
	document_count INTEGER NOT NULL,
	fields         TEXT[] NOT NULL,
	compression    TEXT NOT NULL,
	committed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS indexed_documents (
	key        TEXT PRIMARY KEY,
	doc_id     BIGINT NOT NULL,
	version    BIGINT NOT NULL REFERENCES index_segments (version),
	status     TEXT NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Segment is the registry row of one committed index version.
type Segment struct {
	Version       int64
	DocBase       uint64
	DocumentCount int
	Fields        []string
	Compression   string
}

// IndexedDocument maps an external document key to its index id.
type IndexedDocument struct {
	Key   string
	DocID uint64
}

// EnsureSchema creates the segment registry tables.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating segment registry: %w", err)
	}
	return nil
}

// RecordSegment registers a committed version and the documents it holds in
// one transaction. Recording the same version twice is a no-op for the
// segment row; document rows are moved to the newest version.
func (c *Client) RecordSegment(ctx context.Context, seg Segment, docs []IndexedDocument) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO index_segments (version, doc_base, document_count, fields, compression)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (version) DO NOTHING`,
			seg.Version, int64(seg.DocBase), seg.DocumentCount, pq.Array(seg.Fields), seg.Compression,
		)
		if err != nil {
			return fmt.Errorf("recording segment %d: %w", seg.Version, err)
		}
		if len(docs) == 0 {
			return nil
		}
		keys := make([]string, len(docs))
		ids := make([]int64, len(docs))
		for i, d := range docs {
			keys[i] = d.Key
			ids[i] = int64(d.DocID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO indexed_documents (key, doc_id, version, status)
			 SELECT k, i, $3, 'INDEXED' FROM unnest($1::text[], $2::bigint[]) AS t (k, i)
			 ON CONFLICT (key) DO UPDATE
			 SET doc_id = EXCLUDED.doc_id, version = EXCLUDED.version, status = EXCLUDED.status, indexed_at = NOW()`,
			pq.Array(keys), pq.Array(ids), seg.Version,
		)
		if err != nil {
			return fmt.Errorf("recording documents of segment %d: %w", seg.Version, err)
		}
		return nil
	})
}

// LatestSegment returns the newest registered version.
func (c *Client) LatestSegment(ctx context.Context) (int64, bool, error) {
	var version int64
	err := c.DB.QueryRowContext(ctx, `SELECT version FROM index_segments ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading latest segment: %w", err)
	}
	return version, true, nil
}
