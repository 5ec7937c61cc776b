// Package archive keeps the canonical copy of every ingested article in
// PostgreSQL. The shingle index lives only in memory; at start-up it is
// rebuilt by replaying this log in insertion order.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/articlematch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/articlematch/pkg/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
    id          BIGSERIAL PRIMARY KEY,
    ingest_id   TEXT,
    key_hash    TEXT NOT NULL,
    article_key TEXT NOT NULL,
    body        TEXT NOT NULL,
    ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE articles ADD COLUMN IF NOT EXISTS ingest_id TEXT;
CREATE INDEX IF NOT EXISTS articles_key_hash_idx ON articles (key_hash, id DESC);
CREATE UNIQUE INDEX IF NOT EXISTS articles_ingest_id_idx ON articles (ingest_id);
`

// Article is one archived ingestion. IngestID, when set, identifies the
// ingestion request: saving the same IngestID again returns the existing
// row instead of appending one.
type Article struct {
	ID         int64
	IngestID   string
	KeyHash    string
	Key        string
	Body       string
	IngestedAt time.Time
}

// Store is an append-only article log. Saving the same key twice keeps both
// rows, just as ingesting it twice leaves both sets of postings in the index.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "archive"),
	}
}

// schemaLockKey serializes schema creation between services starting
// against the same database.
const schemaLockKey int64 = 0x61726368

// EnsureSchema creates the articles table and its lookup index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	err := s.db.WithAdvisoryLock(ctx, schemaLockKey, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("creating archive schema: %w", err)
	}
	return nil
}

// Save appends a and returns its row ID. A zero IngestedAt is stamped with
// the current time. Retrying a Save whose outcome was lost is safe when
// IngestID is set: the retry returns the row the first attempt wrote.
func (s *Store) Save(ctx context.Context, a Article) (int64, error) {
	if a.IngestedAt.IsZero() {
		a.IngestedAt = time.Now().UTC()
	}
	var id int64
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO articles (ingest_id, key_hash, article_key, body, ingested_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (ingest_id) DO UPDATE SET ingest_id = EXCLUDED.ingest_id
		 RETURNING id`,
		sql.NullString{String: a.IngestID, Valid: a.IngestID != ""},
		a.KeyHash, a.Key, a.Body, a.IngestedAt,
	).Scan(&id)
	if postgres.IsDataError(err) {
		return 0, resilience.Permanent(fmt.Errorf("archiving article %s: %w: %w", a.KeyHash, apperrors.ErrInvalidInput, err))
	}
	if err != nil {
		return 0, fmt.Errorf("archiving article %s: %w", a.KeyHash, err)
	}
	s.logger.Debug("article archived", "key_hash", a.KeyHash, "id", id, "bytes", len(a.Body))
	return id, nil
}

// Get returns the most recently archived article for keyHash.
func (s *Store) Get(ctx context.Context, keyHash string) (Article, error) {
	a := Article{KeyHash: keyHash}
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, article_key, body, ingested_at FROM articles
		 WHERE key_hash = $1 ORDER BY id DESC LIMIT 1`,
		keyHash,
	).Scan(&a.ID, &a.Key, &a.Body, &a.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, fmt.Errorf("%w: %s", apperrors.ErrArticleNotFound, keyHash)
	}
	if err != nil {
		return Article{}, fmt.Errorf("loading article %s: %w", keyHash, err)
	}
	return a, nil
}

// Count returns the number of archived rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return n, nil
}

// Each calls fn for every archived row in insertion order, reading
// batchSize rows per query. Rows appended while Each runs may or may not be
// visited. Iteration stops at the first error from fn.
func (s *Store) Each(ctx context.Context, batchSize int, fn func(Article) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var after int64
	for {
		batch, err := s.page(ctx, after, batchSize)
		if err != nil {
			return err
		}
		for _, a := range batch {
			if err := fn(a); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

func (s *Store) page(ctx context.Context, after int64, limit int) ([]Article, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, key_hash, article_key, body, ingested_at FROM articles
		 WHERE id > $1 ORDER BY id LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading archive page after %d: %w", after, err)
	}
	defer rows.Close()

	batch := make([]Article, 0, limit)
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.KeyHash, &a.Key, &a.Body, &a.IngestedAt); err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		batch = append(batch, a)
	}
	return batch, rows.Err()
}

// Ping reports whether the archive database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
