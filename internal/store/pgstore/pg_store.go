// Package pgstore implements store.Store on PostgreSQL. Documents live in a
// single jsonb table; commits run SERIALIZABLE and re-check every read
// version under FOR UPDATE before writing. Deleted rows stay behind as
// tombstones so a re-created document never reuses a version.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"go-gin-event-registration/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		key        TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		version    BIGINT NOT NULL,
		body       JSONB NOT NULL,
		deleted    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE documents ADD COLUMN IF NOT EXISTS deleted BOOLEAN NOT NULL DEFAULT FALSE;
	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection);
`

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema 建立 documents 資料表（已存在則略過）
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*store.Document, error) {
	query := `
		SELECT key, version, body::text
		FROM documents
		WHERE key = $1 AND NOT deleted
	`

	var doc store.Document
	var body string
	err := s.pool.QueryRow(ctx, query, key).Scan(&doc.Key, &doc.Version, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	doc.Body = []byte(body)
	return &doc, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]*store.Document, error) {
	query := `
		SELECT key, version, body::text
		FROM documents
		WHERE collection = $1 AND NOT deleted
		ORDER BY key
	`

	rows, err := s.pool.Query(ctx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*store.Document, 0)
	for rows.Next() {
		var doc store.Document
		var body string
		if err := rows.Scan(&doc.Key, &doc.Version, &body); err != nil {
			return nil, err
		}
		doc.Body = []byte(body)
		docs = append(docs, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return docs, nil
}

func (s *Store) Commit(ctx context.Context, batch store.Batch) error {
	if err := store.ValidateBatch(batch); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	expected := make(map[string]int64, len(batch.Preconditions))
	for _, p := range batch.Preconditions {
		expected[p.Key] = p.Version
		if err := s.checkVersion(ctx, tx, p); err != nil {
			return mapError(err)
		}
	}

	for _, m := range batch.Mutations {
		var err error
		switch m.Op {
		case store.OpPut:
			if v, ok := expected[m.Key]; ok && v == 0 {
				err = s.insert(ctx, tx, m)
			} else {
				err = s.upsert(ctx, tx, m)
			}
		case store.OpDelete:
			err = s.delete(ctx, tx, m)
		case store.OpIncrement:
			err = s.increment(ctx, tx, m)
		}
		if err != nil {
			return mapError(err)
		}
	}

	return mapError(tx.Commit(ctx))
}

func (s *Store) checkVersion(ctx context.Context, tx pgx.Tx, p store.Precondition) error {
	query := `
		SELECT version, deleted
		FROM documents
		WHERE key = $1
		FOR UPDATE
	`

	var version int64
	var deleted bool
	err := tx.QueryRow(ctx, query, p.Key).Scan(&version, &deleted)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		version = 0
	}
	if deleted {
		version = 0
	}

	if version != p.Version {
		return store.ErrVersionConflict
	}
	return nil
}

// insert 只能建立不存在的文件；tombstone 會被復活並沿用版本往上加，
// 仍存在的文件則回傳 ErrVersionConflict
func (s *Store) insert(ctx context.Context, tx pgx.Tx, m store.Mutation) error {
	query := `
		INSERT INTO documents (key, collection, version, body)
		VALUES ($1, $2, 1, $3::jsonb)
		ON CONFLICT (key) DO UPDATE
		SET body = EXCLUDED.body, version = documents.version + 1, deleted = FALSE,
			created_at = NOW(), updated_at = NOW()
		WHERE documents.deleted
	`
	result, err := tx.Exec(ctx, query, m.Key, store.CollectionOf(m.Key), string(m.Body))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, tx pgx.Tx, m store.Mutation) error {
	query := `
		INSERT INTO documents (key, collection, version, body)
		VALUES ($1, $2, 1, $3::jsonb)
		ON CONFLICT (key) DO UPDATE
		SET body = EXCLUDED.body, version = documents.version + 1, deleted = FALSE, updated_at = NOW()
	`
	_, err := tx.Exec(ctx, query, m.Key, store.CollectionOf(m.Key), string(m.Body))
	return err
}

func (s *Store) delete(ctx context.Context, tx pgx.Tx, m store.Mutation) error {
	query := `
		UPDATE documents
		SET body = '{}'::jsonb, deleted = TRUE, version = version + 1, updated_at = NOW()
		WHERE key = $1 AND NOT deleted
	`
	_, err := tx.Exec(ctx, query, m.Key)
	return err
}

func (s *Store) increment(ctx context.Context, tx pgx.Tx, m store.Mutation) error {
	query := `
		UPDATE documents
		SET body = jsonb_set(
				body,
				ARRAY[$2::text],
				to_jsonb(COALESCE((body ->> $2::text)::numeric, 0) + $3::bigint)
			),
			version = version + 1,
			updated_at = NOW()
		WHERE key = $1 AND NOT deleted
	`

	result, err := tx.Exec(ctx, query, m.Key, m.Field, m.Delta)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// mapError turns PostgreSQL concurrency failures into ErrVersionConflict so
// the coordinator retries them.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return store.ErrVersionConflict
		}
	}
	return err
}
