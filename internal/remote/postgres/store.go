// Package postgres provides the Postgres-backed remote document store.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/smartgrip/internal/remote"
)

// DocumentStore keeps every collection in the documents table with JSONB payloads.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore constructs a DocumentStore.
func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

// Add inserts doc letting Postgres assign the id.
func (s *DocumentStore) Add(ctx context.Context, collection string, doc remote.Document) (string, error) {
	const stmt = `INSERT INTO documents (collection, user_id, sort_at, data)
        VALUES ($1, $2, COALESCE($3, NOW()), $4)
        RETURNING id`

	var id string
	if err := s.pool.QueryRow(ctx, stmt, collection, doc.UserID, nullableTime(doc), []byte(doc.Data)).Scan(&id); err != nil {
		return "", fmt.Errorf("insert %s document: %w", collection, err)
	}
	return id, nil
}

// Set upserts doc under doc.ID, keeping the original created_at.
func (s *DocumentStore) Set(ctx context.Context, collection string, doc remote.Document) error {
	const stmt = `INSERT INTO documents (collection, id, user_id, sort_at, data)
        VALUES ($1, $2, $3, COALESCE($4, NOW()), $5)
        ON CONFLICT (collection, id) DO UPDATE
           SET user_id = EXCLUDED.user_id,
               sort_at = EXCLUDED.sort_at,
               data = EXCLUDED.data,
               updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, stmt, collection, doc.ID, doc.UserID, nullableTime(doc), []byte(doc.Data)); err != nil {
		return fmt.Errorf("upsert %s document: %w", collection, err)
	}
	return nil
}

// Update replaces an existing document's payload.
func (s *DocumentStore) Update(ctx context.Context, collection string, doc remote.Document) error {
	const stmt = `UPDATE documents
           SET data = $3,
               sort_at = COALESCE($4, sort_at),
               updated_at = NOW()
         WHERE collection = $1 AND id = $2 AND user_id = $5`

	tag, err := s.pool.Exec(ctx, stmt, collection, doc.ID, []byte(doc.Data), nullableTime(doc), doc.UserID)
	if err != nil {
		return fmt.Errorf("update %s document: %w", collection, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", remote.ErrDocumentNotFound, collection, doc.ID)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*remote.Document, error) {
	const query = `SELECT id, user_id, sort_at, created_at, data FROM documents WHERE collection = $1 AND id = $2`

	row := s.pool.QueryRow(ctx, query, collection, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s document: %w", collection, err)
	}
	return &doc, nil
}

func (s *DocumentStore) Delete(ctx context.Context, collection, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2 AND user_id = $3`, collection, id, userID)
	if err != nil {
		return fmt.Errorf("delete %s document: %w", collection, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", remote.ErrDocumentNotFound, collection, id)
	}
	return nil
}

func (s *DocumentStore) QueryByUser(ctx context.Context, collection, userID string, limit int) ([]remote.Document, error) {
	query := `SELECT id, user_id, sort_at, created_at, data
        FROM documents
        WHERE collection = $1 AND user_id = $2
        ORDER BY sort_at DESC, id DESC`
	args := []any{collection, userID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s documents: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]remote.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s document: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Ping reports whether Postgres is reachable.
func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanDocument(row pgx.Row) (remote.Document, error) {
	var (
		doc  remote.Document
		data []byte
	)
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.SortAt, &doc.CreatedAt, &data); err != nil {
		return remote.Document{}, err
	}
	doc.SortAt = doc.SortAt.UTC()
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.Data = data
	return doc, nil
}

func nullableTime(doc remote.Document) any {
	if doc.SortAt.IsZero() {
		return nil
	}
	return doc.SortAt
}
