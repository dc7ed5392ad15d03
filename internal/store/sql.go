package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"collabnotes/api/internal/delta"
)

// SQLStore persists documents in a relational table. The same queries serve
// Postgres and SQLite; placeholders are rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB exposes the handle for components that read the documents table
// directly, such as the text search fallback.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Load(ctx context.Context, id string) (Document, error) {
	var (
		raw       []byte
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT content, updated_at_ms FROM documents WHERE id=$1
	`), id).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, storeError("load", id, err)
	}

	content, err := delta.Parse(raw)
	if err != nil {
		return Document{}, storeError("load", id, fmt.Errorf("decode content: %w", err))
	}
	return Document{ID: id, Content: content, LastModified: time.UnixMilli(updatedAt).UTC()}, nil
}

func (s *SQLStore) Create(ctx context.Context, id string, content delta.Delta) (Document, error) {
	raw, err := content.MarshalJSON()
	if err != nil {
		return Document{}, storeError("create", id, err)
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO documents (id, content, plain_text, checksum, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`), id, string(raw), content.Text(), content.Digest(), ts.UnixMilli())
	if err != nil {
		return Document{}, storeError("create", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.Load(ctx, id)
	}
	return Document{ID: id, Content: content, LastModified: ts}, nil
}

func (s *SQLStore) Save(ctx context.Context, id string, content delta.Delta) (Document, error) {
	raw, err := content.MarshalJSON()
	if err != nil {
		return Document{}, storeError("save", id, err)
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO documents (id, content, plain_text, checksum, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			plain_text = excluded.plain_text,
			checksum = excluded.checksum,
			updated_at_ms = excluded.updated_at_ms
		WHERE documents.checksum <> excluded.checksum
	`), id, string(raw), content.Text(), content.Digest(), ts.UnixMilli())
	if err != nil {
		return Document{}, storeError("save", id, err)
	}
	// Unchanged content leaves the row, and its timestamp, as it was.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.Load(ctx, id)
	}
	return Document{ID: id, Content: content, LastModified: ts}, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM documents WHERE id=$1`), id)
	if err != nil {
		return storeError("delete", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError("delete", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchText matches the plain text projection of each document. It backs
// search when no dedicated index is configured.
func (s *SQLStore) SearchText(ctx context.Context, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT id, content, updated_at_ms
		FROM documents
		WHERE LOWER(plain_text) LIKE $1 ESCAPE '\'
		ORDER BY updated_at_ms DESC
		LIMIT $2
	`), pattern, limit)
	if err != nil {
		return nil, storeError("search", "", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id        string
			raw       []byte
			updatedAt int64
		)
		if err := rows.Scan(&id, &raw, &updatedAt); err != nil {
			return nil, storeError("search", "", err)
		}
		content, err := delta.Parse(raw)
		if err != nil {
			return nil, storeError("search", id, fmt.Errorf("decode content: %w", err))
		}
		docs = append(docs, Document{ID: id, Content: content, LastModified: time.UnixMilli(updatedAt).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("search", "", err)
	}
	return docs, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
