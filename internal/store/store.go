// Package store persists the authoritative content of each document. The sync
// engine only needs durable get/put by id; every backend here provides that.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"collabnotes/api/internal/delta"
)

var ErrNotFound = errors.New("document not found")

// Document is the persisted state of one document.
type Document struct {
	ID           string
	Content      delta.Delta
	LastModified time.Time
}

type DocumentStore interface {
	// Load returns ErrNotFound when id has never been created.
	Load(ctx context.Context, id string) (Document, error)
	// Create stores content under id unless id already exists, in which case
	// the existing document is returned untouched.
	Create(ctx context.Context, id string, content delta.Delta) (Document, error)
	// Save replaces the content of id, creating it when absent.
	Save(ctx context.Context, id string, content delta.Delta) (Document, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// StoreError wraps a backend failure. Callers may retry the operation.
type StoreError struct {
	Op         string
	DocumentID string
	Err        error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.DocumentID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op, id string, err error) error {
	return &StoreError{Op: op, DocumentID: id, Err: err}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// record is the serialized form used by the key-value backends.
type record struct {
	Content   delta.Delta `json:"content"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func encodeRecord(content delta.Delta, updatedAt time.Time) ([]byte, error) {
	payload, err := json.Marshal(record{Content: content, UpdatedAt: updatedAt})
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return payload, nil
}

func decodeRecord(id string, payload []byte) (Document, error) {
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Document{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return Document{ID: id, Content: rec.Content, LastModified: rec.UpdatedAt}, nil
}

// TextSearcher is implemented by backends that can match document text.
type TextSearcher interface {
	SearchText(ctx context.Context, query string, limit int) ([]Document, error)
}

func matchesText(doc Document, needle string) bool {
	return strings.Contains(strings.ToLower(doc.Content.Text()), needle)
}

// newestFirst orders matches by modification time and applies limit.
func newestFirst(docs []Document, limit int) []Document {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].LastModified.Equal(docs[j].LastModified) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].LastModified.After(docs[j].LastModified)
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}
