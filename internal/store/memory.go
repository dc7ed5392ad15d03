package store

import (
	"context"
	"strings"
	"sync"

	"collabnotes/api/internal/delta"
)

// MemoryStore keeps documents in process memory. Content does not survive a
// restart.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (s *MemoryStore) Create(_ context.Context, id string, content delta.Delta) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		return copyDocument(doc), nil
	}
	doc := Document{ID: id, Content: content, LastModified: now()}
	s.docs[id] = copyDocument(doc)
	return doc, nil
}

func (s *MemoryStore) Save(_ context.Context, id string, content delta.Delta) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := Document{ID: id, Content: content, LastModified: now()}
	s.docs[id] = copyDocument(doc)
	return doc, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyDocument(doc Document) Document {
	ops := make([]delta.Op, len(doc.Content.Ops))
	copy(ops, doc.Content.Ops)
	doc.Content = delta.Delta{Ops: ops}
	return doc
}

func (s *MemoryStore) SearchText(_ context.Context, query string, limit int) ([]Document, error) {
	needle := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []Document
	for _, doc := range s.docs {
		if matchesText(doc, needle) {
			docs = append(docs, copyDocument(doc))
		}
	}
	return newestFirst(docs, limit), nil
}
