package search

import (
	"context"
	"log"
	"strings"

	"collabnotes/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to
// matching text in the document store.
type Service struct {
	meili    *Meili
	fallback store.TextSearcher
}

// NewService creates a search service. Either argument may be nil.
func NewService(meili *Meili, fallback store.TextSearcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Text == "" {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	docs, err := s.fallback.SearchText(ctx, q.Text, q.Offset+q.Limit)
	if err != nil {
		log.Printf("search: store search error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results := make([]Result, 0, len(docs))
	for i, doc := range docs {
		if i < q.Offset {
			continue
		}
		text := doc.Content.Text()
		results = append(results, Result{
			ID:        doc.ID,
			Title:     titleOf(text),
			Snippet:   snippetAround(text, q.Text, 120),
			UpdatedAt: doc.LastModified,
		})
	}
	return Response{Results: results, Total: len(docs), Query: q.Text}
}

// IndexDocument pushes a document to Meilisearch when it is reachable.
func (s *Service) IndexDocument(ctx context.Context, doc store.Document) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili.IndexDocument(ctx, doc)
}

// DeleteDocument removes a document from Meilisearch when it is reachable.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili.DeleteDocument(ctx, id)
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
