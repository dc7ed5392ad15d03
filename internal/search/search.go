// Package search indexes document text and answers text queries, preferring
// Meilisearch and falling back to the document store.
package search

import (
	"strings"
	"time"
	"unicode/utf8"

	"collabnotes/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	UpdatedAt int64  `json:"updatedAt"`
}

func recordFromDocument(doc store.Document) DocumentRecord {
	text := doc.Content.Text()
	return DocumentRecord{
		ID:        doc.ID,
		Title:     titleOf(text),
		Text:      text,
		UpdatedAt: doc.LastModified.UnixMilli(),
	}
}

// titleOf returns the first non-blank line of text, capped at 80 runes.
func titleOf(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return truncateRunes(line, 80)
		}
	}
	return ""
}

// snippetAround returns up to width runes of text centred on the first
// case-insensitive match of query.
func snippetAround(text, query string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(strings.TrimSpace(query)))
	if idx < 0 {
		return truncateRunes(text, width)
	}
	start := utf8.RuneCountInString(lower[:idx]) - width/2
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(runes) {
		end = len(runes)
		start = end - width
	}
	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(runes) {
		snippet += "…"
	}
	return snippet
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
