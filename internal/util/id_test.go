package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id := NewID("")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected a uuid, got %q: %v", id, err)
	}
	prefixed := NewID("doc")
	if !strings.HasPrefix(prefixed, "doc_") {
		t.Fatalf("expected doc_ prefix, got %q", prefixed)
	}
	if NewID("doc") == prefixed {
		t.Fatal("ids should be unique")
	}
}

func TestValidDocumentID(t *testing.T) {
	tests := map[string]bool{
		"doc1":                   true,
		"doc_0f8c-11":            true,
		"notes:2024.q1":          true,
		"":                       false,
		"a/b":                    false,
		"has space":              false,
		"tab\there":              false,
		"query?x":                false,
		strings.Repeat("x", 128): true,
		strings.Repeat("x", 129): false,
	}
	for id, want := range tests {
		if got := ValidDocumentID(id); got != want {
			t.Errorf("ValidDocumentID(%q) = %v, want %v", id, got, want)
		}
	}
}
