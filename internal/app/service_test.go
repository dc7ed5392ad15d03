package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"collabnotes/api/internal/auth"
	"collabnotes/api/internal/config"
	"collabnotes/api/internal/delta"
	"collabnotes/api/internal/docsync"
	"collabnotes/api/internal/protocol"
	"collabnotes/api/internal/store"
)

// fakeStore wraps the in-memory store so individual calls can be overridden.
type fakeStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
	saveFn func(context.Context, string, delta.Delta) (store.Document, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: store.NewMemoryStore()}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return f.MemoryStore.Ping(ctx)
}

func (f *fakeStore) Save(ctx context.Context, id string, content delta.Delta) (store.Document, error) {
	if f.saveFn != nil {
		return f.saveFn(ctx, id, content)
	}
	return f.MemoryStore.Save(ctx, id, content)
}

func testConfig() config.Config {
	return config.Config{
		StoreDriver:     "memory",
		JWTSecret:       "test-secret",
		AuthMode:        config.AuthModeSoft,
		AutoCreate:      true,
		CORSOrigin:      "*",
		SendQueueSize:   64,
		StoreRetryDelay: time.Millisecond,
		MaxMessageBytes: 1 << 20,
	}
}

func newTestService(t *testing.T, st store.DocumentStore, cfg config.Config) *Service {
	t.Helper()
	docs := docsync.NewManager(st, nil, docsync.Options{
		AutoCreate: cfg.AutoCreate,
		RetryDelay: cfg.StoreRetryDelay,
	})
	return New(cfg, st, docs, nil)
}

func TestAuthenticate(t *testing.T) {
	cfg := testConfig()
	svc := newTestService(t, newFakeStore(), cfg)

	identity, err := svc.Authenticate("")
	if err != nil || identity != nil {
		t.Fatalf("missing token should be anonymous, got %+v %v", identity, err)
	}

	token, err := svc.verifier.Issue("user-1", "Avery", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	identity, err = svc.Authenticate(token)
	if err != nil || identity == nil || identity.UserID != "user-1" || identity.Username != "Avery" {
		t.Fatalf("unexpected identity %+v %v", identity, err)
	}

	identity, err = svc.Authenticate("garbage")
	if err != nil || identity != nil {
		t.Fatalf("soft mode should fall back to anonymous, got %+v %v", identity, err)
	}

	cfg.AuthMode = config.AuthModeHard
	hard := newTestService(t, newFakeStore(), cfg)
	if _, err := hard.Authenticate("garbage"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("hard mode should refuse bad tokens, got %v", err)
	}
	if identity, err := hard.Authenticate(""); err != nil || identity != nil {
		t.Fatalf("hard mode should still allow anonymous, got %+v %v", identity, err)
	}
}

func TestCreateDocumentGeneratesID(t *testing.T) {
	svc := newTestService(t, newFakeStore(), testConfig())
	ctx := context.Background()

	doc, err := svc.CreateDocument(ctx, "", *delta.New().Insert("Hello\n", nil))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if !strings.HasPrefix(doc.ID, "doc_") {
		t.Fatalf("expected generated id, got %q", doc.ID)
	}
	if doc.Text != "Hello\n" || doc.Length != 6 || doc.LastModified == "" {
		t.Fatalf("unexpected view %+v", doc)
	}

	again, err := svc.CreateDocument(ctx, doc.ID, *delta.New().Insert("other\n", nil))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if again.Text != "Hello\n" {
		t.Fatalf("create should keep existing content, got %q", again.Text)
	}

	if _, err := svc.CreateDocument(ctx, "bad/id", delta.Delta{}); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestGetDocumentWithoutAutoCreate(t *testing.T) {
	cfg := testConfig()
	cfg.AutoCreate = false
	svc := newTestService(t, newFakeStore(), cfg)

	_, err := svc.GetDocument(context.Background(), "missing")
	status, code, _, _ := mapError(err)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %s (%v)", status, code, err)
	}
}

func TestReplaceDocumentRejectsEdits(t *testing.T) {
	svc := newTestService(t, newFakeStore(), testConfig())

	_, err := svc.ReplaceDocument(context.Background(), "doc-1", *delta.New().Retain(1, nil))
	status, code, _, _ := mapError(err)
	if status != http.StatusUnprocessableEntity || code != protocol.CodeMalformedEdit {
		t.Fatalf("expected 422 %s, got %d %s (%v)", protocol.CodeMalformedEdit, status, code, err)
	}
}

func TestReplaceDocumentStoreFailure(t *testing.T) {
	fs := newFakeStore()
	fs.saveFn = func(context.Context, string, delta.Delta) (store.Document, error) {
		return store.Document{}, errors.New("disk full")
	}
	svc := newTestService(t, fs, testConfig())

	_, err := svc.ReplaceDocument(context.Background(), "doc-1", *delta.New().Insert("x\n", nil))
	status, code, _, _ := mapError(err)
	if status != http.StatusServiceUnavailable || code != protocol.CodeStore {
		t.Fatalf("expected 503 %s, got %d %s (%v)", protocol.CodeStore, status, code, err)
	}
}

func TestDeleteDocument(t *testing.T) {
	cfg := testConfig()
	cfg.AutoCreate = false
	svc := newTestService(t, newFakeStore(), cfg)
	ctx := context.Background()

	if _, err := svc.CreateDocument(ctx, "doc-1", delta.Delta{}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := svc.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := svc.GetDocument(ctx, "doc-1"); err == nil {
		t.Fatal("expected deleted document to be gone")
	}
	err := svc.DeleteDocument(ctx, "doc-1")
	if status, _, _, _ := mapError(err); status != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d (%v)", status, err)
	}
}
