package app

import (
	"context"
	"errors"
	"log"
	"net/http"

	"collabnotes/api/internal/auth"
	"collabnotes/api/internal/config"
	"collabnotes/api/internal/delta"
	"collabnotes/api/internal/docsync"
	"collabnotes/api/internal/protocol"
	"collabnotes/api/internal/search"
	"collabnotes/api/internal/store"
	"collabnotes/api/internal/util"
)

// DocumentView is the REST representation of a document.
type DocumentView struct {
	ID           string      `json:"id"`
	Content      delta.Delta `json:"content"`
	Text         string      `json:"text"`
	Length       int         `json:"length"`
	Members      int         `json:"members"`
	LastModified string      `json:"lastModified,omitempty"`
}

type Service struct {
	cfg      config.Config
	store    store.DocumentStore
	docs     *docsync.Manager
	search   *search.Service
	verifier *auth.Verifier
}

func New(cfg config.Config, st store.DocumentStore, docs *docsync.Manager, searchSvc *search.Service) *Service {
	if searchSvc == nil {
		fallback, _ := st.(store.TextSearcher)
		searchSvc = search.NewService(nil, fallback)
	}
	return &Service{
		cfg:      cfg,
		store:    st,
		docs:     docs,
		search:   searchSvc,
		verifier: auth.NewVerifier(cfg.JWTSecret),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Documents() *docsync.Manager {
	return s.docs
}

func (s *Service) Config() config.Config {
	return s.cfg
}

// Authenticate resolves an optional bearer token. A missing token is an
// anonymous session in every mode; a token that fails verification is
// anonymous in soft mode and refused in hard mode.
func (s *Service) Authenticate(token string) (*auth.Identity, error) {
	identity, err := s.verifier.Identify(token)
	if err == nil {
		return identity, nil
	}
	if s.cfg.AuthMode == config.AuthModeHard {
		return nil, err
	}
	log.Printf("auth: token rejected, continuing anonymously: %v", err)
	return nil, nil
}

func (s *Service) CreateDocument(ctx context.Context, id string, content delta.Delta) (DocumentView, error) {
	if id == "" {
		id = util.NewID("doc")
	}
	if !util.ValidDocumentID(id) {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid document id", nil)
	}
	h := s.docs.Open(id)
	defer h.Close()
	doc, err := h.Create(ctx, content)
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(doc), nil
}

func (s *Service) GetDocument(ctx context.Context, id string) (DocumentView, error) {
	if !util.ValidDocumentID(id) {
		return DocumentView{}, domainError(http.StatusBadRequest, "INVALID_DOCUMENT_ID", "invalid document id", nil)
	}
	h := s.docs.Open(id)
	defer h.Close()
	doc, err := h.Snapshot(ctx)
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(doc), nil
}

func (s *Service) ReplaceDocument(ctx context.Context, id string, content delta.Delta) (DocumentView, error) {
	if !util.ValidDocumentID(id) {
		return DocumentView{}, domainError(http.StatusBadRequest, "INVALID_DOCUMENT_ID", "invalid document id", nil)
	}
	h := s.docs.Open(id)
	defer h.Close()
	doc, err := h.Replace(ctx, nil, content, "")
	if err != nil {
		return DocumentView{}, err
	}
	return s.view(doc), nil
}

func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if !util.ValidDocumentID(id) {
		return domainError(http.StatusBadRequest, "INVALID_DOCUMENT_ID", "invalid document id", nil)
	}
	h := s.docs.Open(id)
	defer h.Close()
	return h.Delete(ctx)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

func (s *Service) view(doc store.Document) DocumentView {
	v := DocumentView{
		ID:      doc.ID,
		Content: doc.Content,
		Text:    doc.Content.Text(),
		Length:  doc.Content.Length(),
		Members: s.docs.Registry().Count(doc.ID),
	}
	if !doc.LastModified.IsZero() {
		v.LastModified = doc.LastModified.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return v
}

// rejectionError maps a sync engine rejection to its REST form.
func rejectionError(err error) *DomainError {
	var rejected *docsync.RejectedError
	if !errors.As(err, &rejected) {
		return nil
	}
	switch rejected.Code {
	case protocol.CodeNotFound:
		return domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	case protocol.CodeMalformedEdit, protocol.CodeOutOfRange:
		return domainError(http.StatusUnprocessableEntity, rejected.Code, rejected.Err.Error(), nil)
	default:
		return domainError(http.StatusServiceUnavailable, rejected.Code, "Document store unavailable", nil)
	}
}
