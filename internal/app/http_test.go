package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"collabnotes/api/internal/config"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestDocumentLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.AutoCreate = false
	h := NewHTTPServer(newTestService(t, newFakeStore(), cfg), "*").Handler()

	rr := doRequest(t, h, http.MethodPost, "/api/documents", `{"content":{"ops":[{"insert":"Roadmap\n"}]}}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := decodeMap(t, rr)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected generated id, got %v", created)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/"+id, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decodeMap(t, rr)["text"]; got != "Roadmap\n" {
		t.Fatalf("unexpected text %v", got)
	}

	rr = doRequest(t, h, http.MethodPut, "/api/documents/"+id, `{"content":[{"insert":"Replaced\n"}]}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decodeMap(t, rr)["length"]; got != float64(9) {
		t.Fatalf("unexpected length %v", got)
	}

	rr = doRequest(t, h, http.MethodDelete, "/api/documents/"+id, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/"+id, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decodeMap(t, rr)["code"]; code != "NOT_FOUND" {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestGetDocumentAutoCreates(t *testing.T) {
	h := NewHTTPServer(newTestService(t, newFakeStore(), testConfig()), "*").Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/documents/fresh", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	content, _ := payload["content"].(map[string]any)
	ops, ok := content["ops"].([]any)
	if !ok || len(ops) != 0 {
		t.Fatalf("expected empty document, got %v", payload["content"])
	}
}

func TestDocumentValidationErrors(t *testing.T) {
	h := NewHTTPServer(newTestService(t, newFakeStore(), testConfig()), "*").Handler()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"invalid json", http.MethodPost, "/api/documents", `{"content":`, http.StatusBadRequest},
		{"bad delta", http.MethodPost, "/api/documents", `{"content":{"ops":[{"insert":5}]}}`, http.StatusUnprocessableEntity},
		{"create with edit ops", http.MethodPost, "/api/documents", `{"content":[{"retain":1}]}`, http.StatusUnprocessableEntity},
		{"replace without content", http.MethodPut, "/api/documents/doc-1", `{}`, http.StatusUnprocessableEntity},
		{"unknown route", http.MethodGet, "/api/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodPatch, "/api/documents/doc-1", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, h, tc.method, tc.path, tc.body, nil)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := NewHTTPServer(newTestService(t, newFakeStore(), testConfig()), "*").Handler()

	for _, body := range []string{
		`{"id":"plan","content":[{"insert":"Launch plan\nShip the editor\n"}]}`,
		`{"id":"menu","content":[{"insert":"Lunch menu\n"}]}`,
	} {
		if rr := doRequest(t, h, http.MethodPost, "/api/documents", body, nil); rr.Code != http.StatusCreated {
			t.Fatalf("create failed: %d body=%s", rr.Code, rr.Body.String())
		}
	}

	rr := doRequest(t, h, http.MethodGet, "/api/search?q=editor&limit=5", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	results, _ := payload["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected one result, got %v", payload)
	}
	hit, _ := results[0].(map[string]any)
	if hit["id"] != "plan" || hit["title"] != "Launch plan" {
		t.Fatalf("unexpected hit %v", hit)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	h := NewHTTPServer(newTestService(t, newFakeStore(), testConfig()), "https://app.example.com").Handler()

	rr := doRequest(t, h, http.MethodOptions, "/api/documents", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected CORS origin %q", got)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/health", "", map[string]string{"X-Request-ID": "req-123"})
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
	rr = doRequest(t, h, http.MethodGet, "/api/health", "", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestHardAuthRejectsInvalidToken(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeHard
	svc := newTestService(t, newFakeStore(), cfg)
	h := NewHTTPServer(svc, "*").Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/documents/doc-1", "", map[string]string{"Authorization": "Bearer not-a-token"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}

	token, err := svc.verifier.Issue("user-1", "Avery", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	rr = doRequest(t, h, http.MethodGet, "/api/documents/doc-1", "", map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 with valid token, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/documents/doc-1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected anonymous access, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMiddlewareStoresRequestID(t *testing.T) {
	server := NewHTTPServer(newTestService(t, newFakeStore(), testConfig()), "*")

	var seen string
	h := server.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	doRequest(t, h, http.MethodGet, "/anything", "", map[string]string{"X-Request-ID": "req-42"})
	if seen != "req-42" {
		t.Fatalf("expected request id in context, got %q", seen)
	}
	if got := requestIDFrom(context.Background()); got != "" {
		t.Fatalf("expected empty id outside a request, got %q", got)
	}
}
