package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmirror/pixelmirror/internal/charset"
	"github.com/pixelmirror/pixelmirror/internal/clock/system"
	uuidgen "github.com/pixelmirror/pixelmirror/internal/id/uuid"
	"github.com/pixelmirror/pixelmirror/internal/mirror"
	memorypub "github.com/pixelmirror/pixelmirror/internal/publisher/memory"
	memorystore "github.com/pixelmirror/pixelmirror/internal/storage/memory"
)

type fakeFetcher struct {
	body []byte
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, req mirror.FetchRequest) (mirror.FetchResponse, error) {
	if f.err != nil {
		return mirror.FetchResponse{}, f.err
	}
	return mirror.FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       f.body,
		Charset:    "utf-8",
	}, nil
}

func newTestServer(t *testing.T, fetcher mirror.Fetcher) *Server {
	t.Helper()
	svc := mirror.NewService(
		memorystore.NewEntryStore(),
		memorystore.NewBlobStore(),
		fetcher,
		nil,
		nil,
		charset.NewRepairer(nil),
		memorypub.New(),
		system.New(),
		uuidgen.New(),
		mirror.ServiceConfig{MaxEntries: 100},
		nil,
	)
	return NewServer(svc, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndViewEntry(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{
		body: []byte(`<html><head></head><body><a href="next.html">next</a></body></html>`),
	})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/entries",
		`{"original_url":"https://example.com/shop/","pixel_id":"ABC123"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var entry mirror.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "/view/"+entry.ID, entry.ViewPath)
	assert.Equal(t, "https://example.com/shop/", entry.OriginalURL)

	view := doJSON(t, h, http.MethodGet, entry.ViewPath, "")
	require.Equal(t, http.StatusOK, view.Code)
	assert.Contains(t, view.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, view.Body.String(), "ttq.load('ABC123')")
	assert.Contains(t, view.Body.String(), `href="https://example.com/shop/next.html"`)
}

func TestCreateEntryFromForm(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{body: []byte(`<html><head></head><body></body></html>`)})

	form := "original_url=example.com&pixel_id=PX1"
	req := httptest.NewRequest(http.MethodPost, "/api/entries", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry mirror.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "https://example.com", entry.OriginalURL)
}

func TestCreateEntryValidation(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{body: []byte("<html></html>")})
	h := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing url", body: `{"pixel_id":"X"}`},
		{name: "missing pixel", body: `{"original_url":"https://example.com"}`},
		{name: "bad scheme", body: `{"original_url":"ftp://example.com","pixel_id":"X"}`},
		{name: "broken json", body: `{"original_url":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/entries", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateEntryFetchFailure(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{
		err: &mirror.FetchError{URL: "https://example.com", StatusCode: 500},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/entries",
		`{"original_url":"https://example.com","pixel_id":"X"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
}

func TestListEntries(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{body: []byte("<html><head></head></html>")})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())

	created := doJSON(t, h, http.MethodPost, "/api/entries",
		`{"original_url":"https://example.com","pixel_id":"X"}`)
	require.Equal(t, http.StatusCreated, created.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Entries []mirror.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Len(t, payload.Entries, 1)
}

func TestDeleteEntry(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{body: []byte("<html><head></head></html>")})
	h := srv.Handler()

	created := doJSON(t, h, http.MethodPost, "/api/entries",
		`{"original_url":"https://example.com","pixel_id":"X"}`)
	require.Equal(t, http.StatusCreated, created.Code)
	var entry mirror.Entry
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &entry))

	rec := doJSON(t, h, http.MethodPost, "/delete/"+entry.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, entry.ViewPath, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/entries/"+entry.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViewUnknownEntry(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{body: []byte("<html></html>")})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/view/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{})
	h := srv.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
