package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

type createEntryRequest struct {
	OriginalURL string `json:"original_url"`
	PixelID     string `json:"pixel_id"`
	PixelCode   string `json:"pixel_code"`
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	req, err := parseCreateRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OriginalURL == "" {
		writeError(w, http.StatusBadRequest, "original_url is required")
		return
	}
	if req.PixelID == "" && req.PixelCode == "" {
		writeError(w, http.StatusBadRequest, "pixel_id or pixel_code is required")
		return
	}

	entry, err := s.svc.Create(r.Context(), mirror.CreateRequest{
		OriginalURL: req.OriginalURL,
		PixelID:     req.PixelID,
		PixelCode:   req.PixelCode,
		RequestHost: r.Host,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []mirror.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) viewEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.svc.View(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		s.logger.Error("write view response failed", zap.Error(err))
	}
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) evict(w http.ResponseWriter, r *http.Request) {
	evicted, err := s.svc.Evict(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"evicted": evicted})
}

// parseCreateRequest accepts JSON bodies and classic form submissions.
func parseCreateRequest(r *http.Request) (createEntryRequest, error) {
	var req createEntryRequest
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return createEntryRequest{}, errors.New("invalid JSON")
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return createEntryRequest{}, errors.New("invalid form data")
	}
	req.OriginalURL = r.PostFormValue("original_url")
	req.PixelID = r.PostFormValue("pixel_id")
	req.PixelCode = r.PostFormValue("pixel_code")
	return req, nil
}

// writeDomainError converts domain failures into user-facing responses.
// Unexpected defects are logged with full context and surfaced as a
// generic failure.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *mirror.ValidationError
		fetchErr      *mirror.FetchError
		storageErr    *mirror.StorageError
	)
	switch {
	case errors.Is(err, mirror.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &storageErr):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		s.logger.Error("unexpected failure",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
