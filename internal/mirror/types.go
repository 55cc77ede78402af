// Package mirror defines core types shared across subsystems.
package mirror

import (
	"net/http"
	"time"
)

// Entry is the persisted record linking a generated id to an original URL
// and its rewritten document.
type Entry struct {
	ID           string     `json:"id"`
	OriginalURL  string     `json:"original_url"`
	PixelID      string     `json:"pixel_id,omitempty"`
	PixelCode    string     `json:"pixel_code,omitempty"`
	ViewPath     string     `json:"new_url"`
	FullURL      string     `json:"full_url"`
	BlobURI      string     `json:"blob_uri"`
	CreatedAt    time.Time  `json:"created_at"`
	Clicks       int64      `json:"clicks"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// CreateRequest carries the client inputs for a new entry.
type CreateRequest struct {
	OriginalURL string
	PixelID     string
	PixelCode   string
	// RequestHost is used to build FullURL when no public base URL is configured.
	RequestHost string
}

// FetchRequest captures everything needed to fetch a target page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	// Charset is the server-declared charset from Content-Type, if any.
	Charset      string
	Duration     time.Duration
	UsedHeadless bool
}

// ClickEvent is published each time a stored document is viewed.
type ClickEvent struct {
	EntryID     string    `json:"entry_id"`
	OriginalURL string    `json:"original_url"`
	PixelID     string    `json:"pixel_id,omitempty"`
	Clicks      int64     `json:"clicks"`
	OccurredAt  time.Time `json:"occurred_at"`
}
