package mirror

import (
	"context"
	"time"
)

// EntryStore persists the entry list. Save replaces the whole list; writes
// are last-writer-wins, which is acceptable for the expected human-driven
// submission rate.
type EntryStore interface {
	List(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// BlobStore persists rewritten documents and returns a locator URI.
type BlobStore interface {
	PutObject(ctx context.Context, id string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, uri string) ([]byte, error)
	DeleteObject(ctx context.Context, uri string) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a headless render is warranted for a
// fetched body.
type RenderDetector interface {
	NeedsRender(body []byte) bool
}

// Publisher pushes click events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entry IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
