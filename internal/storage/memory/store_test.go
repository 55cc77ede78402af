package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

func TestEntryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewEntryStore()

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list empty store: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(got))
	}

	entries := []mirror.Entry{
		{ID: "a", OriginalURL: "https://example.com/a", CreatedAt: time.Now().UTC()},
		{ID: "b", OriginalURL: "https://example.com/b", CreatedAt: time.Now().UTC()},
	}
	if err := s.Save(ctx, entries); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err = s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected list: %+v", got)
	}

	// Mutating the returned slice must not affect the store.
	got[0].ID = "mutated"
	again, _ := s.List(ctx)
	if again[0].ID != "a" {
		t.Fatalf("store leaked internal state")
	}
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore()

	uri, err := s.PutObject(ctx, "abc", "text/html", []byte("<html></html>"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if uri != "memory://abc" {
		t.Fatalf("unexpected uri %q", uri)
	}

	data, err := s.GetObject(ctx, uri)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := s.DeleteObject(ctx, uri); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetObject(ctx, uri); !errors.Is(err, mirror.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again stays silent.
	if err := s.DeleteObject(ctx, uri); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestBlobStoreRequiresID(t *testing.T) {
	if _, err := NewBlobStore().PutObject(context.Background(), "", "text/html", nil); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
