package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmirror/pixelmirror/internal/charset"
)

type stubEntryStore struct {
	entries []Entry
}

func (s *stubEntryStore) List(_ context.Context) ([]Entry, error) {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *stubEntryStore) Save(_ context.Context, entries []Entry) error {
	s.entries = make([]Entry, len(entries))
	copy(s.entries, entries)
	return nil
}

type stubBlobStore struct {
	data    map[string][]byte
	deleted []string
}

func newStubBlobStore() *stubBlobStore {
	return &stubBlobStore{data: map[string][]byte{}}
}

func (s *stubBlobStore) PutObject(_ context.Context, id, _ string, data []byte) (string, error) {
	s.data[id] = data
	return "stub://" + id, nil
}

func (s *stubBlobStore) GetObject(_ context.Context, uri string) ([]byte, error) {
	id := strings.TrimPrefix(uri, "stub://")
	data, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", id, ErrNotFound)
	}
	return data, nil
}

func (s *stubBlobStore) DeleteObject(_ context.Context, uri string) error {
	id := strings.TrimPrefix(uri, "stub://")
	delete(s.data, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type stubFetcher struct {
	body []byte
	err  error
}

func (f *stubFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	if f.err != nil {
		return FetchResponse{}, f.err
	}
	return FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       f.body,
		Charset:    "utf-8",
	}, nil
}

type stubPublisher struct {
	events []ClickEvent
}

func (p *stubPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	if ev, ok := payload.(ClickEvent); ok {
		p.events = append(p.events, ev)
	}
	return "stub-1", nil
}

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type stubIDs struct {
	n int
}

func (g *stubIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type serviceFixture struct {
	svc       *Service
	entries   *stubEntryStore
	blobs     *stubBlobStore
	fetcher   *stubFetcher
	publisher *stubPublisher
}

func newFixture(t *testing.T, cfg ServiceConfig) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		entries: &stubEntryStore{},
		blobs:   newStubBlobStore(),
		fetcher: &stubFetcher{
			body: []byte(`<html><head><title>t</title></head><body><img src="logo.png"></body></html>`),
		},
		publisher: &stubPublisher{},
	}
	f.svc = NewService(
		f.entries,
		f.blobs,
		f.fetcher,
		nil,
		nil,
		charset.NewRepairer(nil),
		f.publisher,
		&stubClock{now: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		&stubIDs{},
		cfg,
		nil,
	)
	return f
}

func TestCreateBuildsEntry(t *testing.T) {
	f := newFixture(t, ServiceConfig{PublicBaseURL: "https://mirror.example"})

	entry, err := f.svc.Create(context.Background(), CreateRequest{
		OriginalURL: "https://example.com/shop/page.html",
		PixelID:     "ABC123",
	})
	require.NoError(t, err)

	assert.Equal(t, "id-1", entry.ID)
	assert.Equal(t, "/view/id-1", entry.ViewPath)
	assert.Equal(t, "https://mirror.example/view/id-1", entry.FullURL)
	assert.Equal(t, "https://example.com/shop/page.html", entry.OriginalURL)
	assert.Zero(t, entry.Clicks)

	require.Len(t, f.entries.entries, 1)

	doc := string(f.blobs.data["id-1"])
	assert.Contains(t, doc, "ttq.load('ABC123')")
	assert.Contains(t, doc, "https://example.com/shop/logo.png")
}

func TestCreatePrefixesScheme(t *testing.T) {
	f := newFixture(t, ServiceConfig{})

	entry, err := f.svc.Create(context.Background(), CreateRequest{
		OriginalURL: "example.com/page",
		PixelID:     "X",
		RequestHost: "mirror.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/page", entry.OriginalURL)
	assert.Equal(t, "https://mirror.example/view/id-1", entry.FullURL)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t, ServiceConfig{})

	for _, raw := range []string{"", "   ", "ftp://example.com", "https://"} {
		_, err := f.svc.Create(context.Background(), CreateRequest{OriginalURL: raw, PixelID: "X"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "input %q", raw)
	}
	assert.Empty(t, f.entries.entries, "nothing should be persisted on bad input")
}

func TestCreateSurfacesFetchError(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	f.fetcher.err = &FetchError{URL: "https://example.com", StatusCode: 404}

	_, err := f.svc.Create(context.Background(), CreateRequest{
		OriginalURL: "https://example.com",
		PixelID:     "X",
	})
	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 404, ferr.StatusCode)
	assert.Empty(t, f.entries.entries)
	assert.Empty(t, f.blobs.data)
}

func TestCreateEvictsOldestAtCap(t *testing.T) {
	f := newFixture(t, ServiceConfig{MaxEntries: 3})

	for i := 0; i < 5; i++ {
		_, err := f.svc.Create(context.Background(), CreateRequest{
			OriginalURL: fmt.Sprintf("https://example.com/p%d", i),
			PixelID:     "X",
		})
		require.NoError(t, err)
	}

	require.Len(t, f.entries.entries, 3)
	ids := make([]string, 0, 3)
	for _, e := range f.entries.entries {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"id-3", "id-4", "id-5"}, ids)
	assert.Contains(t, f.blobs.deleted, "id-1")
	assert.Contains(t, f.blobs.deleted, "id-2")
	assert.NotContains(t, f.blobs.deleted, "id-5")
}

func TestViewCountsClicks(t *testing.T) {
	f := newFixture(t, ServiceConfig{ClickTopic: "clicks"})
	entry, err := f.svc.Create(context.Background(), CreateRequest{
		OriginalURL: "https://example.com",
		PixelID:     "ABC123",
	})
	require.NoError(t, err)

	doc, err := f.svc.View(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "ttq.load('ABC123')")

	_, err = f.svc.View(context.Background(), entry.ID)
	require.NoError(t, err)

	require.Len(t, f.entries.entries, 1)
	got := f.entries.entries[0]
	assert.EqualValues(t, 2, got.Clicks)
	require.NotNil(t, got.LastAccessed)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, entry.ID, f.publisher.events[0].EntryID)
	assert.EqualValues(t, 1, f.publisher.events[0].Clicks)
	assert.EqualValues(t, 2, f.publisher.events[1].Clicks)
}

func TestViewUnknownID(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	_, err := f.svc.View(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	entry, err := f.svc.Create(context.Background(), CreateRequest{
		OriginalURL: "https://example.com",
		PixelID:     "X",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), entry.ID))
	assert.Empty(t, f.entries.entries)
	assert.Contains(t, f.blobs.deleted, entry.ID)

	err = f.svc.Delete(context.Background(), entry.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUnknownLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	_, err := f.svc.Create(context.Background(), CreateRequest{
		OriginalURL: "https://example.com",
		PixelID:     "X",
	})
	require.NoError(t, err)

	err = f.svc.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.entries.entries, 1)
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t, ServiceConfig{})
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(context.Background(), CreateRequest{
			OriginalURL: fmt.Sprintf("https://example.com/p%d", i),
			PixelID:     "X",
		})
		require.NoError(t, err)
	}

	list, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "id-3", list[0].ID)
	assert.Equal(t, "id-1", list[2].ID)
}

func TestEvictTrimsOverCapList(t *testing.T) {
	f := newFixture(t, ServiceConfig{MaxEntries: 2})
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		f.entries.entries = append(f.entries.entries, Entry{
			ID:        fmt.Sprintf("seed-%d", i),
			BlobURI:   fmt.Sprintf("stub://seed-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	evicted, err := f.svc.Evict(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)
	require.Len(t, f.entries.entries, 2)
	assert.Equal(t, "seed-2", f.entries.entries[0].ID)
	assert.Equal(t, "seed-3", f.entries.entries[1].ID)
}

func TestNormalizeTargetURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "full https", in: "https://example.com/a", want: "https://example.com/a"},
		{name: "http preserved", in: "http://example.com", want: "http://example.com"},
		{name: "bare host prefixed", in: "example.com/path", want: "https://example.com/path"},
		{name: "whitespace trimmed", in: "  example.com  ", want: "https://example.com"},
		{name: "empty", in: "", wantErr: true},
		{name: "ftp rejected", in: "ftp://example.com", wantErr: true},
		{name: "no host", in: "https://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NormalizeTargetURL(tt.in)
			if tt.wantErr {
				var verr *ValidationError
				require.Error(t, err)
				assert.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}
