package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pixelmirror/pixelmirror/internal/charset"
	"github.com/pixelmirror/pixelmirror/internal/metrics"
	"github.com/pixelmirror/pixelmirror/internal/rewrite"
)

// ServiceConfig carries the knobs the service needs; it is built once at
// startup and threaded through rather than read from ambient globals.
type ServiceConfig struct {
	// MaxEntries caps the entry list; the oldest entry is evicted before a
	// new one is added once the cap is reached.
	MaxEntries int
	// PublicBaseURL, when set, is used to build full view URLs. Otherwise
	// the request host is used.
	PublicBaseURL string
	// ContentType stored alongside rewritten documents.
	ContentType string
	// ClickTopic is the topic click events are published to.
	ClickTopic string
}

// Service implements the create/view/delete operations over the entry and
// blob stores. Execution is synchronous per request; the only shared state
// is the stores, written last-writer-wins.
type Service struct {
	entries   EntryStore
	blobs     BlobStore
	fetcher   Fetcher
	renderer  Fetcher
	detector  RenderDetector
	repairer  *charset.Repairer
	publisher Publisher
	clock     Clock
	ids       IDGenerator
	cfg       ServiceConfig
	logger    *zap.Logger
}

// NewService wires the service. renderer and detector may be nil when
// headless rendering is disabled; publisher may be nil when click events
// are not wanted.
func NewService(
	entries EntryStore,
	blobs BlobStore,
	fetcher Fetcher,
	renderer Fetcher,
	detector RenderDetector,
	repairer *charset.Repairer,
	publisher Publisher,
	clock Clock,
	ids IDGenerator,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		entries:   entries,
		blobs:     blobs,
		fetcher:   fetcher,
		renderer:  renderer,
		detector:  detector,
		repairer:  repairer,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Create fetches the target page, injects the tracking snippet, rewrites
// relative references and persists the result under a new id.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Entry, error) {
	target, err := NormalizeTargetURL(req.OriginalURL)
	if err != nil {
		return Entry{}, err
	}

	resp, err := s.fetcher.Fetch(ctx, FetchRequest{URL: target.String()})
	if err != nil {
		metrics.IncFetchFailure()
		var fe *FetchError
		if errors.As(err, &fe) {
			return Entry{}, err
		}
		return Entry{}, &FetchError{URL: target.String(), Err: err}
	}
	resp = s.maybeRender(ctx, target.String(), resp)

	decoded := s.repairer.Decode(resp.Body, resp.Charset)
	if decoded.Degraded {
		s.logger.Warn("decoding degraded, storing best-effort text",
			zap.String("url", target.String()))
	} else if decoded.Encoding != "utf-8" {
		metrics.IncEncodingRepair(decoded.Encoding)
	}

	doc := rewrite.Inject([]byte(decoded.Text), rewrite.Snippet{
		PixelID: req.PixelID,
		Code:    req.PixelCode,
	})
	doc = rewrite.ResolveRelative(doc, target)

	id, err := s.ids.NewID()
	if err != nil {
		return Entry{}, fmt.Errorf("generate entry id: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, id, s.cfg.ContentType, doc)
	if err != nil {
		return Entry{}, &StorageError{Op: "put content", Err: err}
	}

	list, err := s.entries.List(ctx)
	if err != nil {
		return Entry{}, &StorageError{Op: "list entries", Err: err}
	}
	list = s.evictOldest(ctx, list)

	viewPath := "/view/" + id
	entry := Entry{
		ID:          id,
		OriginalURL: target.String(),
		PixelID:     req.PixelID,
		PixelCode:   req.PixelCode,
		ViewPath:    viewPath,
		FullURL:     s.fullURL(req.RequestHost, viewPath),
		BlobURI:     uri,
		CreatedAt:   s.clock.Now(),
	}
	list = append(list, entry)
	if err := s.entries.Save(ctx, list); err != nil {
		return Entry{}, &StorageError{Op: "save entries", Err: err}
	}
	metrics.IncEntryCreated()
	s.logger.Info("entry created",
		zap.String("id", id),
		zap.String("original_url", entry.OriginalURL),
		zap.Bool("headless", resp.UsedHeadless))
	return entry, nil
}

// View loads the stored document for id, re-applies injection and path
// resolution (both idempotent), bumps the click count and publishes a
// click event.
func (s *Service) View(ctx context.Context, id string) ([]byte, error) {
	list, err := s.entries.List(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list entries", Err: err}
	}
	idx := indexByID(list, id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	entry := list[idx]

	doc, err := s.blobs.GetObject(ctx, entry.BlobURI)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get content", Err: err}
	}

	doc = rewrite.Inject(doc, rewrite.Snippet{PixelID: entry.PixelID, Code: entry.PixelCode})
	if base, parseErr := url.Parse(entry.OriginalURL); parseErr == nil {
		doc = rewrite.ResolveRelative(doc, base)
	}

	now := s.clock.Now()
	list[idx].Clicks++
	list[idx].LastAccessed = &now
	if err := s.entries.Save(ctx, list); err != nil {
		// A lost click is non-catastrophic; serve the document anyway.
		s.logger.Warn("failed to record click", zap.String("id", id), zap.Error(err))
	}
	metrics.IncView()
	s.publishClick(ctx, list[idx])
	return doc, nil
}

// Delete removes the entry and its backing content. Deleting an unknown
// id reports ErrNotFound and leaves the store unchanged.
func (s *Service) Delete(ctx context.Context, id string) error {
	list, err := s.entries.List(ctx)
	if err != nil {
		return &StorageError{Op: "list entries", Err: err}
	}
	idx := indexByID(list, id)
	if idx < 0 {
		return ErrNotFound
	}
	entry := list[idx]
	if err := s.blobs.DeleteObject(ctx, entry.BlobURI); err != nil && !isNotFound(err) {
		s.logger.Warn("failed to delete content", zap.String("id", id), zap.Error(err))
	}
	list = append(list[:idx], list[idx+1:]...)
	if err := s.entries.Save(ctx, list); err != nil {
		return &StorageError{Op: "save entries", Err: err}
	}
	s.logger.Info("entry deleted", zap.String("id", id))
	return nil
}

// List returns all entries, newest first.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	list, err := s.entries.List(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list entries", Err: err}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// Evict trims the list down to the cap, deleting oldest entries first,
// and persists the result. Used by the maintenance endpoint.
func (s *Service) Evict(ctx context.Context) (int, error) {
	list, err := s.entries.List(ctx)
	if err != nil {
		return 0, &StorageError{Op: "list entries", Err: err}
	}
	before := len(list)
	for len(list) > s.cfg.MaxEntries {
		list = s.removeOldest(ctx, list)
	}
	if len(list) == before {
		return 0, nil
	}
	if err := s.entries.Save(ctx, list); err != nil {
		return 0, &StorageError{Op: "save entries", Err: err}
	}
	return before - len(list), nil
}

// evictOldest makes room for one new entry when the cap is reached.
func (s *Service) evictOldest(ctx context.Context, list []Entry) []Entry {
	for len(list) >= s.cfg.MaxEntries {
		list = s.removeOldest(ctx, list)
	}
	return list
}

func (s *Service) removeOldest(ctx context.Context, list []Entry) []Entry {
	if len(list) == 0 {
		return list
	}
	oldest := 0
	for i := range list {
		if list[i].CreatedAt.Before(list[oldest].CreatedAt) {
			oldest = i
		}
	}
	victim := list[oldest]
	if err := s.blobs.DeleteObject(ctx, victim.BlobURI); err != nil && !isNotFound(err) {
		s.logger.Warn("failed to delete evicted content",
			zap.String("id", victim.ID), zap.Error(err))
	}
	metrics.IncEviction()
	s.logger.Info("evicted oldest entry", zap.String("id", victim.ID))
	return append(list[:oldest], list[oldest+1:]...)
}

func (s *Service) publishClick(ctx context.Context, entry Entry) {
	if s.publisher == nil {
		return
	}
	event := ClickEvent{
		EntryID:     entry.ID,
		OriginalURL: entry.OriginalURL,
		PixelID:     entry.PixelID,
		Clicks:      entry.Clicks,
		OccurredAt:  s.clock.Now(),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.ClickTopic, event); err != nil {
		s.logger.Warn("failed to publish click event",
			zap.String("id", entry.ID), zap.Error(err))
	}
}

func (s *Service) fullURL(requestHost, viewPath string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" && requestHost != "" {
		base = "https://" + requestHost
	}
	return base + viewPath
}

func (s *Service) maybeRender(ctx context.Context, target string, resp FetchResponse) FetchResponse {
	if s.renderer == nil || s.detector == nil || !s.detector.NeedsRender(resp.Body) {
		return resp
	}
	rendered, err := s.renderer.Fetch(ctx, FetchRequest{URL: target})
	if err != nil {
		s.logger.Warn("headless render failed, using plain fetch",
			zap.String("url", target), zap.Error(err))
		return resp
	}
	return rendered
}

// NormalizeTargetURL validates the submitted URL, prefixing https:// when
// no scheme is given.
func NormalizeTargetURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Msg: "original_url is required"}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid url: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Msg: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &ValidationError{Msg: "url has no host"}
	}
	return u, nil
}

func indexByID(list []Entry, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
