// Command pixelmirror serves the tracking-pixel mirror API: it fetches a
// target page, injects an isolated tracking snippet, rewrites relative
// references and serves the result under a generated id.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pixelmirror/pixelmirror/internal/api"
	"github.com/pixelmirror/pixelmirror/internal/charset"
	"github.com/pixelmirror/pixelmirror/internal/clock/system"
	"github.com/pixelmirror/pixelmirror/internal/config"
	collyfetcher "github.com/pixelmirror/pixelmirror/internal/fetcher/colly"
	"github.com/pixelmirror/pixelmirror/internal/fetcher/headless"
	uuidgen "github.com/pixelmirror/pixelmirror/internal/id/uuid"
	"github.com/pixelmirror/pixelmirror/internal/logging"
	"github.com/pixelmirror/pixelmirror/internal/metrics"
	"github.com/pixelmirror/pixelmirror/internal/mirror"
	memorypub "github.com/pixelmirror/pixelmirror/internal/publisher/memory"
	pubsubpub "github.com/pixelmirror/pixelmirror/internal/publisher/pubsub"
	"github.com/pixelmirror/pixelmirror/internal/storage/gcs"
	"github.com/pixelmirror/pixelmirror/internal/storage/local"
	memorystore "github.com/pixelmirror/pixelmirror/internal/storage/memory"
	"github.com/pixelmirror/pixelmirror/internal/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pixelmirror:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := mirror.NewService(
		deps.entries,
		deps.blobs,
		deps.fetcher,
		deps.renderer,
		deps.detector,
		charset.NewRepairer(logger),
		deps.publisher,
		system.New(),
		uuidgen.New(),
		mirror.ServiceConfig{
			MaxEntries:    cfg.Store.MaxEntries,
			PublicBaseURL: cfg.Server.PublicBaseURL,
			ContentType:   cfg.Blob.ContentType,
			ClickTopic:    cfg.Events.Topic,
		},
		logger,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(svc, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies groups the provider-selected collaborators of the service.
type dependencies struct {
	entries   mirror.EntryStore
	blobs     mirror.BlobStore
	fetcher   mirror.Fetcher
	renderer  mirror.Fetcher
	detector  mirror.RenderDetector
	publisher mirror.Publisher
}

// buildDependencies resolves configured providers into concrete adapters.
// The returned cleanup closes everything that was opened; it is safe to
// call even on partial failure.
func buildDependencies(ctx context.Context, cfg config.Config, logger *zap.Logger) (dependencies, func(), error) {
	var deps dependencies
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var localStore *local.Store
	needsLocal := cfg.Store.Provider == "local" || cfg.Blob.Provider == "local"
	if needsLocal {
		store, err := local.New(local.Config{BaseDir: cfg.Store.Dir})
		if err != nil {
			return deps, cleanup, fmt.Errorf("open local store: %w", err)
		}
		localStore = store
	}

	switch cfg.Store.Provider {
	case "memory":
		deps.entries = memorystore.NewEntryStore()
	case "local":
		deps.entries = localStore
	case "postgres":
		store, err := postgres.NewEntryStore(ctx, postgres.EntryStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return deps, cleanup, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, store.Close)
		deps.entries = store
	}

	switch cfg.Blob.Provider {
	case "memory":
		deps.blobs = memorystore.NewBlobStore()
	case "local":
		deps.blobs = localStore
	case "gcs":
		store, err := gcs.New(ctx, gcs.Config{Bucket: cfg.Blob.Bucket, Prefix: cfg.Blob.Prefix})
		if err != nil {
			return deps, cleanup, fmt.Errorf("open gcs bucket: %w", err)
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("close gcs client", zap.Error(err))
			}
		})
		deps.blobs = store
	}

	deps.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		Timeout:        cfg.FetchTimeout(),
	})

	if cfg.Headless.Enabled {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return deps, cleanup, fmt.Errorf("start headless renderer: %w", err)
		}
		closers = append(closers, renderer.Close)
		deps.renderer = renderer
		deps.detector = headless.NewDetector(
			cfg.Headless.MinHTMLBytes,
			cfg.Headless.Selectors,
			cfg.Headless.Keywords,
		)
	}

	switch cfg.Events.Provider {
	case "none":
	case "memory":
		deps.publisher = memorypub.New()
	case "pubsub":
		pub, err := pubsubpub.New(ctx, cfg.Events.ProjectID, cfg.Events.Topic)
		if err != nil {
			return deps, cleanup, fmt.Errorf("connect pubsub: %w", err)
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		})
		deps.publisher = pub
	}

	return deps, cleanup, nil
}
