// Package gcs implements a Google Cloud Storage blob store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

// Config controls the GCS blob store.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes rewritten documents to a GCS bucket.
// Authentication uses Application Default Credentials.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS client and verifies the bucket is reachable, failing
// fast on startup when configuration is wrong.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get bucket %q attributes: %w", cfg.Bucket, err)
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// PutObject uploads the document and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, id string, contentType string, data []byte) (string, error) {
	name := s.objectName(id)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// GetObject downloads the document behind a gs:// URI.
func (s *BlobStore) GetObject(ctx context.Context, uri string) ([]byte, error) {
	bucket, name, err := parseURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s: %w", name, mirror.ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", name, err)
	}
	defer func() {
		_ = r.Close()
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", name, err)
	}
	return data, nil
}

// DeleteObject removes the document behind a gs:// URI. A missing object
// is not an error.
func (s *BlobStore) DeleteObject(ctx context.Context, uri string) error {
	bucket, name, err := parseURI(uri)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(bucket).Object(name).Delete(ctx); err != nil &&
		!errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", name, err)
	}
	return nil
}

func (s *BlobStore) objectName(id string) string {
	if s.prefix == "" {
		return id + ".html"
	}
	return s.prefix + "/" + id + ".html"
}

func parseURI(uri string) (bucket, name string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if trimmed == uri {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed gs:// uri: %q", uri)
	}
	return parts[0], parts[1], nil
}
