// Package collyfetcher implements mirror.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

// Fetcher performs a single HTTP GET per request using a Colly collector.
// No retries: a failed fetch surfaces immediately to the caller.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes one HTTP GET. Non-2xx status and network failures are
// returned as *mirror.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request mirror.FetchRequest) (mirror.FetchResponse, error) {
	var (
		result   mirror.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = mirror.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Charset:    declaredCharset(r.Headers.Get("Content-Type")),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &mirror.FetchError{URL: request.URL, StatusCode: status, Err: err}
	})

	if err := runCollector(ctx, collector, request.URL); err != nil {
		if fetchErr != nil {
			return mirror.FetchResponse{}, fetchErr
		}
		return mirror.FetchResponse{}, &mirror.FetchError{URL: request.URL, Err: err}
	}
	if fetchErr != nil {
		return mirror.FetchResponse{}, fetchErr
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return mirror.FetchResponse{}, &mirror.FetchError{URL: request.URL, StatusCode: result.StatusCode}
	}
	return result, nil
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
}

// declaredCharset extracts the charset parameter from a Content-Type
// header, if any.
func declaredCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
