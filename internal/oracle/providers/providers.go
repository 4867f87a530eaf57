// Package providers contains the concrete oracle client adapters. Each one
// implements domain.OracleProvider; the resilience layer depends only on that
// interface. Adapters are boundary-only: they fetch, parse, and return — all
// fallback, health, and caching policy lives in the oracle package.
package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// base carries the fields every adapter shares.
type base struct {
	name     string
	priority int
	weight   float64
	baseURL  string
	http     *http.Client
}

func newBase(name, baseURL string, priority int, weight float64) base {
	return base{
		name:     name,
		priority: priority,
		weight:   weight,
		baseURL:  baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (b *base) Name() string    { return b.name }
func (b *base) Priority() int   { return b.priority }
func (b *base) Weight() float64 { return b.weight }

// Connect is a no-op for pull-only HTTP adapters.
func (b *base) Connect(ctx context.Context) error { return nil }

// Disconnect is a no-op for pull-only HTTP adapters.
func (b *base) Disconnect() error { return nil }

// Subscribe is a no-op for pull-only HTTP adapters.
func (b *base) Subscribe(ctx context.Context, symbols []string) error { return nil }

// getJSON performs a GET and returns the raw body. Non-2xx statuses are
// errors; the caller decides how to parse.
func (b *base) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", b.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request: %w", b.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", b.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: unexpected status %d: %s", b.name, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
