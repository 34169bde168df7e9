package extractor

import (
	"context"
	"time"
)

// WithTimeout bounds every backend call made through c by d. A non-positive d
// returns c unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{next: c, timeout: d}
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

func (t *timeoutClient) Search(ctx context.Context, query string, limit int, opts Options) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Search(ctx, query, limit, opts)
}

func (t *timeoutClient) Extract(ctx context.Context, url string, opts Options) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Extract(ctx, url, opts)
}

func (t *timeoutClient) Playlist(ctx context.Context, url string, opts Options) (*Info, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Playlist(ctx, url, opts)
}
