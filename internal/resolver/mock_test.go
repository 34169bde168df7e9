package resolver

import (
	"context"
	"sync"

	"github.com/spf13/afero"

	"github.com/lvcoi/dgetmusic/internal/extractor"
)

// mockClient is a test double that satisfies extractor.Client.
type mockClient struct {
	searchFn   func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error)
	extractFn  func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error)
	playlistFn func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error)

	mu       sync.Mutex
	searches int
	extracts []extractor.Options
}

func (m *mockClient) Search(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
	m.mu.Lock()
	m.searches++
	m.mu.Unlock()
	if m.searchFn != nil {
		return m.searchFn(ctx, query, limit, opts)
	}
	return &extractor.Info{}, nil
}

func (m *mockClient) Extract(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
	m.mu.Lock()
	m.extracts = append(m.extracts, opts)
	m.mu.Unlock()
	if m.extractFn != nil {
		return m.extractFn(ctx, url, opts)
	}
	return &extractor.Info{}, nil
}

func (m *mockClient) Playlist(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
	if m.playlistFn != nil {
		return m.playlistFn(ctx, url, opts)
	}
	return &extractor.Info{}, nil
}

func (m *mockClient) extractCalls() []extractor.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]extractor.Options(nil), m.extracts...)
}

var _ extractor.Client = (*mockClient)(nil)

func seconds(v float64) *float64 { return &v }

func audioInfo(title string) *extractor.Info {
	return &extractor.Info{
		ID:    "dQw4w9WgXcQ",
		Title: title,
		Formats: []extractor.Format{
			{ID: "18", URL: "https://cdn/muxed", ACodec: "mp4a.40.2", VCodec: "avc1", TBR: 500},
			{ID: "140", URL: "https://cdn/m4a", ACodec: "mp4a.40.2", VCodec: "none", ABR: 129},
			{ID: "251", URL: "https://cdn/opus", ACodec: "opus", VCodec: "none", ABR: 160},
		},
	}
}

// cookieContents reads the cookie file an attempt was given, if any.
func cookieContents(fs afero.Fs, opts extractor.Options) string {
	if opts.CookieFile == "" {
		return ""
	}
	data, err := afero.ReadFile(fs, opts.CookieFile)
	if err != nil {
		return ""
	}
	return string(data)
}
