// Package extractor adapts third-party media extraction backends to a small,
// backend-neutral metadata model.
package extractor

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by backends that cannot perform an operation.
var ErrUnsupported = errors.New("operation not supported by extraction backend")

// Options configures a single extraction call.
type Options struct {
	// CookieFile is a Netscape-format cookie file path, empty for anonymous access.
	CookieFile string
	Proxy      string
	// Format is a backend format selector, e.g. "bestaudio/best".
	Format string
}

// Thumbnail is one thumbnail variant of a media item.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Format is one downloadable rendition of a media item.
type Format struct {
	ID     string  `json:"format_id"`
	URL    string  `json:"url"`
	Ext    string  `json:"ext"`
	ACodec string  `json:"acodec"`
	VCodec string  `json:"vcodec"`
	ABR    float64 `json:"abr"`
	TBR    float64 `json:"tbr"`
}

// Info is the metadata of a single media item, a playlist, or a search result set.
type Info struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	WebpageURL string      `json:"webpage_url"`
	URL        string      `json:"url"`
	Duration   *float64    `json:"duration"`
	Thumbnails []Thumbnail `json:"thumbnails"`
	Formats    []Format    `json:"formats"`
	Entries    []*Info     `json:"entries"`
}

// Client is the capability set the resolver depends on. Implementations must
// not leak backend-native error types beyond their error text.
type Client interface {
	// Search returns up to limit entries in source order.
	Search(ctx context.Context, query string, limit int, opts Options) (*Info, error)
	// Extract returns full metadata, including formats, for a single item.
	Extract(ctx context.Context, url string, opts Options) (*Info, error)
	// Playlist returns flat playlist entries in source order.
	Playlist(ctx context.Context, url string, opts Options) (*Info, error)
}
