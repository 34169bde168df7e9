package extractor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/spf13/afero"
)

// videoClient is the subset of *youtube.Client the native backend uses.
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetPlaylistContext(ctx context.Context, url string) (*youtube.Playlist, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

var _ videoClient = (*youtube.Client)(nil)

// Native extracts metadata in-process with kkdai/youtube. It cannot search.
type Native struct {
	Fs             afero.Fs
	Timeout        time.Duration
	Retries        int
	TLSFingerprint bool

	newClient func(opts Options) (videoClient, error)
}

func NewNative(fs afero.Fs, timeout time.Duration, retries int, tlsFingerprint bool) *Native {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	n := &Native{Fs: fs, Timeout: timeout, Retries: retries, TLSFingerprint: tlsFingerprint}
	n.newClient = n.buildClient
	return n
}

func (n *Native) buildClient(opts Options) (videoClient, error) {
	transport, err := newTransport(transportConfig{
		Proxy:          opts.Proxy,
		TLSFingerprint: n.TLSFingerprint,
		Retry:          retryConfigWithAttempts(n.Retries),
	})
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: n.Timeout, Transport: transport}
	if opts.CookieFile != "" {
		data, err := afero.ReadFile(n.Fs, opts.CookieFile)
		if err != nil {
			return nil, fmt.Errorf("read cookie file: %w", err)
		}
		cookies, err := ParseNetscapeCookies(data)
		if err != nil {
			return nil, err
		}
		jar, err := newCookieJar(cookies)
		if err != nil {
			return nil, err
		}
		httpClient.Jar = jar
	}
	return &youtube.Client{HTTPClient: httpClient}, nil
}

func (n *Native) Search(ctx context.Context, query string, limit int, opts Options) (*Info, error) {
	return nil, fmt.Errorf("native search: %w", ErrUnsupported)
}

func (n *Native) Extract(ctx context.Context, url string, opts Options) (*Info, error) {
	client, err := n.newClient(opts)
	if err != nil {
		return nil, err
	}
	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("native extract: %s", err.Error())
	}

	info := &Info{
		ID:         video.ID,
		Title:      video.Title,
		WebpageURL: "https://www.youtube.com/watch?v=" + video.ID,
		Thumbnails: convertThumbnails(video.Thumbnails),
	}
	if video.Duration > 0 {
		secs := video.Duration.Seconds()
		info.Duration = &secs
	}
	for i := range video.Formats {
		f := &video.Formats[i]
		streamURL := f.URL
		if streamURL == "" {
			// Ciphered formats need the player; an unusable one simply has no URL.
			if resolved, err := client.GetStreamURLContext(ctx, video, f); err == nil {
				streamURL = resolved
			}
		}
		info.Formats = append(info.Formats, convertFormat(f, streamURL))
	}
	return info, nil
}

func (n *Native) Playlist(ctx context.Context, url string, opts Options) (*Info, error) {
	client, err := n.newClient(opts)
	if err != nil {
		return nil, err
	}
	playlist, err := client.GetPlaylistContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("native playlist: %s", err.Error())
	}
	info := &Info{ID: playlist.ID, Title: playlist.Title}
	for _, entry := range playlist.Videos {
		if entry == nil {
			continue
		}
		item := &Info{
			ID:         entry.ID,
			Title:      entry.Title,
			Thumbnails: convertThumbnails(entry.Thumbnails),
		}
		if entry.Duration > 0 {
			secs := entry.Duration.Seconds()
			item.Duration = &secs
		}
		info.Entries = append(info.Entries, item)
	}
	return info, nil
}

func convertThumbnails(in youtube.Thumbnails) []Thumbnail {
	out := make([]Thumbnail, 0, len(in))
	for _, t := range in {
		out = append(out, Thumbnail{URL: t.URL, Width: int(t.Width), Height: int(t.Height)})
	}
	return out
}

func convertFormat(f *youtube.Format, streamURL string) Format {
	mediaType, codecs := splitMimeType(f.MimeType)
	out := Format{
		ID:     strconv.Itoa(f.ItagNo),
		URL:    streamURL,
		Ext:    extForMime(mediaType),
		ACodec: "none",
		VCodec: "none",
	}
	if strings.HasPrefix(mediaType, "audio/") {
		if len(codecs) > 0 {
			out.ACodec = codecs[0]
		}
	} else {
		if len(codecs) > 0 {
			out.VCodec = codecs[0]
		}
		if f.AudioChannels > 0 && len(codecs) > 1 {
			out.ACodec = codecs[1]
		}
	}
	bitrate := f.Bitrate
	if bitrate == 0 {
		bitrate = f.AverageBitrate
	}
	out.TBR = float64(bitrate) / 1000
	if out.VCodec == "none" {
		out.ABR = out.TBR
	}
	return out
}

// splitMimeType splits `audio/webm; codecs="opus"` into "audio/webm" and ["opus"].
func splitMimeType(mime string) (string, []string) {
	parts := strings.SplitN(mime, ";", 2)
	mediaType := strings.TrimSpace(strings.ToLower(parts[0]))
	if len(parts) < 2 {
		return mediaType, nil
	}
	params := strings.TrimSpace(parts[1])
	params = strings.TrimPrefix(params, "codecs=")
	params = strings.Trim(params, `"`)
	var codecs []string
	for _, c := range strings.Split(params, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codecs = append(codecs, c)
		}
	}
	return mediaType, codecs
}

func extForMime(mediaType string) string {
	switch mediaType {
	case "audio/mp4":
		return "m4a"
	case "audio/webm", "video/webm":
		return "webm"
	case "video/mp4":
		return "mp4"
	case "video/3gpp":
		return "3gp"
	}
	if i := strings.Index(mediaType, "/"); i >= 0 {
		return mediaType[i+1:]
	}
	return ""
}

var _ Client = (*Native)(nil)
