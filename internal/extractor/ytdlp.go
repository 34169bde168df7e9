package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// YTDLP drives the yt-dlp binary through go-ytdlp.
type YTDLP struct {
	// Binary overrides the yt-dlp executable; empty uses PATH.
	Binary string
}

func NewYTDLP(binary string) *YTDLP {
	return &YTDLP{Binary: binary}
}

func (y *YTDLP) command(opts Options) *ytdlp.Command {
	cmd := ytdlp.New().
		DumpSingleJSON().
		SkipDownload().
		NoWarnings().
		IgnoreConfig()
	if y.Binary != "" {
		cmd = cmd.SetExecutable(y.Binary)
	}
	if opts.CookieFile != "" {
		cmd = cmd.Cookies(opts.CookieFile)
	}
	if opts.Proxy != "" {
		cmd = cmd.Proxy(opts.Proxy)
	}
	return cmd
}

func (y *YTDLP) Search(ctx context.Context, query string, limit int, opts Options) (*Info, error) {
	if limit < 1 {
		limit = 1
	}
	target := fmt.Sprintf("ytsearch%d:%s", limit, query)
	res, err := y.command(opts).FlatPlaylist().Run(ctx, target)
	return decodeResult("search", res, err)
}

func (y *YTDLP) Extract(ctx context.Context, url string, opts Options) (*Info, error) {
	cmd := y.command(opts).NoPlaylist()
	if opts.Format != "" {
		cmd = cmd.Format(opts.Format)
	}
	res, err := cmd.Run(ctx, url)
	return decodeResult("extract", res, err)
}

func (y *YTDLP) Playlist(ctx context.Context, url string, opts Options) (*Info, error) {
	res, err := y.command(opts).FlatPlaylist().Run(ctx, url)
	return decodeResult("playlist", res, err)
}

func decodeResult(op string, res *ytdlp.Result, err error) (*Info, error) {
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return nil, backendError(op, err, stderr)
	}
	if res == nil {
		return nil, fmt.Errorf("yt-dlp %s: empty response", op)
	}
	return decodeInfo(op, []byte(res.Stdout))
}

func decodeInfo(op string, data []byte) (*Info, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, fmt.Errorf("yt-dlp %s: empty response", op)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp %s: decode metadata: %w", op, err)
	}
	return &info, nil
}

// backendError flattens a go-ytdlp failure into plain text, preferring the
// last "ERROR:" line yt-dlp printed since that carries the reason.
func backendError(op string, err error, stderr string) error {
	msg := err.Error()
	if line := lastErrorLine(stderr); line != "" {
		msg = line
	}
	return fmt.Errorf("yt-dlp %s: %s", op, msg)
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	fallback := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
		if fallback == "" {
			fallback = line
		}
	}
	return fallback
}

var _ Client = (*YTDLP)(nil)
