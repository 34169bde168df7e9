package resolver

import (
	"net/url"
	"strings"

	"github.com/lvcoi/dgetmusic/internal/extractor"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// CanonicalURL returns the watch URL for an 11-character video id, or "" otherwise.
func CanonicalURL(id string) string {
	if !videoIDRegex.MatchString(id) {
		return ""
	}
	return watchURLPrefix + id
}

// VideoID extracts the video id from any watch/short/embed URL form, or "".
func VideoID(raw string) string {
	parsed, ok := parseLooseURL(strings.TrimSpace(raw))
	if !ok || !isVideoHost(parsed) {
		return ""
	}
	var id string
	if normalizeHostname(parsed) == "youtu.be" {
		id = strings.Trim(parsed.Path, "/")
	} else if v := parsed.Query().Get("v"); v != "" {
		id = v
	} else {
		parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "shorts", "live", "embed", "v":
				id = parts[1]
			}
		}
	}
	if !videoIDRegex.MatchString(id) {
		return ""
	}
	return id
}

// NormalizeURL rewrites music, short-link, shorts and live forms to the
// canonical watch URL. Inputs without a recognizable id are returned as-is.
func NormalizeURL(raw string) string {
	if id := VideoID(raw); id != "" {
		return CanonicalURL(id)
	}
	parsed, ok := parseLooseURL(strings.TrimSpace(raw))
	if !ok {
		return raw
	}
	if normalizeHostname(parsed) == "music.youtube.com" {
		parsed.Host = "www.youtube.com"
		query := parsed.Query()
		delete(query, "si")
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}
	return parsed.String()
}

// entryURL canonicalizes one backend entry: an 11-char id wins, then the
// webpage URL, then the raw URL, then the id itself.
func entryURL(entry *extractor.Info) string {
	if entry == nil {
		return ""
	}
	if u := CanonicalURL(entry.ID); u != "" {
		return u
	}
	if entry.WebpageURL != "" {
		return entry.WebpageURL
	}
	if entry.URL != "" {
		return entry.URL
	}
	return entry.ID
}

// playlistID returns the list= parameter of a playlist URL, if any.
func playlistID(raw string) string {
	idx := strings.Index(raw, playlistMarker)
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len(playlistMarker):]
	if end := strings.IndexAny(rest, "&#"); end >= 0 {
		rest = rest[:end]
	}
	id, err := url.QueryUnescape(rest)
	if err != nil {
		return rest
	}
	return id
}

// playlistURL turns bare "list=ID" text into a fetchable playlist URL.
func playlistURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if parsed, ok := parseLooseURL(raw); ok {
		return parsed.String()
	}
	if id := playlistID(raw); id != "" {
		return "https://www.youtube.com/playlist?list=" + url.QueryEscape(id)
	}
	return raw
}
