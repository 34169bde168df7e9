package resolver

import (
	"net/url"
	"regexp"
	"strings"
)

const playlistMarker = "list="

var videoIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var videoHosts = map[string]bool{
	"youtube.com":          true,
	"m.youtube.com":        true,
	"music.youtube.com":    true,
	"youtu.be":             true,
	"youtube-nocookie.com": true,
}

// Classify decides what kind of input text is. It never fails; empty or
// unparseable text is a search query.
func Classify(text string) Kind {
	text = strings.TrimSpace(text)
	if text == "" {
		return KindSearchQuery
	}
	if strings.Contains(text, playlistMarker) {
		return KindPlaylistURL
	}
	parsed, ok := parseLooseURL(text)
	if ok && isVideoHost(parsed) {
		if strings.TrimSuffix(parsed.Path, "/") == "/playlist" {
			return KindPlaylistURL
		}
		return KindDirectURL
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "youtube.com/watch") || strings.Contains(lower, "youtu.be/") {
		return KindDirectURL
	}
	return KindSearchQuery
}

// parseLooseURL accepts URLs with or without a scheme, but never bare words.
func parseLooseURL(text string) (*url.URL, bool) {
	if strings.ContainsAny(text, " \t\n") {
		return nil, false
	}
	candidate := text
	if !strings.Contains(candidate, "://") {
		if !strings.Contains(candidate, ".") || !strings.Contains(candidate, "/") {
			return nil, false
		}
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return nil, false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}
	return parsed, true
}

func normalizeHostname(parsed *url.URL) string {
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func isVideoHost(parsed *url.URL) bool {
	return videoHosts[normalizeHostname(parsed)]
}
