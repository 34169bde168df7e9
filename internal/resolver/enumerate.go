package resolver

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lvcoi/dgetmusic/internal/extractor"
)

const untitled = "Untitled"

// Policy is the duration filter applied to enumerated candidates.
type Policy struct {
	// MaxDuration drops longer candidates; zero disables the cap.
	MaxDuration         time.Duration
	DropUnknownDuration bool
	ApplyCapToPlaylist  bool
}

func (p Policy) allows(c Candidate) bool {
	if p.MaxDuration <= 0 {
		return true
	}
	secs, ok := c.Duration.Get()
	if !ok {
		return !p.DropUnknownDuration
	}
	return time.Duration(secs)*time.Second <= p.MaxDuration
}

// EnumeratorConfig wires an Enumerator.
type EnumeratorConfig struct {
	Client    extractor.Client
	Policy    Policy
	Proxy     string
	CacheSize int
	CacheTTL  time.Duration
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Enumerator lists candidates for search queries and member URLs for playlists.
type Enumerator struct {
	client  extractor.Client
	policy  Policy
	opts    extractor.Options
	cache   *expirable.LRU[string, []Candidate]
	group   singleflight.Group
	log     *zap.Logger
	metrics *Metrics
}

func NewEnumerator(cfg EnumeratorConfig) *Enumerator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := &Enumerator{
		client:  cfg.Client,
		policy:  cfg.Policy,
		opts:    extractor.Options{Proxy: cfg.Proxy},
		log:     log.Named("enumerator"),
		metrics: cfg.Metrics,
	}
	if cfg.CacheSize > 0 {
		e.cache = expirable.NewLRU[string, []Candidate](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return e
}

// Search returns up to limit candidates in source order, none longer than the
// policy cap. Backend failures yield an empty slice and a SearchFailed error.
func (e *Enumerator) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Candidate{}, wrapCategory(CategoryInvalidInput, ReasonNotFound, ErrEmptyQuery)
	}
	if limit < 1 {
		limit = 1
	}
	key := fmt.Sprintf("%d\x00%s", limit, query)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			e.metrics.cacheHit()
			return append([]Candidate(nil), cached...), nil
		}
	}

	// The shared call outlives any one caller; the client's own timeout
	// bounds it (see extractor.WithTimeout).
	ch := e.group.DoChan(key, func() (any, error) {
		candidates, err := e.search(context.WithoutCancel(ctx), query, limit)
		if err == nil && e.cache != nil {
			e.cache.Add(key, candidates)
		}
		return candidates, err
	})
	select {
	case <-ctx.Done():
		return []Candidate{}, wrapCategory(CategorySearchFailed, ReasonTemporary, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return []Candidate{}, res.Err
		}
		return append([]Candidate(nil), res.Val.([]Candidate)...), nil
	}
}

func (e *Enumerator) search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	info, err := e.client.Search(ctx, query, limit, e.opts)
	if err != nil {
		_, reason := classifyFailure(err)
		e.metrics.search("search", "error")
		e.log.Warn("search failed", zap.String("query", query), zap.Error(err))
		return nil, wrapCategory(CategorySearchFailed, reason, fmt.Errorf("search %q: %w", query, err))
	}
	candidates := lo.Filter(toCandidates(info), func(c Candidate, _ int) bool {
		return e.policy.allows(c)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	status := "ok"
	if len(candidates) == 0 {
		status = "empty"
	}
	e.metrics.search("search", status)
	e.log.Debug("search complete", zap.String("query", query), zap.Int("results", len(candidates)))
	return candidates, nil
}

// ExpandPlaylist returns the canonical member URLs of a playlist in source
// order. The duration cap applies only when the policy says so.
func (e *Enumerator) ExpandPlaylist(ctx context.Context, url string) ([]string, error) {
	candidates, err := e.playlist(ctx, url)
	if err != nil {
		return []string{}, err
	}
	return lo.Map(candidates, func(c Candidate, _ int) string { return c.CanonicalURL }), nil
}

// PreviewPlaylist returns the first n playlist members as candidates.
func (e *Enumerator) PreviewPlaylist(ctx context.Context, url string, n int) ([]Candidate, error) {
	candidates, err := e.playlist(ctx, url)
	if err != nil {
		return []Candidate{}, err
	}
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

func (e *Enumerator) playlist(ctx context.Context, raw string) ([]Candidate, error) {
	target := playlistURL(raw)
	info, err := e.client.Playlist(ctx, target, e.opts)
	if err != nil {
		_, reason := classifyFailure(err)
		e.metrics.search("playlist", "error")
		e.log.Warn("playlist expansion failed", zap.String("url", target), zap.Error(err))
		return nil, wrapCategory(CategoryPlaylistExpansionFailed, reason, fmt.Errorf("expand playlist %q: %w", target, err))
	}
	candidates := toCandidates(info)
	if e.policy.ApplyCapToPlaylist {
		candidates = lo.Filter(candidates, func(c Candidate, _ int) bool { return e.policy.allows(c) })
	}
	e.metrics.search("playlist", "ok")
	return candidates, nil
}

func toCandidates(info *extractor.Info) []Candidate {
	if info == nil {
		return []Candidate{}
	}
	return lo.FilterMap(info.Entries, func(entry *extractor.Info, _ int) (Candidate, bool) {
		return toCandidate(entry)
	})
}

func toCandidate(entry *extractor.Info) (Candidate, bool) {
	canonical := entryURL(entry)
	if canonical == "" {
		return Candidate{}, false
	}
	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = untitled
	}
	c := Candidate{
		Title:        title,
		CanonicalURL: canonical,
		ExternalID:   mo.EmptyableToOption(entry.ID),
		Duration:     mo.None[int](),
		Thumbnail:    mo.None[string](),
	}
	if entry.Duration != nil {
		c.Duration = mo.Some(int(math.Round(*entry.Duration)))
	}
	for i := len(entry.Thumbnails) - 1; i >= 0; i-- {
		if entry.Thumbnails[i].URL != "" {
			c.Thumbnail = mo.Some(entry.Thumbnails[i].URL)
			break
		}
	}
	return c, true
}
