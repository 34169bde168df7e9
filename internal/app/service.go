// Package app ties the enumerator, resolver and stored credential together
// into the flows the CLI and web front ends expose.
package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lvcoi/dgetmusic/internal/credstore"
	"github.com/lvcoi/dgetmusic/internal/db"
	"github.com/lvcoi/dgetmusic/internal/resolver"
	"github.com/lvcoi/dgetmusic/internal/session"
)

// SuggestionCount is how many search hits Play offers for selection.
const SuggestionCount = 5

// Enumerator is the subset of *resolver.Enumerator the service needs.
type Enumerator interface {
	Search(ctx context.Context, query string, limit int) ([]resolver.Candidate, error)
	PreviewPlaylist(ctx context.Context, url string, n int) ([]resolver.Candidate, error)
	ExpandPlaylist(ctx context.Context, url string) ([]string, error)
}

// Resolver is the subset of *resolver.Resolver the service needs.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (resolver.StreamResult, error)
}

// Library catalogues transcoded tracks.
type Library interface {
	Record(ctx context.Context, t db.Track) (int64, error)
	List(ctx context.Context, limit, offset int) ([]db.Track, error)
}

type Options struct {
	Enumerator      Enumerator
	Resolver        Resolver
	Store           *credstore.Store
	Library         Library
	SearchLimit     int
	PlaylistPreview int
	Logger          *zap.Logger
}

type Service struct {
	enum        Enumerator
	res         Resolver
	store       *credstore.Store
	library     Library
	searchLimit int
	preview     int
	log         *zap.Logger
}

func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := opts.SearchLimit
	if limit <= 0 {
		limit = 10
	}
	preview := opts.PlaylistPreview
	if preview <= 0 {
		preview = 10
	}
	return &Service{
		enum:        opts.Enumerator,
		res:         opts.Resolver,
		store:       opts.Store,
		library:     opts.Library,
		searchLimit: limit,
		preview:     preview,
		log:         log.Named("app"),
	}
}

// ResolveOptions carries the per-call inputs of a resolution.
type ResolveOptions struct {
	// UserCookies is the end user's own cookies.txt, used only at the last tier.
	UserCookies []byte
	Strategy    resolver.Strategy
	Prompt      resolver.Prompter
}

// PlayResult is what Play hands back to a front end. Exactly one of
// Candidates or Stream is meaningful, depending on Kind.
type PlayResult struct {
	Kind       string                 `json:"kind"`
	Candidates []resolver.Candidate   `json:"candidates,omitempty"`
	Stream     *resolver.StreamResult `json:"stream,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

// Search runs a query, records it in the session and stores the results.
func (s *Service) Search(ctx context.Context, sess *session.Session, query string) ([]resolver.Candidate, error) {
	sess.Remember(query)
	candidates, err := s.enum.Search(ctx, query, s.searchLimit)
	sess.SetResults(candidates)
	return candidates, err
}

// Playlist previews the first members of a playlist into the session.
func (s *Service) Playlist(ctx context.Context, sess *session.Session, url string) ([]resolver.Candidate, error) {
	candidates, err := s.enum.PreviewPlaylist(ctx, url, s.preview)
	sess.SetResults(candidates)
	return candidates, err
}

// ExpandPlaylist returns every member URL of a playlist in order.
func (s *Service) ExpandPlaylist(ctx context.Context, url string) ([]string, error) {
	return s.enum.ExpandPlaylist(ctx, url)
}

// Play classifies free-form input and does the natural thing for it: preview
// a playlist, resolve a direct URL, or offer the top search hits.
func (s *Service) Play(ctx context.Context, sess *session.Session, input string, opts ResolveOptions) (PlayResult, error) {
	input = strings.TrimSpace(input)
	kind := resolver.Classify(input)
	result := PlayResult{Kind: kind.String()}
	if input != "" {
		sess.Remember(input)
	}
	s.log.Debug("play", zap.Stringer("kind", kind))

	switch kind {
	case resolver.KindPlaylistURL:
		candidates, err := s.enum.PreviewPlaylist(ctx, input, s.preview)
		sess.SetResults(candidates)
		result.Candidates = candidates
		if err != nil {
			result.Message = resolver.UserMessage(err)
			return result, err
		}
		if len(candidates) == 0 {
			result.Message = resolver.MessageNoResults
		}
		return result, nil

	case resolver.KindDirectURL:
		stream, err := s.Resolve(ctx, sess, input, opts)
		if err != nil {
			result.Message = resolver.UserMessage(err)
			return result, err
		}
		result.Stream = &stream
		return result, nil

	default:
		candidates, err := s.enum.Search(ctx, input, s.searchLimit)
		if len(candidates) > SuggestionCount {
			candidates = candidates[:SuggestionCount]
		}
		sess.SetResults(candidates)
		result.Candidates = candidates
		if err != nil {
			result.Message = resolver.UserMessage(err)
			return result, err
		}
		if len(candidates) == 0 {
			result.Message = resolver.MessageNoResults
		}
		return result, nil
	}
}

// Resolve resolves one URL with the stored credential and, when the session
// carries consent, the user's own cookies.
func (s *Service) Resolve(ctx context.Context, sess *session.Session, url string, opts ResolveOptions) (resolver.StreamResult, error) {
	req := resolver.Request{
		URL:         url,
		Credentials: s.credentials(sess, opts.UserCookies),
		Strategy:    opts.Strategy,
		Prompt:      opts.Prompt,
	}
	stream, err := s.res.Resolve(ctx, req)
	if err != nil {
		s.log.Info("resolve failed",
			zap.String("url", url),
			zap.String("category", string(resolver.CategoryOf(err))),
			zap.String("reason", string(resolver.ReasonOf(err))),
		)
		return stream, err
	}
	if sess != nil {
		sess.Selected = resolver.NormalizeURL(url)
	}
	s.catalogue(ctx, url, stream)
	return stream, nil
}

// catalogue records a transcoded file. Failing to record never fails the
// resolution.
func (s *Service) catalogue(ctx context.Context, url string, stream resolver.StreamResult) {
	path, ok := stream.FilePath.Get()
	if !ok || s.library == nil {
		return
	}
	track := db.Track{
		Title:                stream.Title.OrElse(""),
		VideoID:              resolver.VideoID(url),
		SourceURL:            resolver.NormalizeURL(url),
		FilePath:             path,
		Tier:                 string(stream.Tier.OrElse(resolver.TierNone)),
		StoredCredentialUsed: stream.StoredCredentialUsed,
	}
	if _, err := s.library.Record(ctx, track); err != nil {
		s.log.Warn("catalogue transcoded track", zap.String("path", path), zap.Error(err))
	}
}

// Tracks lists catalogued tracks newest first; without a library it is empty.
func (s *Service) Tracks(ctx context.Context, limit, offset int) ([]db.Track, error) {
	if s.library == nil {
		return []db.Track{}, nil
	}
	return s.library.List(ctx, limit, offset)
}

func (s *Service) credentials(sess *session.Session, userCookies []byte) []resolver.Credential {
	var chain []resolver.Credential
	if cred, ok := s.store.Credential(); ok {
		chain = append(chain, cred)
	}
	consent := sess != nil && sess.TakeConsent()
	if len(userCookies) > 0 {
		chain = append(chain, resolver.Credential{
			Origin:  resolver.OriginUser,
			Cookies: userCookies,
			Offered: consent,
		})
	}
	return chain
}

// StoredCredential reports whether the operator configured cookies.
func (s *Service) StoredCredential() bool {
	return s.store.Configured()
}
