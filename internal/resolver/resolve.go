package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lvcoi/dgetmusic/internal/extractor"
)

// state is a step of the credential escalation. Transitions only move forward.
type state int

const (
	stateNoCredential state = iota
	stateStoredCredential
	stateUserCredential
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateNoCredential:
		return "no_credential"
	case stateStoredCredential:
		return "stored_credential"
	case stateUserCredential:
		return "user_credential"
	default:
		return "failed"
	}
}

func (s state) tier() Tier {
	switch s {
	case stateStoredCredential:
		return TierStored
	case stateUserCredential:
		return TierUser
	default:
		return TierNone
	}
}

func (s state) next() state {
	if s >= stateFailed {
		return stateFailed
	}
	return s + 1
}

// Transcoder fetches a stream and writes a standard audio file, returning its path.
type Transcoder interface {
	Transcode(ctx context.Context, sourceURL, title string) (string, error)
}

// Config wires a Resolver.
type Config struct {
	Client extractor.Client
	// Fs holds temporary cookie files; it must be the filesystem the
	// extraction backend reads from.
	Fs         afero.Fs
	TempDir    string
	Proxy      string
	Format     string
	Transcoder Transcoder
	Logger     *zap.Logger
	Metrics    *Metrics
}

// Resolver resolves one media URL to an audio stream. It keeps no state
// between calls.
type Resolver struct {
	client     extractor.Client
	fs         afero.Fs
	tempDir    string
	proxy      string
	format     string
	transcoder Transcoder
	log        *zap.Logger
	metrics    *Metrics
}

func New(cfg Config) *Resolver {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Resolver{
		client:     cfg.Client,
		fs:         fs,
		tempDir:    tempDir,
		proxy:      cfg.Proxy,
		format:     cfg.Format,
		transcoder: cfg.Transcoder,
		log:        log.Named("resolver"),
		metrics:    cfg.Metrics,
	}
}

// Resolve walks NO_CREDENTIAL → STORED_CREDENTIAL → USER_CREDENTIAL and stops
// at the first tier that yields a stream. Leaving NO_CREDENTIAL requires a
// restriction-classified failure.
func (r *Resolver) Resolve(ctx context.Context, req Request) (StreamResult, error) {
	start := time.Now()
	target := strings.TrimSpace(req.URL)
	if target == "" {
		return StreamResult{}, wrapCategory(CategoryInvalidInput, ReasonNotFound, ErrEmptyQuery)
	}
	target = NormalizeURL(target)

	stored, hasStored := firstCredential(req.Credentials, OriginStored)
	user, hasUser := firstCredential(req.Credentials, OriginUser)

	var (
		restricted bool
		lastErr    error
		lastReason = ReasonNotFound
	)
	for st := stateNoCredential; st != stateFailed; {
		var cred *Credential
		switch st {
		case stateStoredCredential:
			if !hasStored {
				st = st.next()
				continue
			}
			cred = &stored
		case stateUserCredential:
			if !hasUser {
				st = stateFailed
				continue
			}
			if !user.Offered && (req.Prompt == nil || !req.Prompt.ConsentToCredential(target)) {
				r.log.Info("user credential not offered for this attempt", zap.String("url", target))
				st = stateFailed
				continue
			}
			cred = &user
		}

		info, audioURL, err := r.attempt(ctx, target, cred)
		r.metrics.attempt(st, err == nil)
		if err == nil {
			result := StreamResult{
				AudioURL:             mo.Some(audioURL),
				Title:                mo.Some(titleOf(info)),
				Tier:                 mo.Some(st.tier()),
				StoredCredentialUsed: st == stateStoredCredential,
				FilePath:             mo.None[string](),
			}
			r.log.Info("stream resolved",
				zap.String("url", target),
				zap.String("tier", string(st.tier())),
			)
			if req.Strategy == DownloadAndTranscode {
				return r.transcode(ctx, result, req.Strategy, start)
			}
			r.metrics.resolved(string(st.tier()), "", req.Strategy, time.Since(start))
			return result, nil
		}

		isRestricted, reason := classifyFailure(err)
		lastErr = err
		r.log.Info("extraction attempt failed",
			zap.String("url", target),
			zap.Stringer("tier", st),
			zap.Bool("restricted", isRestricted),
			zap.Error(err),
		)
		if isRestricted {
			restricted = true
			lastReason = ReasonRestricted
		} else if !restricted {
			lastReason = reason
		}

		switch {
		case ctx.Err() != nil:
			st = stateFailed
		case st == stateNoCredential && !isRestricted:
			st = stateFailed
		default:
			st = st.next()
		}
	}

	r.metrics.resolved("", lastReason, req.Strategy, time.Since(start))
	return StreamResult{}, r.finalError(target, restricted, lastReason, lastErr)
}

func (r *Resolver) finalError(target string, restricted bool, reason Reason, lastErr error) error {
	if lastErr == nil {
		lastErr = errors.New("no attempt made")
	}
	var inner error
	if restricted {
		inner = wrapCategory(CategoryRestriction, ReasonRestricted, lastErr)
		return wrapCategory(CategoryUnrecoverableAccess, reason,
			fmt.Errorf("access restricted and no working credential for %s: %w", target, inner))
	}
	inner = wrapCategory(CategoryOtherExtraction, reason, lastErr)
	return wrapCategory(CategoryUnrecoverableAccess, reason,
		fmt.Errorf("resolve %s: %w", target, inner))
}

func (r *Resolver) transcode(ctx context.Context, result StreamResult, strategy Strategy, start time.Time) (StreamResult, error) {
	tier := string(result.Tier.OrEmpty())
	if r.transcoder == nil {
		r.metrics.resolved(tier, ReasonTemporary, strategy, time.Since(start))
		return result, wrapCategory(CategoryOtherExtraction, ReasonTemporary, errors.New("transcoding is not configured"))
	}
	path, err := r.transcoder.Transcode(ctx, result.AudioURL.MustGet(), result.Title.OrEmpty())
	if err != nil {
		r.log.Warn("transcode failed", zap.Error(err))
		r.metrics.resolved(tier, ReasonTemporary, strategy, time.Since(start))
		return result, wrapCategory(CategoryOtherExtraction, ReasonTemporary, fmt.Errorf("transcode: %w", err))
	}
	result.FilePath = mo.Some(path)
	r.metrics.resolved(tier, "", strategy, time.Since(start))
	return result, nil
}

// attempt runs one extraction. A credential's cookie file exists only for the
// duration of the backend call.
func (r *Resolver) attempt(ctx context.Context, target string, cred *Credential) (*extractor.Info, string, error) {
	opts := extractor.Options{Proxy: r.proxy, Format: r.format}
	var cleanup func()
	if cred != nil {
		path, remove, err := r.writeCookieFile(cred.Cookies)
		if err != nil {
			return nil, "", fmt.Errorf("prepare credential: %w", err)
		}
		opts.CookieFile = path
		cleanup = remove
	}

	info, err := r.client.Extract(ctx, target, opts)
	if cleanup != nil {
		cleanup()
	}
	if err != nil {
		return nil, "", err
	}
	audioURL, ok := selectAudio(info)
	if !ok {
		return nil, "", ErrNoUsableFormat
	}
	return info, audioURL, nil
}

func (r *Resolver) writeCookieFile(cookies []byte) (string, func(), error) {
	if err := r.fs.MkdirAll(r.tempDir, 0o700); err != nil {
		return "", nil, err
	}
	path := filepath.Join(r.tempDir, "dgetmusic-cookies-"+uuid.NewString()+".txt")
	f, err := r.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", nil, err
	}
	remove := func() {
		if err := r.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Error("failed to remove temporary cookie file", zap.String("path", path), zap.Error(err))
		}
	}
	if _, err := f.Write(cookies); err != nil {
		f.Close()
		remove()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		remove()
		return "", nil, err
	}
	return path, remove, nil
}

func firstCredential(chain []Credential, origin Origin) (Credential, bool) {
	return lo.Find(chain, func(c Credential) bool {
		return c.Origin == origin && c.usable()
	})
}

func titleOf(info *extractor.Info) string {
	if info == nil || strings.TrimSpace(info.Title) == "" {
		return untitled
	}
	return strings.TrimSpace(info.Title)
}
