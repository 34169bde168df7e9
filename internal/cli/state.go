package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lvcoi/dgetmusic/internal/app"
	"github.com/lvcoi/dgetmusic/internal/config"
	"github.com/lvcoi/dgetmusic/internal/credstore"
	"github.com/lvcoi/dgetmusic/internal/db"
	"github.com/lvcoi/dgetmusic/internal/extractor"
	"github.com/lvcoi/dgetmusic/internal/resolver"
	"github.com/lvcoi/dgetmusic/internal/session"
)

// state is everything one command invocation shares. The function fields
// are the seams tests replace.
type state struct {
	v      *viper.Viper
	fs     afero.Fs
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	isTTY     func() bool
	newClient func(cfg *config.Config, fs afero.Fs) extractor.Client
	ask       func(message string) (bool, error)
	pick      func(title string, candidates []resolver.Candidate) (int, error)

	configFile  string
	envFile     string
	sessionFile string
	jsonOutput  bool
	quiet       bool

	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	store    *credstore.Store
	library  *db.Lazy
	svc      *app.Service
}

func newClient(cfg *config.Config, fs afero.Fs) extractor.Client {
	var c extractor.Client
	switch cfg.Extractor.Backend {
	case config.BackendNative:
		c = extractor.NewNative(fs, cfg.Extractor.Timeout, cfg.Extractor.Retries, cfg.Extractor.TLSFingerprint)
	default:
		c = extractor.NewYTDLP(cfg.Extractor.Binary)
	}
	return extractor.WithTimeout(c, cfg.Extractor.Timeout)
}

// service wires the enumerator, resolver and stored credential on first use.
func (st *state) service() (*app.Service, error) {
	if st.svc != nil {
		return st.svc, nil
	}
	cfg := st.cfg

	store, err := credstore.Load(credstore.Source{
		Fs:         st.fs,
		Inline:     cfg.Credentials.Cookies,
		File:       cfg.Credentials.CookiesFile,
		UseKeyring: cfg.Credentials.Keyring,
		Proxy:      cfg.Credentials.Proxy,
	})
	if err != nil {
		return nil, resolver.CategorizedError{Category: resolver.CategoryInvalidInput, Err: err}
	}
	if store.Configured() {
		st.log.Info("stored credential loaded", zap.String("origin", store.Origin()))
	}

	client := st.newClient(cfg, st.fs)
	st.registry = prometheus.NewRegistry()
	metrics := resolver.NewMetrics(st.registry)

	enum := resolver.NewEnumerator(resolver.EnumeratorConfig{
		Client: client,
		Policy: resolver.Policy{
			MaxDuration:         cfg.Search.MaxDuration,
			DropUnknownDuration: cfg.Search.DropUnknownDuration,
			ApplyCapToPlaylist:  cfg.Playlist.ApplyDurationCap,
		},
		Proxy:     store.Proxy(),
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
		Logger:    st.log,
		Metrics:   metrics,
	})
	res := resolver.New(resolver.Config{
		Client:     client,
		Fs:         st.fs,
		TempDir:    cfg.Credentials.TempDir,
		Proxy:      store.Proxy(),
		Format:     cfg.Extractor.Format,
		Transcoder: resolver.NewFFmpegTranscoder(cfg.Transcode.OutputDir, cfg.Transcode.Bitrate, cfg.Transcode.FFmpeg, st.log),
		Logger:     st.log,
		Metrics:    metrics,
	})

	st.store = store
	st.library = db.OpenLazy(cfg.Library.Path)
	st.svc = app.NewService(app.Options{
		Enumerator:      enum,
		Resolver:        res,
		Store:           store,
		Library:         st.library,
		SearchLimit:     cfg.Search.Limit,
		PlaylistPreview: cfg.Playlist.Preview,
		Logger:          st.log,
	})
	return st.svc, nil
}

func (st *state) sessionPath() (string, error) {
	if st.sessionFile != "" {
		return st.sessionFile, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dgetmusic", "session.json"), nil
}

// loadSession restores the previous session. A missing or unreadable file
// yields a fresh session; consent never carries over between runs.
func (st *state) loadSession() *session.Session {
	fresh := session.New(st.cfg.History.Size)
	path, err := st.sessionPath()
	if err != nil {
		st.log.Debug("no session location", zap.Error(err))
		return fresh
	}
	data, err := afero.ReadFile(st.fs, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			st.log.Warn("reading session", zap.String("path", path), zap.Error(err))
		}
		return fresh
	}
	sess := session.New(st.cfg.History.Size)
	if err := json.Unmarshal(data, sess); err != nil {
		st.log.Warn("discarding corrupt session", zap.String("path", path), zap.Error(err))
		return fresh
	}
	sess.HistorySize = st.cfg.History.Size
	sess.Consent = false
	return sess
}

func (st *state) saveSession(sess *session.Session) {
	if err := st.writeSession(sess); err != nil {
		st.log.Warn("saving session", zap.Error(err))
	}
}

func (st *state) writeSession(sess *session.Session) error {
	path, err := st.sessionPath()
	if err != nil {
		return err
	}
	snapshot := *sess
	snapshot.Consent = false
	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := st.fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return afero.WriteFile(st.fs, path, data, 0o600)
}

// readUserCookies loads the end user's cookies.txt for one resolution.
func (st *state) readUserCookies(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := afero.ReadFile(st.fs, path)
	if err != nil {
		return nil, resolver.CategorizedError{Category: resolver.CategoryInvalidInput, Err: fmt.Errorf("read cookies: %w", err)}
	}
	if _, err := extractor.ParseNetscapeCookies(data); err != nil {
		return nil, resolver.CategorizedError{Category: resolver.CategoryInvalidInput, Err: fmt.Errorf("cookies %s: %w", path, err)}
	}
	return data, nil
}

func (st *state) printer() *Printer {
	return newPrinter(st.out, st.errOut, st.quiet)
}
