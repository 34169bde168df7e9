package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvcoi/dgetmusic/internal/app"
	"github.com/lvcoi/dgetmusic/internal/extractor"
	"github.com/lvcoi/dgetmusic/internal/resolver"
	"github.com/lvcoi/dgetmusic/internal/session"
	"github.com/lvcoi/dgetmusic/internal/ws"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

const (
	jobCompletedTTL    = 15 * time.Minute
	jobErroredTTL      = 30 * time.Minute
	jobCleanupInterval = time.Minute
)

type Options struct {
	Service         *app.Service
	Hub             *ws.Hub
	Registry        *prometheus.Registry
	MediaDir        string
	HistorySize     int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Server exposes the app flows as a JSON API.
type Server struct {
	svc             *app.Service
	hub             *ws.Hub
	pool            *Pool
	tracker         *jobTracker
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	mediaDir        string
	historySize     int
	shutdownTimeout time.Duration
	startedAt       time.Time
	log             *zap.Logger
}

func NewServer(opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	hub := opts.Hub
	if hub == nil {
		hub = ws.NewHub(log)
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	mediaDir, err := filepath.Abs(opts.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("resolving media directory: %w", err)
	}
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	shutdown := opts.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}

	s := &Server{
		svc:             opts.Service,
		hub:             hub,
		pool:            NewPool(1, hub),
		tracker:         &jobTracker{},
		registry:        registry,
		mediaDir:        mediaDir,
		historySize:     opts.HistorySize,
		shutdownTimeout: shutdown,
		startedAt:       time.Now(),
		log:             log.Named("web"),
	}
	s.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgetmusic_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "code"},
	)
	activeJobs := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dgetmusic_batch_jobs_active",
			Help: "Batch jobs queued or running",
		},
		func() float64 { return float64(s.tracker.ActiveCount()) },
	)
	if err := registry.Register(s.requests); err != nil {
		return nil, err
	}
	if err := registry.Register(activeJobs); err != nil {
		return nil, err
	}
	return s, nil
}

type sessionRequest struct {
	Session *session.Session `json:"session,omitempty"`
}

type searchRequest struct {
	sessionRequest
	Query string `json:"query"`
}

type playlistRequest struct {
	sessionRequest
	URL string `json:"url"`
}

type resolveRequest struct {
	sessionRequest
	URL string `json:"url"`
	// Input is free-form text for /api/play.
	Input     string `json:"input,omitempty"`
	Cookies   string `json:"cookies,omitempty"`
	Consent   bool   `json:"consent,omitempty"`
	Transcode bool   `json:"transcode,omitempty"`
}

type batchRequest struct {
	Input     string `json:"input"`
	Cookies   string `json:"cookies,omitempty"`
	Consent   bool   `json:"consent,omitempty"`
	Transcode bool   `json:"transcode,omitempty"`
}

type errorResponse struct {
	Type     string           `json:"type"`
	Status   string           `json:"status"`
	Error    string           `json:"error"`
	Category string           `json:"category,omitempty"`
	Session  *session.Session `json:"session,omitempty"`
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

func (s *Server) session(req sessionRequest) *session.Session {
	if req.Session != nil {
		if req.Session.HistorySize <= 0 {
			req.Session.HistorySize = s.historySize
		}
		return req.Session
	}
	return session.New(s.historySize)
}

func (s *Server) resolveOptions(cookies string, transcode bool) (app.ResolveOptions, *requestError) {
	opts := app.ResolveOptions{Strategy: resolver.StreamOnly}
	if transcode {
		opts.Strategy = resolver.DownloadAndTranscode
	}
	if strings.TrimSpace(cookies) != "" {
		if _, err := extractor.ParseNetscapeCookies([]byte(cookies)); err != nil {
			return opts, &requestError{http.StatusBadRequest, "cookies must be in Netscape cookies.txt format"}
		}
		opts.UserCookies = []byte(cookies)
	}
	return opts, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "/api/search", http.MethodPost, s.handleSearch)
	s.route(mux, "/api/play", http.MethodPost, s.handlePlay)
	s.route(mux, "/api/resolve", http.MethodPost, s.handleResolve)
	s.route(mux, "/api/playlist", http.MethodPost, s.handlePlaylist)
	s.route(mux, "/api/batch", http.MethodPost, s.handleBatch)
	s.route(mux, "/api/jobs/", http.MethodGet, s.handleJob)
	s.route(mux, "/api/library", http.MethodGet, s.handleLibrary)
	s.route(mux, "/media/", http.MethodGet, s.handleMedia)
	s.route(mux, "/healthz", http.MethodGet, s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.hub.HandleWS)
	return withSecurityHeaders(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern, method string, h http.HandlerFunc) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h(w, r)
	})
	counter := s.requests.MustCurryWith(prometheus.Labels{"route": pattern})
	mux.Handle(pattern, promhttp.InstrumentHandlerCounter(counter, handler))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	sess := s.session(req.sessionRequest)
	candidates, err := s.svc.Search(r.Context(), sess, req.Query)
	if err != nil {
		s.writeFailure(w, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"message":    emptyMessage(len(candidates)),
		"session":    sess,
	})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	input := req.Input
	if input == "" {
		input = req.URL
	}
	opts, reqErr := s.resolveOptions(req.Cookies, req.Transcode)
	if reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	sess := s.session(req.sessionRequest)
	if req.Consent {
		sess.GrantConsent()
	}
	result, err := s.svc.Play(r.Context(), sess, input, opts)
	if err != nil {
		s.writeFailure(w, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":    result,
		"media_url": mediaURL(result.Stream),
		"session":   sess,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}
	opts, reqErr := s.resolveOptions(req.Cookies, req.Transcode)
	if reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	sess := s.session(req.sessionRequest)
	if req.Consent {
		sess.GrantConsent()
	}
	stream, err := s.svc.Resolve(r.Context(), sess, req.URL, opts)
	if err != nil {
		s.writeFailure(w, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":    stream,
		"media_url": mediaURL(&stream),
		"session":   sess,
	})
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}
	sess := s.session(req.sessionRequest)
	candidates, err := s.svc.Playlist(r.Context(), sess, req.URL)
	if err != nil {
		s.writeFailure(w, err, sess)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"message":    emptyMessage(len(candidates)),
		"session":    sess,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	items := app.SplitBatch(req.Input)
	if len(items) == 0 {
		writeJSONError(w, http.StatusBadRequest, "no items provided")
		return
	}
	opts, reqErr := s.resolveOptions(req.Cookies, req.Transcode)
	if reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	consent := req.Consent
	opts.Prompt = resolver.PrompterFunc(func(string) bool { return consent })

	job := s.tracker.Create(items)
	s.pool.AddTask(Task{
		ID: job.ID,
		Execute: func(ctx context.Context) int {
			job.SetStatus(statusRunning)
			results, exitCode := s.svc.Batch(ctx, session.New(s.historySize), req.Input, opts, s.observer(job))
			job.SetOutcome(results, exitCode)
			return exitCode
		},
		OnFinish: func(id string, exitCode int) {
			v := job.view()
			s.hub.Broadcast(ws.WSMessage{
				Type:    "job",
				Payload: ws.JobPayload{JobID: id, Status: v.Status, Done: v.Done, Total: v.Total},
			})
			s.log.Info("batch finished", zap.String("job", id), zap.Int("exit_code", exitCode))
		},
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  statusQueued,
		"job_id":  job.ID,
		"message": fmt.Sprintf("Batch started for %d item(s).", len(items)),
	})
}

func (s *Server) observer(job *Job) app.Observer {
	return func(e app.Event) {
		payload := ws.ItemPayload{JobID: job.ID, Index: e.Index, Total: e.Total, Item: e.Item, Status: e.Type}
		if e.Result != nil {
			job.AddResult(*e.Result)
			payload.Message = e.Result.Message
			if e.Result.Stream != nil {
				payload.Title = e.Result.Stream.Title.OrEmpty()
			}
		}
		s.hub.Broadcast(ws.WSMessage{Type: "item", Payload: payload})
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONError(w, http.StatusBadRequest, "missing job id")
		return
	}
	job, ok := s.tracker.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.view())
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	tracks, err := s.svc.Tracks(r.Context(), limit, offset)
	if err != nil {
		s.log.Warn("listing library", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "library unavailable")
		return
	}
	items := make([]map[string]any, 0, len(tracks))
	for _, t := range tracks {
		items = append(items, map[string]any{
			"track":     t,
			"media_url": mediaFileURL(t.FilePath),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": items})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/media/")
	if name == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	fullPath, status, err := resolveMediaPath(s.mediaDir, name)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	http.ServeFile(w, r, fullPath)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"service":           "dgetmusic",
		"uptime":            time.Since(s.startedAt).Truncate(time.Second).String(),
		"active_jobs":       s.tracker.ActiveCount(),
		"ws_clients":        s.hub.Clients(),
		"stored_credential": s.svc.StoredCredential(),
	})
}

// Start launches the hub, the batch pool and job cleanup. They stop with ctx.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
	s.pool.Start(ctx)
	s.tracker.StartCleanup(ctx, jobCleanupInterval, jobCompletedTTL, jobErroredTTL)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", addr), zap.String("media_dir", s.mediaDir))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.pool.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown incomplete", zap.Error(err))
			return err
		}
		s.log.Info("server stopped")
		return nil
	})
	return g.Wait()
}

func (s *Server) writeFailure(w http.ResponseWriter, err error, sess *session.Session) {
	writeJSON(w, failureStatus(err), errorResponse{
		Type:     "error",
		Status:   "error",
		Error:    resolver.UserMessage(err),
		Category: string(resolver.CategoryOf(err)),
		Session:  sess,
	})
}

func failureStatus(err error) int {
	if resolver.CategoryOf(err) == resolver.CategoryInvalidInput {
		return http.StatusBadRequest
	}
	switch resolver.ReasonOf(err) {
	case resolver.ReasonNotFound:
		return http.StatusNotFound
	case resolver.ReasonRestricted:
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}

func emptyMessage(n int) string {
	if n == 0 {
		return resolver.MessageNoResults
	}
	return ""
}

func mediaURL(stream *resolver.StreamResult) string {
	if stream == nil {
		return ""
	}
	path, ok := stream.FilePath.Get()
	if !ok {
		return ""
	}
	return mediaFileURL(path)
}

func mediaFileURL(path string) string {
	return "/media/" + url.PathEscape(filepath.Base(path))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{
		Type:   "error",
		Status: "error",
		Error:  message,
	})
}

func withSecurityHeaders(next http.Handler) http.Handler {
	const cspValue = "default-src 'self'; base-uri 'self'; frame-ancestors 'none'; object-src 'none'; media-src 'self'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", cspValue)
		next.ServeHTTP(w, r)
	})
}

func resolveMediaPath(mediaDir, reqPath string) (string, int, error) {
	cleaned := filepath.Clean(reqPath)
	if cleaned == "." || cleaned == "" {
		return "", http.StatusBadRequest, fmt.Errorf("invalid path")
	}
	if strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", http.StatusBadRequest, fmt.Errorf("invalid path")
	}

	fullPath := filepath.Join(mediaDir, cleaned)
	realMediaDir, err := resolveRealPath(mediaDir)
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("failed to resolve media directory")
	}
	realTargetPath, err := resolveRealPath(fullPath)
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("invalid path")
	}
	rel, err := filepath.Rel(realMediaDir, realTargetPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", http.StatusForbidden, fmt.Errorf("access denied")
	}
	if _, err := os.Stat(fullPath); err != nil {
		return "", http.StatusNotFound, fmt.Errorf("not found")
	}
	return fullPath, 0, nil
}

func resolveRealPath(path string) (string, error) {
	cleaned := filepath.Clean(path)
	realPath, err := filepath.EvalSymlinks(cleaned)
	if err == nil {
		return realPath, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(cleaned)
	if parent == cleaned {
		return "", err
	}

	realParent, parentErr := resolveRealPath(parent)
	if parentErr != nil {
		return "", parentErr
	}
	return filepath.Join(realParent, filepath.Base(cleaned)), nil
}
