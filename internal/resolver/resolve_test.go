package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"

	"github.com/lvcoi/dgetmusic/internal/extractor"
)

const (
	storedCookies = ".youtube.com\tTRUE\t/\tTRUE\t0\tSID\tstored\n"
	userCookies   = ".youtube.com\tTRUE\t/\tTRUE\t0\tSID\tuser\n"
	testURL       = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
)

var errRestricted = errors.New("yt-dlp extract: [youtube] dQw4w9WgXcQ: Sign in to confirm your age")

// cookieGate succeeds only when the attempt carries the given cookie text and
// fails with errRestricted otherwise. It records the cookie text of every call.
func cookieGate(fs afero.Fs, want string, seen *[]string, mu *sync.Mutex) func(context.Context, string, extractor.Options) (*extractor.Info, error) {
	return func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		got := cookieContents(fs, opts)
		mu.Lock()
		*seen = append(*seen, got)
		mu.Unlock()
		if want != "" && got == want {
			return audioInfo("Restricted Song"), nil
		}
		return nil, errRestricted
	}
}

func newTestResolver(fs afero.Fs, client extractor.Client) *Resolver {
	return New(Config{Client: client, Fs: fs, TempDir: "/tmp/cookies"})
}

func TestResolve_NoCredentialSuccess(t *testing.T) {
	fs := afero.NewMemMapFs()
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return audioInfo("Song"), nil
	}}

	res, err := newTestResolver(fs, client).Resolve(context.Background(), Request{
		URL:         "https://youtu.be/dQw4w9WgXcQ",
		Credentials: []Credential{{Origin: OriginStored, Cookies: []byte(storedCookies)}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.AudioURL.OrEmpty(); got != "https://cdn/opus" {
		t.Fatalf("expected highest-bitrate audio-only format, got %q", got)
	}
	if tier := res.Tier.OrEmpty(); tier != TierNone {
		t.Fatalf("expected tier none, got %q", tier)
	}
	if res.StoredCredentialUsed {
		t.Fatal("stored credential must not be reported when unused")
	}
	calls := client.extractCalls()
	if len(calls) != 1 || calls[0].CookieFile != "" {
		t.Fatalf("expected a single anonymous attempt, got %+v", calls)
	}
}

func TestResolve_OtherFailureNeverEscalates(t *testing.T) {
	fs := afero.NewMemMapFs()
	prompted := false
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return nil, errors.New("yt-dlp extract: unable to download webpage: connection reset by peer")
	}}

	res, err := newTestResolver(fs, client).Resolve(context.Background(), Request{
		URL: testURL,
		Credentials: []Credential{
			{Origin: OriginStored, Cookies: []byte(storedCookies)},
			{Origin: OriginUser, Cookies: []byte(userCookies), Offered: true},
		},
		Prompt: PrompterFunc(func(string) bool { prompted = true; return true }),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.OK() || res.Tier.IsPresent() {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if calls := client.extractCalls(); len(calls) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(calls))
	}
	if prompted {
		t.Fatal("prompter must not be consulted for non-restriction failures")
	}
	if CategoryOf(err) != CategoryUnrecoverableAccess || ReasonOf(err) != ReasonTemporary {
		t.Fatalf("unexpected classification: %s/%s", CategoryOf(err), ReasonOf(err))
	}
	var inner CategorizedError
	if !errors.As(errors.Unwrap(errors.Unwrap(err)), &inner) || inner.Category != CategoryOtherExtraction {
		t.Fatalf("expected inner other-extraction failure, got %v", err)
	}
}

func TestResolve_NotFoundIsDistinctFromRestricted(t *testing.T) {
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return nil, errors.New("yt-dlp extract: Video unavailable")
	}}
	_, err := newTestResolver(afero.NewMemMapFs(), client).Resolve(context.Background(), Request{URL: testURL})
	if ReasonOf(err) != ReasonNotFound {
		t.Fatalf("expected not_found, got %s", ReasonOf(err))
	}
	if UserMessage(err) != MessageNoResults {
		t.Fatalf("unexpected message %q", UserMessage(err))
	}
}

func TestResolve_StoredCredentialWorks(t *testing.T) {
	fs := afero.NewMemMapFs()
	var seen []string
	var mu sync.Mutex
	client := &mockClient{extractFn: cookieGate(fs, storedCookies, &seen, &mu)}
	prompted := false

	res, err := newTestResolver(fs, client).Resolve(context.Background(), Request{
		URL: testURL,
		Credentials: []Credential{
			{Origin: OriginUser, Cookies: []byte(userCookies)},
			{Origin: OriginStored, Cookies: []byte(storedCookies)},
		},
		Prompt: PrompterFunc(func(string) bool { prompted = true; return true }),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier := res.Tier.OrEmpty(); tier != TierStored {
		t.Fatalf("expected stored tier, got %q", tier)
	}
	if !res.StoredCredentialUsed {
		t.Fatal("expected stored credential disclosure")
	}
	if prompted {
		t.Fatal("prompter must not be called when the stored credential works")
	}
	if len(seen) != 2 || seen[0] != "" || seen[1] != storedCookies {
		t.Fatalf("unexpected attempt sequence: %q", seen)
	}
}

func TestResolve_UserCredentialRequiresConsent(t *testing.T) {
	tests := []struct {
		name      string
		offered   bool
		prompt    Prompter
		wantTier  Tier
		wantCalls int
	}{
		{name: "offered", offered: true, wantTier: TierUser, wantCalls: 3},
		{name: "prompt approves", prompt: PrompterFunc(func(string) bool { return true }), wantTier: TierUser, wantCalls: 3},
		{name: "prompt declines", prompt: PrompterFunc(func(string) bool { return false }), wantCalls: 2},
		{name: "no prompt", wantCalls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			var seen []string
			var mu sync.Mutex
			client := &mockClient{extractFn: cookieGate(fs, userCookies, &seen, &mu)}

			res, err := newTestResolver(fs, client).Resolve(context.Background(), Request{
				URL: testURL,
				Credentials: []Credential{
					{Origin: OriginStored, Cookies: []byte(storedCookies)},
					{Origin: OriginUser, Cookies: []byte(userCookies), Offered: tt.offered},
				},
				Prompt: tt.prompt,
			})
			if len(seen) != tt.wantCalls {
				t.Fatalf("expected %d attempts, got %d", tt.wantCalls, len(seen))
			}
			if tt.wantTier == "" {
				if err == nil || res.OK() {
					t.Fatal("expected failure without consent")
				}
				if ReasonOf(err) != ReasonRestricted {
					t.Fatalf("expected restricted reason, got %s", ReasonOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Tier.OrEmpty() != tt.wantTier || res.StoredCredentialUsed {
				t.Fatalf("unexpected result: %+v", res)
			}
		})
	}
}

func TestResolve_RestrictedWithoutCredentials(t *testing.T) {
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return nil, errRestricted
	}}
	res, err := newTestResolver(afero.NewMemMapFs(), client).Resolve(context.Background(), Request{URL: testURL})
	if res.AudioURL.IsPresent() || res.Title.IsPresent() || res.Tier.IsPresent() {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if CategoryOf(err) != CategoryUnrecoverableAccess {
		t.Fatalf("expected unrecoverable access, got %s", CategoryOf(err))
	}
	if ReasonOf(err) != ReasonRestricted || UserMessage(err) != MessageRestricted {
		t.Fatalf("expected restricted signal, got %s", ReasonOf(err))
	}
	if ExitCode(err) != 4 {
		t.Fatalf("expected exit code 4, got %d", ExitCode(err))
	}
}

func TestResolve_CookieFilesRemoved(t *testing.T) {
	fs := afero.NewMemMapFs()
	var during []string
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		if opts.CookieFile != "" {
			if ok, _ := afero.Exists(fs, opts.CookieFile); !ok {
				t.Errorf("cookie file %s missing during extraction", opts.CookieFile)
			}
			info, _ := fs.Stat(opts.CookieFile)
			if info != nil && info.Mode().Perm() != 0o600 {
				t.Errorf("expected 0600 cookie file, got %v", info.Mode().Perm())
			}
			during = append(during, opts.CookieFile)
		}
		return nil, errRestricted
	}}

	_, _ = newTestResolver(fs, client).Resolve(context.Background(), Request{
		URL: testURL,
		Credentials: []Credential{
			{Origin: OriginStored, Cookies: []byte(storedCookies)},
			{Origin: OriginUser, Cookies: []byte(userCookies), Offered: true},
		},
	})
	if len(during) != 2 {
		t.Fatalf("expected two credentialed attempts, got %d", len(during))
	}
	if during[0] == during[1] {
		t.Fatal("expected a fresh cookie file per attempt")
	}
	for _, path := range during {
		if ok, _ := afero.Exists(fs, path); ok {
			t.Fatalf("cookie file %s leaked", path)
		}
	}
	entries, _ := afero.ReadDir(fs, "/tmp/cookies")
	if len(entries) != 0 {
		t.Fatalf("expected empty temp dir, found %d entries", len(entries))
	}
}

func TestResolve_CookieFilesRemovedOnDisk(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		if opts.CookieFile == "" {
			return nil, errRestricted
		}
		if _, err := os.Stat(opts.CookieFile); err != nil {
			t.Errorf("cookie file missing during extraction: %v", err)
		}
		return audioInfo("Song"), nil
	}}

	res, err := New(Config{Client: client, Fs: fs, TempDir: dir}).Resolve(context.Background(), Request{
		URL:         testURL,
		Credentials: []Credential{{Origin: OriginStored, Cookies: []byte(storedCookies)}},
	})
	if err != nil || res.Tier.OrEmpty() != TierStored {
		t.Fatalf("unexpected outcome: %+v, %v", res, err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(matches) != 0 {
		t.Fatalf("expected no leftover files, found %v", matches)
	}
}

func TestResolve_EmptyURL(t *testing.T) {
	_, err := newTestResolver(afero.NewMemMapFs(), &mockClient{}).Resolve(context.Background(), Request{URL: "  "})
	if !errors.Is(err, ErrEmptyQuery) || CategoryOf(err) != CategoryInvalidInput {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestResolve_NoUsableFormat(t *testing.T) {
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return &extractor.Info{Title: "Empty", Formats: []extractor.Format{{ID: "1"}}}, nil
	}}
	_, err := newTestResolver(afero.NewMemMapFs(), client).Resolve(context.Background(), Request{URL: testURL})
	if !errors.Is(err, ErrNoUsableFormat) || ReasonOf(err) != ReasonNotFound {
		t.Fatalf("expected no-usable-format not_found, got %v", err)
	}
}

type stubTranscoder struct {
	path string
	err  error
	src  string
}

func (s *stubTranscoder) Transcode(ctx context.Context, sourceURL, title string) (string, error) {
	s.src = sourceURL
	return s.path, s.err
}

func TestResolve_DownloadAndTranscode(t *testing.T) {
	client := &mockClient{extractFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return audioInfo("Song"), nil
	}}

	tc := &stubTranscoder{path: "media/Song-1.mp3"}
	r := New(Config{Client: client, Fs: afero.NewMemMapFs(), Transcoder: tc})
	res, err := r.Resolve(context.Background(), Request{URL: testURL, Strategy: DownloadAndTranscode})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FilePath.OrEmpty() != "media/Song-1.mp3" || tc.src != "https://cdn/opus" {
		t.Fatalf("unexpected transcode result: %+v (src %q)", res, tc.src)
	}

	failing := &stubTranscoder{err: errors.New("ffmpeg exited 1")}
	r = New(Config{Client: client, Fs: afero.NewMemMapFs(), Transcoder: failing})
	res, err = r.Resolve(context.Background(), Request{URL: testURL, Strategy: DownloadAndTranscode})
	if CategoryOf(err) != CategoryOtherExtraction || ReasonOf(err) != ReasonTemporary {
		t.Fatalf("expected temporary other-extraction failure, got %v", err)
	}
	if !res.OK() || res.FilePath.IsPresent() {
		t.Fatalf("expected resolved stream without file, got %+v", res)
	}
}

func TestResolve_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	fs := afero.NewMemMapFs()
	var seen []string
	var mu sync.Mutex
	client := &mockClient{extractFn: cookieGate(fs, storedCookies, &seen, &mu)}

	r := New(Config{Client: client, Fs: fs, Metrics: metrics})
	if _, err := r.Resolve(context.Background(), Request{
		URL:         testURL,
		Credentials: []Credential{{Origin: OriginStored, Cookies: []byte(storedCookies)}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.TierAttempts.WithLabelValues("no_credential", "error")); got != 1 {
		t.Fatalf("expected 1 failed anonymous attempt, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ResolvesTotal.WithLabelValues("stored", "")); got != 1 {
		t.Fatalf("expected 1 stored resolve, got %v", got)
	}
}

func TestStateTransitionsOnlyForward(t *testing.T) {
	order := []state{stateNoCredential, stateStoredCredential, stateUserCredential, stateFailed}
	for i := 0; i < len(order)-1; i++ {
		if order[i].next() != order[i+1] {
			t.Fatalf("%s.next() = %s, want %s", order[i], order[i].next(), order[i+1])
		}
	}
	if stateFailed.next() != stateFailed {
		t.Fatal("failed must be terminal")
	}
}
