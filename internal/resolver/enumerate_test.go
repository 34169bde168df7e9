package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lvcoi/dgetmusic/internal/extractor"
)

func entry(id, title string, duration *float64) *extractor.Info {
	return &extractor.Info{ID: id, Title: title, Duration: duration}
}

func lofiResults() *extractor.Info {
	return &extractor.Info{Entries: []*extractor.Info{
		entry("aaaaaaaaaa1", "lofi 1", seconds(180)),
		entry("aaaaaaaaaa2", "lofi mix 3h", seconds(10800)),
		entry("aaaaaaaaaa3", "", nil),
		entry("aaaaaaaaaa4", "lofi 4", seconds(1200)),
		entry("aaaaaaaaaa5", "lofi 5", seconds(1200.4)),
		entry("aaaaaaaaaa6", "lofi 6", seconds(0)),
		{ID: "", Title: "broken"},
		entry("aaaaaaaaaa7", "lofi 7", seconds(60)),
	}}
}

func TestSearch_DurationCap(t *testing.T) {
	client := &mockClient{searchFn: func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
		if query != "lofi beats" || limit != 10 {
			t.Errorf("unexpected search call %q/%d", query, limit)
		}
		return lofiResults(), nil
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client, Policy: Policy{MaxDuration: 1200 * time.Second}})

	got, err := e.Search(context.Background(), "lofi beats", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) > 10 {
		t.Fatalf("expected at most 10 candidates, got %d", len(got))
	}
	wantIDs := []string{"aaaaaaaaaa1", "aaaaaaaaaa3", "aaaaaaaaaa4", "aaaaaaaaaa5", "aaaaaaaaaa6", "aaaaaaaaaa7"}
	if len(got) != len(wantIDs) {
		t.Fatalf("expected %d candidates, got %d", len(wantIDs), len(got))
	}
	for i, c := range got {
		if c.ExternalID.OrEmpty() != wantIDs[i] {
			t.Fatalf("candidate %d: got id %q, want %q", i, c.ExternalID.OrEmpty(), wantIDs[i])
		}
		if d, ok := c.Duration.Get(); ok && d > 1200 {
			t.Fatalf("candidate %s exceeds cap: %d", c.Title, d)
		}
		if c.CanonicalURL != CanonicalURL(wantIDs[i]) {
			t.Fatalf("unexpected canonical URL %q", c.CanonicalURL)
		}
	}
	if got[1].Title != "Untitled" || got[1].Duration.IsPresent() {
		t.Fatalf("expected untitled entry with absent duration, got %+v", got[1])
	}
}

func TestSearch_DropUnknownDuration(t *testing.T) {
	client := &mockClient{searchFn: func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
		return lofiResults(), nil
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client, Policy: Policy{MaxDuration: 20 * time.Minute, DropUnknownDuration: true}})
	got, _ := e.Search(context.Background(), "lofi beats", 10)
	for _, c := range got {
		if !c.Duration.IsPresent() {
			t.Fatalf("candidate %q has unknown duration", c.Title)
		}
	}
}

func TestSearch_NoCapAndTruncation(t *testing.T) {
	client := &mockClient{searchFn: func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
		return lofiResults(), nil
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client})
	got, _ := e.Search(context.Background(), "lofi", 3)
	if len(got) != 3 || got[1].ExternalID.OrEmpty() != "aaaaaaaaaa2" {
		t.Fatalf("expected first three in source order, got %+v", got)
	}
}

func TestSearch_CandidateDurationProperty(t *testing.T) {
	for _, capSecs := range []int{60, 600, 1200, 3600} {
		client := &mockClient{searchFn: func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
			info := &extractor.Info{}
			for i := 0; i < 30; i++ {
				info.Entries = append(info.Entries, entry(fmt.Sprintf("id%09d", i), "t", seconds(float64(i*150))))
			}
			return info, nil
		}}
		e := NewEnumerator(EnumeratorConfig{Client: client, Policy: Policy{MaxDuration: time.Duration(capSecs) * time.Second}})
		got, _ := e.Search(context.Background(), "q", 30)
		for _, c := range got {
			if d := c.Duration.OrEmpty(); d > capSecs {
				t.Fatalf("cap %d: candidate duration %d", capSecs, d)
			}
		}
	}
}

func TestSearch_FailureYieldsEmptyAndCategory(t *testing.T) {
	client := &mockClient{searchFn: func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
		return nil, errors.New("yt-dlp search: Unable to download API page: timed out")
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client, CacheSize: 8, CacheTTL: time.Minute})
	got, err := e.Search(context.Background(), "lofi", 10)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected non-nil empty slice, got %#v", got)
	}
	if CategoryOf(err) != CategorySearchFailed {
		t.Fatalf("expected search failed, got %v", err)
	}
	if UserMessage(err) != MessageTemporary {
		t.Fatalf("unexpected message %q", UserMessage(err))
	}
	if _, err := e.Search(context.Background(), "lofi", 10); err == nil {
		t.Fatal("failures must not be cached")
	}
	if client.searches != 2 {
		t.Fatalf("expected 2 backend calls, got %d", client.searches)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	e := NewEnumerator(EnumeratorConfig{Client: &mockClient{}})
	got, err := e.Search(context.Background(), "  ", 10)
	if len(got) != 0 || !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected empty query rejection, got %v, %v", got, err)
	}
}

func TestSearch_CacheAndSingleflight(t *testing.T) {
	release := make(chan struct{})
	client := &mockClient{searchFn: func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
		<-release
		return lofiResults(), nil
	}}
	metrics := NewMetrics(prometheus.NewRegistry())
	e := NewEnumerator(EnumeratorConfig{Client: client, CacheSize: 8, CacheTTL: time.Minute, Metrics: metrics})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Search(context.Background(), "lofi", 10); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	got, _ := e.Search(context.Background(), "lofi", 10)
	got[0].Title = "mutated"
	again, _ := e.Search(context.Background(), "lofi", 10)
	if again[0].Title == "mutated" {
		t.Fatal("cached slice must not be shared with callers")
	}
	client.mu.Lock()
	calls := client.searches
	client.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", calls)
	}
	if hits := testutil.ToFloat64(metrics.CacheHitsTotal); hits != 2 {
		t.Fatalf("expected 2 cache hits, got %v", hits)
	}
}

func TestSearch_SharedCallSurvivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client := &mockClient{searchFn: func(ctx context.Context, query string, limit int, opts extractor.Options) (*extractor.Info, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return lofiResults(), nil
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client, Policy: Policy{MaxDuration: 20 * time.Minute}})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Search(first, "lofi", 10)
		firstErr <- err
	}()
	<-started

	second := make(chan []Candidate, 1)
	go func() {
		got, err := e.Search(context.Background(), "lofi", 10)
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- got
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	if got := <-second; len(got) != 6 {
		t.Fatalf("expected the live caller to get results, got %d", len(got))
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.searches != 1 {
		t.Fatalf("expected 1 backend call, got %d", client.searches)
	}
}

func TestExpandPlaylist_PreservesOrder(t *testing.T) {
	var gotURL string
	client := &mockClient{playlistFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		gotURL = url
		return &extractor.Info{Entries: []*extractor.Info{
			entry("ccccccccccc", "c", seconds(9000)),
			{Title: "no id"},
			entry("aaaaaaaaaaa", "a", nil),
			{ID: "x", URL: "https://soundcloud.com/x"},
			entry("bbbbbbbbbbb", "b", seconds(10)),
		}}, nil
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client, Policy: Policy{MaxDuration: time.Minute}})

	input := "list=PLxyz"
	if Classify(input) != KindPlaylistURL {
		t.Fatalf("expected %q to classify as playlist", input)
	}
	urls, err := e.ExpandPlaylist(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotURL != "https://www.youtube.com/playlist?list=PLxyz" {
		t.Fatalf("unexpected playlist target %q", gotURL)
	}
	want := []string{
		"https://www.youtube.com/watch?v=ccccccccccc",
		"https://www.youtube.com/watch?v=aaaaaaaaaaa",
		"https://soundcloud.com/x",
		"https://www.youtube.com/watch?v=bbbbbbbbbbb",
	}
	if len(urls) != len(want) {
		t.Fatalf("expected %d urls, got %v", len(want), urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Fatalf("url %d = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestExpandPlaylist_OptionalCap(t *testing.T) {
	client := &mockClient{playlistFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return &extractor.Info{Entries: []*extractor.Info{
			entry("ccccccccccc", "c", seconds(9000)),
			entry("bbbbbbbbbbb", "b", seconds(10)),
		}}, nil
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client, Policy: Policy{MaxDuration: time.Minute, ApplyCapToPlaylist: true}})
	urls, _ := e.ExpandPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PLxyz")
	if len(urls) != 1 || urls[0] != "https://www.youtube.com/watch?v=bbbbbbbbbbb" {
		t.Fatalf("expected capped playlist, got %v", urls)
	}
}

func TestExpandPlaylist_Failure(t *testing.T) {
	client := &mockClient{playlistFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		return nil, errors.New("yt-dlp playlist: The playlist does not exist")
	}}
	e := NewEnumerator(EnumeratorConfig{Client: client})
	urls, err := e.ExpandPlaylist(context.Background(), "list=PLgone")
	if urls == nil || len(urls) != 0 {
		t.Fatalf("expected empty slice, got %#v", urls)
	}
	if CategoryOf(err) != CategoryPlaylistExpansionFailed || ReasonOf(err) != ReasonNotFound {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPreviewPlaylist(t *testing.T) {
	client := &mockClient{playlistFn: func(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
		info := &extractor.Info{}
		for i := 0; i < 25; i++ {
			info.Entries = append(info.Entries, entry(fmt.Sprintf("p%010d", i), fmt.Sprintf("track %d", i), nil))
		}
		return info, nil
	}}
	got, err := NewEnumerator(EnumeratorConfig{Client: client}).PreviewPlaylist(context.Background(), "list=PLbig", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 10 || got[9].Title != "track 9" {
		t.Fatalf("expected first 10 tracks, got %d", len(got))
	}
}

func TestToCandidate_Thumbnail(t *testing.T) {
	c, ok := toCandidate(&extractor.Info{
		ID: "dQw4w9WgXcQ",
		Thumbnails: []extractor.Thumbnail{
			{URL: "https://i/small.jpg"},
			{URL: "https://i/large.jpg"},
			{},
		},
	})
	if !ok || c.Thumbnail.OrEmpty() != "https://i/large.jpg" {
		t.Fatalf("expected last thumbnail with url, got %+v", c)
	}
}
