package extractor

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var fastRetry = retryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

func TestRetryTransport_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		config    retryConfig
		wantCode  int
		wantCalls int32
	}{
		{name: "success first try", statuses: []int{200}, config: fastRetry, wantCode: 200, wantCalls: 1},
		{name: "retries 5xx", statuses: []int{502, 502, 200}, config: fastRetry, wantCode: 200, wantCalls: 3},
		{name: "retries 429", statuses: []int{429, 200}, config: fastRetry, wantCode: 200, wantCalls: 2},
		{name: "no retry on 403", statuses: []int{403}, config: fastRetry, wantCode: 403, wantCalls: 1},
		{name: "no retry on 404", statuses: []int{404}, config: fastRetry, wantCode: 404, wantCalls: 1},
		{
			name:      "exhausted returns last response",
			statuses:  []int{503, 503, 503},
			config:    retryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
			wantCode:  503,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			transport := newRetryTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
				n := atomic.AddInt32(&calls, 1)
				idx := int(n) - 1
				if idx >= len(tt.statuses) {
					idx = len(tt.statuses) - 1
				}
				return &http.Response{StatusCode: tt.statuses[idx], Body: http.NoBody, Header: http.Header{}}, nil
			}), tt.config)

			req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
			resp, err := transport.RoundTrip(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, resp.StatusCode)
			}
			if c := atomic.LoadInt32(&calls); c != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, c)
			}
		})
	}
}

func TestRetryTransport_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	transport := newRetryTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
			return &http.Response{StatusCode: 502, Body: http.NoBody, Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	}), fastRetry)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.com", nil)
	if _, err := transport.RoundTrip(req); err == nil {
		t.Fatal("expected context cancellation error")
	}
	if c := atomic.LoadInt32(&calls); c != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", c)
	}
}

func TestRetryTransport_RetriesOnTimeout(t *testing.T) {
	var calls int32
	transport := newRetryTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &net.OpError{Op: "dial", Err: &timeoutError{}}
		}
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	}), fastRetry)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRetryTransport_ReplaysBody(t *testing.T) {
	var calls int32
	transport := newRetryTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(req.Body)
		if string(body) != "payload" {
			t.Fatalf("attempt %d: unexpected body: %q", n, body)
		}
		if n == 1 {
			return &http.Response{StatusCode: 500, Body: http.NoBody, Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	}), fastRetry)

	req, _ := http.NewRequest(http.MethodPost, "https://example.com", strings.NewReader("payload"))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("payload")), nil
	}
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c := atomic.LoadInt32(&calls); c != 2 {
		t.Fatalf("expected 2 calls, got %d", c)
	}
}

func TestRetryTransport_BodyWithoutReplayIsNotRetried(t *testing.T) {
	var calls int32
	transport := newRetryTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return &http.Response{StatusCode: 503, Body: http.NoBody, Header: http.Header{}}, nil
	}), fastRetry)

	req, _ := http.NewRequest(http.MethodPost, "https://example.com", strings.NewReader("payload"))
	req.GetBody = nil
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("expected the first response back, got %d", resp.StatusCode)
	}
	if c := atomic.LoadInt32(&calls); c != 1 {
		t.Fatalf("expected 1 call, got %d", c)
	}
}

func TestRetryTransport_HonoursRetryAfter(t *testing.T) {
	var calls int32
	transport := newRetryTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			h := http.Header{}
			h.Set("Retry-After", "0")
			return &http.Response{StatusCode: 429, Body: http.NoBody, Header: h}, nil
		}
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	}), retryConfig{MaxRetries: 1, InitialDelay: time.Hour, MaxDelay: time.Hour})

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if resp, err := transport.RoundTrip(req); err != nil || resp.StatusCode != 200 {
			t.Errorf("expected 200 after Retry-After, got %v %v", resp, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Retry-After should replace the hour-long backoff")
	}
}

func TestBackoffDelay(t *testing.T) {
	rt := newRetryTransport(nil, retryConfig{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})

	for attempt, want := range map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 300 * time.Millisecond} {
		d := rt.backoffDelay(attempt)
		if d < want*3/4 || d > want*5/4 {
			t.Fatalf("attempt %d delay out of range: %v", attempt, d)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{header: "", ok: false},
		{header: "2", want: 2 * time.Second, ok: true},
		{header: "120", want: 5 * time.Second, ok: true},
		{header: "Wed, 21 Oct 2015 07:28:00 GMT", ok: false},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.header != "" {
			resp.Header.Set("Retry-After", tt.header)
		}
		got, ok := retryAfter(resp, 5*time.Second)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("retryAfter(%q) = %v, %v; want %v, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRetryConfigWithAttempts(t *testing.T) {
	if got := retryConfigWithAttempts(0).MaxRetries; got != 0 {
		t.Fatalf("expected 0 retries, got %d", got)
	}
	if got := retryConfigWithAttempts(-1).MaxRetries; got != defaultRetryConfig.MaxRetries {
		t.Fatalf("expected default retries for negative input, got %d", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true } //nolint:staticcheck
