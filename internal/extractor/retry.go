package extractor

import (
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"
)

// retryConfig bounds how often and how long the native backend retries.
type retryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

var defaultRetryConfig = retryConfig{
	MaxRetries:   3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     8 * time.Second,
}

// retryConfigWithAttempts applies extractor.retries; negative keeps the default.
func retryConfigWithAttempts(retries int) retryConfig {
	cfg := defaultRetryConfig
	if retries >= 0 {
		cfg.MaxRetries = retries
	}
	return cfg
}

// retryTransport replays requests that hit throttling, 5xx gateways or
// network timeouts. Once retries run out the last response or error is
// returned as is.
type retryTransport struct {
	next http.RoundTripper
	cfg  retryConfig
}

func newRetryTransport(next http.RoundTripper, cfg retryConfig) *retryTransport {
	return &retryTransport{next: next, cfg: cfg}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		try := req
		if attempt > 0 {
			var err error
			if try, err = rewind(req); err != nil {
				return nil, err
			}
		}

		resp, err := t.next.RoundTrip(try)
		wait, again := t.retryIn(attempt, req, resp, err)
		if !again {
			return resp, err
		}
		if resp != nil {
			resp.Body.Close()
		}

		timer := time.NewTimer(wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

// retryIn decides whether attempt is followed by another and after how long.
func (t *retryTransport) retryIn(attempt int, req *http.Request, resp *http.Response, err error) (time.Duration, bool) {
	if attempt >= t.cfg.MaxRetries || !replayable(req) {
		return 0, false
	}
	if err != nil {
		return t.backoffDelay(attempt + 1), transient(err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
	default:
		return 0, false
	}
	if d, ok := retryAfter(resp, t.cfg.MaxDelay); ok {
		return d, true
	}
	return t.backoffDelay(attempt + 1), true
}

// backoffDelay doubles from InitialDelay per retry, capped at MaxDelay, with
// +/-25% jitter.
func (t *retryTransport) backoffDelay(retry int) time.Duration {
	d := t.cfg.MaxDelay
	if shift := retry - 1; shift < 32 {
		if doubled := t.cfg.InitialDelay << shift; doubled < d {
			d = doubled
		}
	}
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5)) //nolint:gosec
}

// retryAfter reads a delay-seconds Retry-After header, capped at max.
func retryAfter(resp *http.Response, max time.Duration) (time.Duration, bool) {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(time.Duration(secs)*time.Second, max), true
}

func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}
