package app

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lvcoi/dgetmusic/internal/resolver"
	"github.com/lvcoi/dgetmusic/internal/session"
)

// Result is the outcome of one batch item.
type Result struct {
	Item    string                 `json:"item"`
	URL     string                 `json:"url,omitempty"`
	Stream  *resolver.StreamResult `json:"stream,omitempty"`
	Err     error                  `json:"-"`
	Error   string                 `json:"error,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// Event reports batch progress.
type Event struct {
	Type   string  `json:"type"`
	Index  int     `json:"index"`
	Total  int     `json:"total"`
	Item   string  `json:"item"`
	Result *Result `json:"result,omitempty"`
}

const (
	EventItemStarted = "item_started"
	EventItemDone    = "item_done"
)

// Observer receives batch progress events. It must not block for long.
type Observer func(Event)

// SplitBatch splits comma-separated input into trimmed, non-empty items.
func SplitBatch(input string) []string {
	items := lo.Map(strings.Split(input, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(items)
}

// Batch resolves every comma-separated item in order. A URL is resolved
// directly; anything else resolves the first search hit within the duration
// cap. Failures are
// recorded per item and do not stop the batch. The returned code is the worst
// per-item exit code, or 130 when ctx was cancelled.
func (s *Service) Batch(ctx context.Context, sess *session.Session, input string, opts ResolveOptions, observe Observer) ([]Result, int) {
	items := SplitBatch(input)
	if observe == nil {
		observe = func(Event) {}
	}

	output := make([]Result, 0, len(items))
	exitCode := 0
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		observe(Event{Type: EventItemStarted, Index: i, Total: len(items), Item: item})

		res := s.batchItem(ctx, sess, item, opts)
		if res.Err != nil {
			res.Error = res.Err.Error()
			res.Message = resolver.UserMessage(res.Err)
			if code := resolver.ExitCode(res.Err); code > exitCode {
				exitCode = code
			}
			s.log.Info("batch item failed", zap.String("item", item), zap.Error(res.Err))
		}
		output = append(output, res)
		observe(Event{Type: EventItemDone, Index: i, Total: len(items), Item: item, Result: &output[len(output)-1]})
	}

	if ctx.Err() != nil && exitCode == 0 {
		exitCode = 130
	}
	return output, exitCode
}

func (s *Service) batchItem(ctx context.Context, sess *session.Session, item string, opts ResolveOptions) Result {
	res := Result{Item: item}
	target := item
	if resolver.Classify(item) == resolver.KindSearchQuery {
		candidates, err := s.enum.Search(ctx, item, s.searchLimit)
		if err != nil {
			res.Err = err
			return res
		}
		first, ok := lo.First(candidates)
		if !ok {
			res.Err = errNoResults
			return res
		}
		target = first.CanonicalURL
	}
	res.URL = target

	stream, err := s.Resolve(ctx, sess, target, opts)
	if err != nil {
		res.Err = err
		return res
	}
	res.Stream = &stream
	return res
}

var errNoResults = resolver.CategorizedError{
	Category: resolver.CategorySearchFailed,
	Reason:   resolver.ReasonNotFound,
	Err:      errors.New("no results"),
}
