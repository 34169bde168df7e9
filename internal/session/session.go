// Package session holds per-user interaction state. Sessions are plain values
// passed to and from the UI layer; nothing here is global.
package session

import (
	"strings"

	"github.com/samber/lo"

	"github.com/lvcoi/dgetmusic/internal/resolver"
)

const DefaultHistorySize = 10

// Session is the state of one user across interactions.
type Session struct {
	// History holds recent queries, newest first, without duplicates.
	History     []string             `json:"history"`
	HistorySize int                  `json:"history_size,omitempty"`
	Last        []resolver.Candidate `json:"last,omitempty"`
	// Selected is the canonical URL the user picked from Last.
	Selected string `json:"selected,omitempty"`
	// Consent is the user's approval to apply their own cookies to the next
	// resolution. It is consumed by that resolution and never serialized.
	Consent bool `json:"-"`
}

func New(historySize int) *Session {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Session{HistorySize: historySize}
}

// Remember moves query to the front of the history, trimming it to size.
// Empty queries are ignored.
func (s *Session) Remember(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}
	size := s.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	rest := lo.Reject(s.History, func(h string, _ int) bool { return h == query })
	s.History = append([]string{query}, rest...)
	if len(s.History) > size {
		s.History = s.History[:size]
	}
}

// SetResults records the candidates shown to the user and clears any selection.
func (s *Session) SetResults(candidates []resolver.Candidate) {
	s.Last = append([]resolver.Candidate(nil), candidates...)
	s.Selected = ""
}

// Select marks candidate i of the last results as chosen.
func (s *Session) Select(i int) (resolver.Candidate, bool) {
	if i < 0 || i >= len(s.Last) {
		return resolver.Candidate{}, false
	}
	s.Selected = s.Last[i].CanonicalURL
	return s.Last[i], true
}

func (s *Session) GrantConsent() {
	s.Consent = true
}

// TakeConsent reports and clears the pending consent.
func (s *Session) TakeConsent() bool {
	ok := s.Consent
	s.Consent = false
	return ok
}

// Clear drops history, results and any pending consent.
func (s *Session) Clear() {
	s.History = nil
	s.Last = nil
	s.Selected = ""
	s.Consent = false
}
