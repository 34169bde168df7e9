package resolver

import (
	"errors"
	"strings"
)

// ErrorCategory identifies where in the resolution pipeline a failure happened.
type ErrorCategory string

const (
	CategorySearchFailed            ErrorCategory = "search_failed"
	CategoryPlaylistExpansionFailed ErrorCategory = "playlist_expansion_failed"
	CategoryRestriction             ErrorCategory = "restriction"
	CategoryOtherExtraction         ErrorCategory = "other_extraction"
	CategoryUnrecoverableAccess     ErrorCategory = "unrecoverable_access"
	CategoryInvalidInput            ErrorCategory = "invalid_input"
)

// Reason is the user-facing class of a failure.
type Reason string

const (
	ReasonNotFound   Reason = "not_found"
	ReasonRestricted Reason = "restricted"
	ReasonTemporary  Reason = "temporary"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNoUsableFormat = errors.New("no format with a retrievable URL")
)

// CategorizedError carries the category and reason of a resolver failure.
type CategorizedError struct {
	Category ErrorCategory
	Reason   Reason
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error {
	return e.Err
}

func wrapCategory(category ErrorCategory, reason Reason, err error) error {
	if err == nil {
		return nil
	}
	return CategorizedError{Category: category, Reason: reason, Err: err}
}

// CategoryOf returns the category of err, or "" when err is not categorized.
func CategoryOf(err error) ErrorCategory {
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// ReasonOf returns the reason of err, defaulting to temporary for unknown failures.
func ReasonOf(err error) Reason {
	var ce CategorizedError
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	if errors.Is(err, ErrEmptyQuery) {
		return ReasonNotFound
	}
	return ReasonTemporary
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInvalidInput:
		return 2
	case CategorySearchFailed, CategoryPlaylistExpansionFailed:
		return 3
	case CategoryRestriction, CategoryUnrecoverableAccess:
		if ReasonOf(err) == ReasonRestricted {
			return 4
		}
		return 5
	case CategoryOtherExtraction:
		return 5
	}
	return 1
}

const (
	MessageNoResults  = "No results found."
	MessageRestricted = "Couldn't access this media. Try supplying credentials."
	MessageTemporary  = "Temporary network failure. Please retry later."
)

// UserMessage renders err as one of the three user-facing failure messages.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch ReasonOf(err) {
	case ReasonNotFound:
		return MessageNoResults
	case ReasonRestricted:
		return MessageRestricted
	default:
		return MessageTemporary
	}
}

var restrictionMarkers = []string{
	"forbidden",
	"status code: 403",
	"http error 403",
	"sign in",
	"sign-in",
	"login required",
	"login_required",
	"log in to",
	"account required",
	"requires an account",
	"age-restricted",
	"age restricted",
	"confirm your age",
	"inappropriate for some users",
	"private",
	"members only",
	"members-only",
	"join this channel",
	"not available in your country",
	"geo restricted",
	"geo-restricted",
}

var notFoundMarkers = []string{
	"video unavailable",
	"not found",
	"does not exist",
	"has been removed",
	"no video formats found",
	"unable to extract",
	"is not a valid url",
	"unsupported url",
	"no format with a retrievable url",
}

// classifyFailure decides whether an extraction error can be fixed by credentials.
// Anything it cannot place is treated as transient.
func classifyFailure(err error) (restricted bool, reason Reason) {
	if err == nil {
		return false, ""
	}
	if errors.Is(err, ErrNoUsableFormat) {
		return false, ReasonNotFound
	}
	message := strings.ToLower(err.Error())
	for _, marker := range restrictionMarkers {
		if strings.Contains(message, marker) {
			return true, ReasonRestricted
		}
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(message, marker) {
			return false, ReasonNotFound
		}
	}
	return false, ReasonTemporary
}
