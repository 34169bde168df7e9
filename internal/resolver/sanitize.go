package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameRunes = 120
	fallbackFilename = "audio"
)

// SanitizeFilename maps an arbitrary title to a filesystem-safe name of at
// most 120 runes. Empty results become "audio".
func SanitizeFilename(title string) string {
	title = norm.NFC.String(title)
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '?', ':', '"', '<', '>', '|':
			return '_'
		}
		if unicode.IsControl(r) {
			return '_'
		}
		return r
	}, title)
	cleaned = strings.Trim(cleaned, " .")

	runes := []rune(cleaned)
	if len(runes) > maxFilenameRunes {
		cleaned = strings.TrimRight(string(runes[:maxFilenameRunes]), " .")
	}
	if cleaned == "" {
		return fallbackFilename
	}
	return cleaned
}
