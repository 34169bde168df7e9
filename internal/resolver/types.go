// Package resolver turns user queries into candidates and candidates into
// playable audio streams, escalating through credential tiers only when
// access is restricted.
package resolver

import (
	"encoding/json"

	"github.com/samber/mo"
)

// Kind is the classification of raw user input.
type Kind int

const (
	KindSearchQuery Kind = iota
	KindDirectURL
	KindPlaylistURL
)

func (k Kind) String() string {
	switch k {
	case KindDirectURL:
		return "direct_url"
	case KindPlaylistURL:
		return "playlist_url"
	default:
		return "search_query"
	}
}

// Candidate is one enumerated media item. It is immutable once produced and
// CanonicalURL is resolvable on its own.
type Candidate struct {
	Title        string
	CanonicalURL string
	ExternalID   mo.Option[string]
	Duration     mo.Option[int]
	Thumbnail    mo.Option[string]
}

type candidateJSON struct {
	Title        string  `json:"title"`
	CanonicalURL string  `json:"canonical_url"`
	ExternalID   *string `json:"external_id,omitempty"`
	Duration     *int    `json:"duration_seconds,omitempty"`
	Thumbnail    *string `json:"thumbnail_url,omitempty"`
}

func (c Candidate) MarshalJSON() ([]byte, error) {
	return json.Marshal(candidateJSON{
		Title:        c.Title,
		CanonicalURL: c.CanonicalURL,
		ExternalID:   c.ExternalID.ToPointer(),
		Duration:     c.Duration.ToPointer(),
		Thumbnail:    c.Thumbnail.ToPointer(),
	})
}

func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw candidateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Candidate{
		Title:        raw.Title,
		CanonicalURL: raw.CanonicalURL,
		ExternalID:   mo.PointerToOption(raw.ExternalID),
		Duration:     mo.PointerToOption(raw.Duration),
		Thumbnail:    mo.PointerToOption(raw.Thumbnail),
	}
	return nil
}

// Tier is the credential tier that produced a stream.
type Tier string

const (
	TierNone   Tier = "none"
	TierStored Tier = "stored"
	TierUser   Tier = "user"
)

// Strategy selects what Resolve delivers after a successful tier.
type Strategy int

const (
	StreamOnly Strategy = iota
	DownloadAndTranscode
)

// StreamResult is the outcome of Resolve. An absent AudioURL means failure.
type StreamResult struct {
	AudioURL mo.Option[string]
	Title    mo.Option[string]
	Tier     mo.Option[Tier]
	// StoredCredentialUsed discloses that operator cookies were applied.
	StoredCredentialUsed bool
	FilePath             mo.Option[string]
}

// OK reports whether the result carries a playable stream.
func (r StreamResult) OK() bool {
	return r.AudioURL.IsPresent()
}

type streamResultJSON struct {
	AudioURL             *string `json:"audio_url,omitempty"`
	Title                *string `json:"title,omitempty"`
	Tier                 *Tier   `json:"access_tier_used,omitempty"`
	StoredCredentialUsed bool    `json:"stored_credential_used"`
	FilePath             *string `json:"file_path,omitempty"`
}

func (r StreamResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(streamResultJSON{
		AudioURL:             r.AudioURL.ToPointer(),
		Title:                r.Title.ToPointer(),
		Tier:                 r.Tier.ToPointer(),
		StoredCredentialUsed: r.StoredCredentialUsed,
		FilePath:             r.FilePath.ToPointer(),
	})
}

// Origin says who supplied a credential.
type Origin int

const (
	OriginStored Origin = iota
	OriginUser
)

// Credential is Netscape-format cookie text. The resolver never persists it.
type Credential struct {
	Origin  Origin
	Cookies []byte
	// Offered marks explicit consent for this attempt. User credentials
	// without it are only used after Prompter approval.
	Offered bool
}

func (c Credential) usable() bool {
	return len(c.Cookies) > 0
}

// Prompter asks the end user for per-attempt consent to use their credential.
type Prompter interface {
	ConsentToCredential(url string) bool
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(url string) bool

func (f PrompterFunc) ConsentToCredential(url string) bool { return f(url) }

// Request is one Resolve call.
type Request struct {
	URL         string
	Credentials []Credential
	Strategy    Strategy
	Prompt      Prompter
}
