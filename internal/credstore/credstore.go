// Package credstore loads the operator's stored cookie credential and proxy
// once at startup, from an inline value, a cookies.txt file or the system keyring.
package credstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"

	"github.com/lvcoi/dgetmusic/internal/extractor"
	"github.com/lvcoi/dgetmusic/internal/resolver"
)

const (
	service = "dgetmusic"
	user    = "stored-cookies"
)

// Source describes where stored cookies may come from. The first non-empty
// source wins: Inline, then File, then the keyring.
type Source struct {
	Fs         afero.Fs
	Inline     string
	File       string
	UseKeyring bool
	Proxy      string
}

// Store is the process-wide operator credential. It is read-only after Load.
type Store struct {
	cookies []byte
	origin  string
	proxy   string
}

// Load reads and validates the stored credential. A missing credential is not
// an error; a malformed one is.
func Load(src Source) (*Store, error) {
	fs := src.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	s := &Store{proxy: strings.TrimSpace(src.Proxy)}

	var blob []byte
	switch {
	case strings.TrimSpace(src.Inline) != "":
		blob, s.origin = []byte(src.Inline), "inline"
	case src.File != "":
		data, err := afero.ReadFile(fs, src.File)
		if err != nil {
			return nil, fmt.Errorf("read stored cookies: %w", err)
		}
		blob, s.origin = data, "file"
	case src.UseKeyring:
		secret, err := keyring.Get(service, user)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("read stored cookies from keyring: %w", err)
		}
		blob, s.origin = []byte(secret), "keyring"
	}

	if len(strings.TrimSpace(string(blob))) == 0 {
		s.origin = ""
		return s, nil
	}
	if _, err := extractor.ParseNetscapeCookies(blob); err != nil {
		return nil, fmt.Errorf("stored cookies (%s): %w", s.origin, err)
	}
	s.cookies = blob
	return s, nil
}

// Configured reports whether an operator credential is available.
func (s *Store) Configured() bool {
	return s != nil && len(s.cookies) > 0
}

// Origin names the source the credential was loaded from, or "".
func (s *Store) Origin() string {
	if s == nil {
		return ""
	}
	return s.origin
}

func (s *Store) Proxy() string {
	if s == nil {
		return ""
	}
	return s.proxy
}

// Credential returns a copy of the stored credential for one resolution.
func (s *Store) Credential() (resolver.Credential, bool) {
	if !s.Configured() {
		return resolver.Credential{}, false
	}
	return resolver.Credential{
		Origin:  resolver.OriginStored,
		Cookies: append([]byte(nil), s.cookies...),
	}, true
}

// SaveToKeyring validates and stores a cookies.txt blob in the system keyring.
func SaveToKeyring(blob []byte) error {
	if _, err := extractor.ParseNetscapeCookies(blob); err != nil {
		return err
	}
	if len(strings.TrimSpace(string(blob))) == 0 {
		return errors.New("cookies file is empty")
	}
	return keyring.Set(service, user, string(blob))
}

// DeleteFromKeyring removes stored cookies; deleting nothing is not an error.
func DeleteFromKeyring() error {
	if err := keyring.Delete(service, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
