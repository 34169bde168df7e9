// Package config maps viper keys (flags, DGETMUSIC_* environment, optional
// config file) onto a typed Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const EnvPrefix = "DGETMUSIC"

const (
	BackendYTDLP  = "ytdlp"
	BackendNative = "native"
)

type Config struct {
	Log         LogConfig
	Search      SearchConfig
	Playlist    PlaylistConfig
	Cache       CacheConfig
	Extractor   ExtractorConfig
	Credentials CredentialsConfig
	Transcode   TranscodeConfig
	History     HistoryConfig
	Library     LibraryConfig
	Server      ServerConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type SearchConfig struct {
	Limit               int
	MaxDuration         time.Duration
	DropUnknownDuration bool
}

type PlaylistConfig struct {
	ApplyDurationCap bool
	Preview          int
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

type ExtractorConfig struct {
	Backend        string
	Timeout        time.Duration
	Binary         string
	Format         string
	Retries        int
	TLSFingerprint bool
}

type CredentialsConfig struct {
	CookiesFile string
	Cookies     string
	Keyring     bool
	Proxy       string
	TempDir     string
}

type TranscodeConfig struct {
	Bitrate   string
	OutputDir string
	FFmpeg    string
}

type HistoryConfig struct {
	Size int
}

// LibraryConfig locates the catalogue of transcoded tracks. An empty Path
// means library.db inside the transcode output directory.
type LibraryConfig struct {
	Path string
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Search: SearchConfig{
			Limit:       10,
			MaxDuration: 20 * time.Minute,
		},
		Playlist: PlaylistConfig{
			Preview: 10,
		},
		Cache: CacheConfig{
			Size: 128,
			TTL:  10 * time.Minute,
		},
		Extractor: ExtractorConfig{
			Backend: BackendYTDLP,
			Timeout: 60 * time.Second,
			Format:  "bestaudio/best",
			Retries: 3,
		},
		Transcode: TranscodeConfig{
			Bitrate:   "192k",
			OutputDir: "media",
			FFmpeg:    "ffmpeg",
		},
		History: HistoryConfig{
			Size: 10,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// SetDefaults registers every key with its default so that environment
// variables resolve even for keys without a bound flag.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("search.limit", d.Search.Limit)
	v.SetDefault("search.max_duration", d.Search.MaxDuration)
	v.SetDefault("search.drop_unknown_duration", d.Search.DropUnknownDuration)
	v.SetDefault("playlist.apply_duration_cap", d.Playlist.ApplyDurationCap)
	v.SetDefault("playlist.preview", d.Playlist.Preview)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("extractor.backend", d.Extractor.Backend)
	v.SetDefault("extractor.timeout", d.Extractor.Timeout)
	v.SetDefault("extractor.binary", d.Extractor.Binary)
	v.SetDefault("extractor.format", d.Extractor.Format)
	v.SetDefault("extractor.retries", d.Extractor.Retries)
	v.SetDefault("extractor.tls_fingerprint", d.Extractor.TLSFingerprint)
	v.SetDefault("credentials.cookies_file", "")
	v.SetDefault("credentials.cookies", "")
	v.SetDefault("credentials.keyring", false)
	v.SetDefault("credentials.proxy", "")
	v.SetDefault("credentials.temp_dir", "")
	v.SetDefault("transcode.bitrate", d.Transcode.Bitrate)
	v.SetDefault("transcode.output_dir", d.Transcode.OutputDir)
	v.SetDefault("transcode.ffmpeg", d.Transcode.FFmpeg)
	v.SetDefault("history.size", d.History.Size)
	v.SetDefault("library.path", "")
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
}

// Bind configures environment lookup: search.max_duration is read from
// DGETMUSIC_SEARCH_MAX_DURATION.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := gotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ReadFile merges a config file into v. Empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Search: SearchConfig{
			Limit:               v.GetInt("search.limit"),
			MaxDuration:         v.GetDuration("search.max_duration"),
			DropUnknownDuration: v.GetBool("search.drop_unknown_duration"),
		},
		Playlist: PlaylistConfig{
			ApplyDurationCap: v.GetBool("playlist.apply_duration_cap"),
			Preview:          v.GetInt("playlist.preview"),
		},
		Cache: CacheConfig{
			Size: v.GetInt("cache.size"),
			TTL:  v.GetDuration("cache.ttl"),
		},
		Extractor: ExtractorConfig{
			Backend:        strings.ToLower(strings.TrimSpace(v.GetString("extractor.backend"))),
			Timeout:        v.GetDuration("extractor.timeout"),
			Binary:         v.GetString("extractor.binary"),
			Format:         v.GetString("extractor.format"),
			Retries:        v.GetInt("extractor.retries"),
			TLSFingerprint: v.GetBool("extractor.tls_fingerprint"),
		},
		Credentials: CredentialsConfig{
			CookiesFile: v.GetString("credentials.cookies_file"),
			Cookies:     v.GetString("credentials.cookies"),
			Keyring:     v.GetBool("credentials.keyring"),
			Proxy:       v.GetString("credentials.proxy"),
			TempDir:     v.GetString("credentials.temp_dir"),
		},
		Transcode: TranscodeConfig{
			Bitrate:   v.GetString("transcode.bitrate"),
			OutputDir: v.GetString("transcode.output_dir"),
			FFmpeg:    v.GetString("transcode.ffmpeg"),
		},
		History: HistoryConfig{
			Size: v.GetInt("history.size"),
		},
		Library: LibraryConfig{
			Path: v.GetString("library.path"),
		},
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
	}
	if cfg.Library.Path == "" {
		cfg.Library.Path = filepath.Join(cfg.Transcode.OutputDir, "library.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Extractor.Backend {
	case BackendYTDLP, BackendNative:
	default:
		return fmt.Errorf("extractor.backend must be %q or %q, got %q", BackendYTDLP, BackendNative, c.Extractor.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be positive, got %d", c.Search.Limit)
	}
	if c.Search.MaxDuration < 0 {
		return errors.New("search.max_duration cannot be negative")
	}
	if c.Playlist.Preview <= 0 {
		return fmt.Errorf("playlist.preview must be positive, got %d", c.Playlist.Preview)
	}
	if c.Cache.Size < 0 {
		return errors.New("cache.size cannot be negative")
	}
	if c.Extractor.Timeout <= 0 {
		return errors.New("extractor.timeout must be positive")
	}
	if c.History.Size <= 0 {
		return fmt.Errorf("history.size must be positive, got %d", c.History.Size)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	return nil
}
