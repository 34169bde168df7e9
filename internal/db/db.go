// Package db keeps the catalogue of transcoded tracks in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Track is one transcoded audio file and where it came from.
type Track struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	VideoID   string    `json:"video_id,omitempty"`
	SourceURL string    `json:"source_url"`
	FilePath  string    `json:"file_path"`
	Tier      string    `json:"access_tier_used"`
	// StoredCredentialUsed records that operator cookies were needed.
	StoredCredentialUsed bool      `json:"stored_credential_used"`
	CreatedAt            time.Time `json:"created_at"`
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS tracks (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    title                  TEXT NOT NULL DEFAULT '',
    video_id               TEXT NOT NULL DEFAULT '',
    source_url             TEXT NOT NULL DEFAULT '',
    file_path              TEXT NOT NULL UNIQUE,
    tier                   TEXT NOT NULL DEFAULT '',
    stored_credential_used INTEGER NOT NULL DEFAULT 0,
    created_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tracks_video_id ON tracks(video_id);
CREATE INDEX IF NOT EXISTS idx_tracks_created_at ON tracks(created_at);
`

var errNotInitialized = errors.New("database not initialized")

// DB wraps an SQLite connection for the track catalogue.
type DB struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Record inserts a track or, when its file is already catalogued, updates it.
// It returns the row id.
func (d *DB) Record(ctx context.Context, t Track) (int64, error) {
	if d == nil || d.db == nil {
		return 0, errNotInitialized
	}
	if t.FilePath == "" {
		return 0, errors.New("track has no file path")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	storedUsed := 0
	if t.StoredCredentialUsed {
		storedUsed = 1
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO tracks (title, video_id, source_url, file_path, tier, stored_credential_used)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			title=excluded.title, video_id=excluded.video_id,
			source_url=excluded.source_url, tier=excluded.tier,
			stored_credential_used=excluded.stored_credential_used
	`, t.Title, t.VideoID, t.SourceURL, t.FilePath, t.Tier, storedUsed)
	if err != nil {
		return 0, fmt.Errorf("recording track: %w", err)
	}

	// LastInsertId is unreliable for ON CONFLICT DO UPDATE.
	var id int64
	if err := d.db.QueryRowContext(ctx, "SELECT id FROM tracks WHERE file_path = ?", t.FilePath).Scan(&id); err != nil {
		return 0, fmt.Errorf("querying recorded track id: %w", err)
	}
	return id, nil
}

// List returns tracks newest first.
func (d *DB) List(ctx context.Context, limit, offset int) ([]Track, error) {
	if d == nil || d.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, title, video_id, source_url, file_path, tier, stored_credential_used, created_at
		FROM tracks
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying tracks: %w", err)
	}
	defer rows.Close()

	tracks := []Track{}
	for rows.Next() {
		var t Track
		var storedUsed int
		if err := rows.Scan(&t.ID, &t.Title, &t.VideoID, &t.SourceURL, &t.FilePath, &t.Tier, &storedUsed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning track row: %w", err)
		}
		t.StoredCredentialUsed = storedUsed != 0
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func (d *DB) Count(ctx context.Context) (int, error) {
	if d == nil || d.db == nil {
		return 0, errNotInitialized
	}
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting tracks: %w", err)
	}
	return count, nil
}

// Lazy opens the database on first use, creating its directory. Commands
// that never touch the catalogue never create the file.
type Lazy struct {
	path string
	once sync.Once
	db   *DB
	err  error
}

func OpenLazy(path string) *Lazy {
	return &Lazy{path: path}
}

func (l *Lazy) open() (*DB, error) {
	l.once.Do(func() {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			l.err = fmt.Errorf("creating catalogue directory: %w", err)
			return
		}
		l.db, l.err = Open(l.path)
	})
	return l.db, l.err
}

func (l *Lazy) Record(ctx context.Context, t Track) (int64, error) {
	d, err := l.open()
	if err != nil {
		return 0, err
	}
	return d.Record(ctx, t)
}

func (l *Lazy) List(ctx context.Context, limit, offset int) ([]Track, error) {
	d, err := l.open()
	if err != nil {
		return nil, err
	}
	return d.List(ctx, limit, offset)
}

// Close closes the database if it was ever opened.
func (l *Lazy) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
