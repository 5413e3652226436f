// Package store keeps the last snapshot of each tab in SQLite so element
// ids stay resolvable across CLI invocations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/neboloop/pagepilot/internal/axtree"
	"github.com/neboloop/pagepilot/internal/store/migrations"
)

// ErrNotFound is returned when no snapshot is stored for a tab.
var ErrNotFound = errors.New("no stored snapshot")

// Store is a SQLite-backed snapshot store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Entry describes a stored snapshot without its tree.
type Entry struct {
	TabID     string    `json:"tabId"`
	Mode      string    `json:"mode"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; several CLI processes may share the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger := slog.Default().With("component", "store")
	logger.Debug("snapshot store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot for the snapshot's tab and mode.
func (s *Store) Save(ctx context.Context, snap *axtree.Snapshot) error {
	if snap == nil || snap.TabID == "" {
		return errors.New("snapshot has no tab id")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (tab_id, mode, url, title, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tab_id, mode) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			created_at = excluded.created_at,
			body = excluded.body`,
		snap.TabID, snap.Mode, snap.URL, snap.Title, snap.CreatedAt.UnixMilli(), string(body))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved", "tab", snap.TabID, "mode", snap.Mode, "bytes", len(body))
	return nil
}

// Load returns the stored snapshot for tab in mode, indexed and ready to
// use. An empty mode picks the most recent snapshot of either mode.
func (s *Store) Load(ctx context.Context, tab, mode string) (*axtree.Snapshot, error) {
	query := `SELECT body FROM snapshots WHERE tab_id = ? AND mode = ?`
	args := []any{tab, mode}
	if mode == "" {
		query = `SELECT body FROM snapshots WHERE tab_id = ? ORDER BY created_at DESC LIMIT 1`
		args = args[:1]
	}

	var body string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for tab %s", ErrNotFound, tab)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap axtree.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Root == nil {
		return nil, fmt.Errorf("decode snapshot: stored snapshot for tab %s has no root", tab)
	}
	if err := snap.Reindex(); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// List returns every stored snapshot, newest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tab_id, mode, url, title, created_at FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.TabID, &e.Mode, &e.URL, &e.Title, &created); err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes every snapshot stored for tab.
func (s *Store) Delete(ctx context.Context, tab string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE tab_id = ?`, tab); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Prune removes snapshots created before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned snapshots", "count", n)
	}
	return n, nil
}
