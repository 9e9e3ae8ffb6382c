// Package storage is the durable single-file store backing user settings,
// the emoji job cache, usage counters and the tracking ledger.
//
// Every write commits before the call returns; reads are single statements.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"github.com/packsmith/backend/internal/core"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database file. Call Migrate before use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, core.WrapError(core.Fatal, "open storage", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent workers.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id INTEGER PRIMARY KEY,
		default_grid TEXT NOT NULL,
		default_padding INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS emoji_jobs (
		user_id INTEGER NOT NULL,
		image_hash TEXT NOT NULL,
		grid TEXT NOT NULL,
		padding INTEGER NOT NULL,
		short_name TEXT NOT NULL,
		link TEXT NOT NULL,
		custom_emoji_ids TEXT NOT NULL,
		fragment_preview_id TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (user_id, image_hash, grid, padding)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_stats (
		user_id INTEGER PRIMARY KEY,
		username TEXT,
		display_name TEXT,
		total_count INTEGER NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_links (
		link_id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag TEXT NOT NULL,
		slug TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_events (
		event_id INTEGER PRIMARY KEY AUTOINCREMENT,
		link_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		first_start INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (link_id) REFERENCES tracking_links(link_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracking_links_active_slug
		ON tracking_links(slug) WHERE deleted_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_tracking_links_deleted
		ON tracking_links(deleted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tracking_events_link
		ON tracking_events(link_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tracking_events_link_user
		ON tracking_events(link_id, user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tracking_events_created
		ON tracking_events(created_at)`,
}

// Migrate creates the schema. Failure is fatal for startup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return core.WrapError(core.Fatal, "migrate storage", err)
		}
	}
	return nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// ============================================================================
// USER SETTINGS
// ============================================================================

// GetUserSettings returns the stored settings or nil when absent.
func (s *Store) GetUserSettings(ctx context.Context, userID int64) (*core.UserSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT default_grid, default_padding FROM user_settings WHERE user_id = ?`, userID)
	var gridRaw string
	var padding int
	if err := row.Scan(&gridRaw, &padding); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user settings: %w", err)
	}
	grid, err := core.ParseGrid(gridRaw)
	if err != nil {
		return nil, fmt.Errorf("get user settings: stored grid %q: %w", gridRaw, err)
	}
	return &core.UserSettings{UserID: userID, DefaultGrid: grid, DefaultPadding: padding}, nil
}

// UpsertUserSettings inserts or replaces the row for the user.
func (s *Store) UpsertUserSettings(ctx context.Context, settings core.UserSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, default_grid, default_padding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			default_grid = excluded.default_grid,
			default_padding = excluded.default_padding,
			updated_at = excluded.updated_at`,
		settings.UserID, settings.DefaultGrid.String(), settings.DefaultPadding, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert user settings: %w", err)
	}
	return nil
}

// ============================================================================
// EMOJI JOB CACHE
// ============================================================================

// SaveJobOutcome writes the outcome under its fingerprint, overwriting any
// prior entry with the same key.
func (s *Store) SaveJobOutcome(ctx context.Context, outcome core.JobOutcome) error {
	ids, err := json.Marshal(outcome.Result.CustomEmojiIDs)
	if err != nil {
		return fmt.Errorf("save job outcome: %w", err)
	}
	var preview sql.NullString
	if outcome.Result.FragmentPreviewID != "" {
		preview = sql.NullString{String: outcome.Result.FragmentPreviewID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO emoji_jobs (
			user_id, image_hash, grid, padding,
			short_name, link, custom_emoji_ids, fragment_preview_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.Request.UserID,
		outcome.Request.ImageHash,
		outcome.Request.Grid.String(),
		outcome.Request.Padding,
		outcome.Result.ShortName,
		outcome.Result.Link,
		string(ids),
		preview,
		nowUTC())
	if err != nil {
		return fmt.Errorf("save job outcome: %w", err)
	}
	return nil
}

// GetCachedJob returns the stored outcome for the request's fingerprint, or
// nil when absent. The service path currently treats the table as
// write-only bookkeeping and does not consult this accessor.
func (s *Store) GetCachedJob(ctx context.Context, req core.PackRequest) (*core.JobOutcome, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT short_name, link, custom_emoji_ids, fragment_preview_id, created_at
		FROM emoji_jobs
		WHERE user_id = ? AND image_hash = ? AND grid = ? AND padding = ?`,
		req.UserID, req.ImageHash, req.Grid.String(), req.Padding)
	var shortName, link, idsRaw, createdAt string
	var preview sql.NullString
	if err := row.Scan(&shortName, &link, &idsRaw, &preview, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached job: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(idsRaw), &ids); err != nil {
		return nil, fmt.Errorf("get cached job: decode emoji ids: %w", err)
	}
	return &core.JobOutcome{
		Request: req,
		Result: core.PackResult{
			ShortName:         shortName,
			Link:              link,
			CustomEmojiIDs:    ids,
			FragmentPreviewID: preview.String,
		},
		CreatedAt: parseTime(createdAt),
	}, nil
}

// ============================================================================
// USAGE STATS
// ============================================================================

// IncrementUsage upserts the user's row and bumps the counters. isMessage
// additionally bumps message_count.
func (s *Store) IncrementUsage(ctx context.Context, userID int64, username, displayName string, isMessage bool) error {
	messageDelta := 0
	if isMessage {
		messageDelta = 1
	}
	now := nowUTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_stats (user_id, username, display_name, total_count, message_count, first_seen, last_seen)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			total_count = total_count + 1,
			message_count = message_count + ?,
			last_seen = excluded.last_seen`,
		userID, username, displayName, messageDelta, now, now, messageDelta)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// UsagePage returns one page of usage rows ordered by total_count descending,
// plus the overall user and event totals.
func (s *Store) UsagePage(ctx context.Context, offset, limit int) ([]core.UsageStat, int, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COALESCE(username, ''), COALESCE(display_name, ''),
		       total_count, message_count, first_seen, last_seen
		FROM usage_stats
		ORDER BY total_count DESC, user_id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("usage page: %w", err)
	}
	defer rows.Close()

	var stats []core.UsageStat
	for rows.Next() {
		var st core.UsageStat
		var firstSeen, lastSeen string
		if err := rows.Scan(&st.UserID, &st.Username, &st.DisplayName,
			&st.TotalCount, &st.MessageCount, &firstSeen, &lastSeen); err != nil {
			return nil, 0, 0, fmt.Errorf("usage page: %w", err)
		}
		st.FirstSeen = parseTime(firstSeen)
		st.LastSeen = parseTime(lastSeen)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("usage page: %w", err)
	}

	var totalUsers, totalEvents int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_count), 0) FROM usage_stats`)
	if err := row.Scan(&totalUsers, &totalEvents); err != nil {
		return nil, 0, 0, fmt.Errorf("usage totals: %w", err)
	}
	return stats, totalUsers, totalEvents, nil
}
