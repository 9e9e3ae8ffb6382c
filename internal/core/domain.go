// Package core holds the shared domain model for the emoji-pack pipeline:
// grid geometry, pack requests/results, user settings and tracking records.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GridOption is a (rows, cols) partition of a source image.
type GridOption struct {
	Rows int
	Cols int
}

// Tiles returns rows*cols.
func (g GridOption) Tiles() int {
	return g.Rows * g.Cols
}

// String renders the canonical "RxC" form.
func (g GridOption) String() string {
	return fmt.Sprintf("%dx%d", g.Rows, g.Cols)
}

// ParseGrid decodes a grid string such as "2x3", "2X3" or "2×3".
func ParseGrid(s string) (GridOption, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "×", "x")
	parts := strings.SplitN(normalized, "x", 2)
	if len(parts) != 2 {
		return GridOption{}, NewError(InputInvalid, fmt.Sprintf("invalid grid %q", s))
	}
	rows, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return GridOption{}, NewError(InputInvalid, fmt.Sprintf("invalid grid rows %q", s))
	}
	cols, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return GridOption{}, NewError(InputInvalid, fmt.Sprintf("invalid grid cols %q", s))
	}
	if rows < 1 || cols < 1 {
		return GridOption{}, NewError(InputInvalid, fmt.Sprintf("grid %q must be at least 1x1", s))
	}
	return GridOption{Rows: rows, Cols: cols}, nil
}

// GridPlan is an ordered list of suggested grid options. Fallback is always
// the first option.
type GridPlan struct {
	Options  []GridOption
	Fallback GridOption
}

// PackRequest describes one emoji-pack submission. Immutable once enqueued.
type PackRequest struct {
	UserID       int64
	ChatID       int64
	FilePath     string
	ImageHash    string // SHA-256 hex of the raw source bytes
	Grid         GridOption
	Padding      int // padding level 0..5
	FileUniqueID string
	RequestedAt  time.Time // UTC
}

// PackResult is the outcome of a successful create-or-extend call.
type PackResult struct {
	ShortName         string
	Link              string
	CustomEmojiIDs    []string
	FragmentPreviewID string
}

// JobOutcome pairs a request with its result. Persisted under the cache
// fingerprint (user_id, image_hash, grid, padding).
type JobOutcome struct {
	Request   PackRequest
	Result    PackResult
	CreatedAt time.Time
}

// UserSettings holds per-user defaults for the emoji flow.
type UserSettings struct {
	UserID         int64
	DefaultGrid    GridOption
	DefaultPadding int
}

// TrackingLink is a deep link issued for a campaign tag. Soft-deleted links
// keep their row but free the slug for reuse.
type TrackingLink struct {
	LinkID    int64
	Tag       string
	Slug      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// EventKind distinguishes tracking event types.
type EventKind string

const (
	EventStart EventKind = "start"
	EventVisit EventKind = "visit"
)

// TrackingEvent is one ledger entry for a tracking link.
type TrackingEvent struct {
	EventID    int64
	LinkID     int64
	UserID     int64
	Kind       EventKind
	FirstStart bool
	CreatedAt  time.Time
}

// LinkStats is an aggregate over tracking events, optionally per day.
type LinkStats struct {
	LinkID      int64
	Tag         string
	Slug        string
	Date        *time.Time // nil unless grouped by day
	TotalEvents int
	UniqueUsers int
	FirstStarts int
}

// UsageStat is one row of the usage ledger.
type UsageStat struct {
	UserID       int64
	Username     string
	DisplayName  string
	TotalCount   int
	MessageCount int
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Label returns the best human-readable identifier for the user.
func (u UsageStat) Label() string {
	if u.Username != "" {
		return u.Username
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return fmt.Sprintf("ID %d", u.UserID)
}
