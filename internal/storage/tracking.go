package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/packsmith/backend/internal/core"
)

// CreateLink inserts an active tracking link and returns it with its id.
func (s *Store) CreateLink(ctx context.Context, tag, slug string) (core.TrackingLink, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_links (tag, slug, created_at, deleted_at)
		VALUES (?, ?, ?, NULL)`,
		tag, slug, now.Format(time.RFC3339Nano))
	if err != nil {
		return core.TrackingLink{}, fmt.Errorf("create link: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.TrackingLink{}, fmt.Errorf("create link: %w", err)
	}
	return core.TrackingLink{LinkID: id, Tag: tag, Slug: slug, CreatedAt: now}, nil
}

// GetLink returns the link by id; deleted links are excluded unless
// includeDeleted is set. Missing links come back nil.
func (s *Store) GetLink(ctx context.Context, linkID int64, includeDeleted bool) (*core.TrackingLink, error) {
	query := `SELECT link_id, tag, slug, created_at, deleted_at
		FROM tracking_links WHERE link_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	return s.scanLink(s.db.QueryRowContext(ctx, query, linkID))
}

// GetLinkBySlug returns the link by slug over the selected subset.
func (s *Store) GetLinkBySlug(ctx context.Context, slug string, includeDeleted bool) (*core.TrackingLink, error) {
	query := `SELECT link_id, tag, slug, created_at, deleted_at
		FROM tracking_links WHERE slug = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	return s.scanLink(s.db.QueryRowContext(ctx, query, slug))
}

// ListLinks returns links newest first.
func (s *Store) ListLinks(ctx context.Context, includeDeleted bool) ([]core.TrackingLink, error) {
	query := `SELECT link_id, tag, slug, created_at, deleted_at FROM tracking_links`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []core.TrackingLink
	for rows.Next() {
		link, err := scanLinkRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list links: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// SoftDeleteLink marks the link deleted, freeing its slug. Returns false when
// the link was absent or already deleted.
func (s *Store) SoftDeleteLink(ctx context.Context, linkID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracking_links SET deleted_at = ?
		WHERE link_id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), linkID)
	if err != nil {
		return false, fmt.Errorf("delete link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete link: %w", err)
	}
	return affected > 0, nil
}

// LogEvent appends an event row.
func (s *Store) LogEvent(ctx context.Context, linkID, userID int64, kind core.EventKind, firstStart bool) (core.TrackingEvent, error) {
	now := time.Now().UTC()
	first := 0
	if firstStart {
		first = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_events (link_id, user_id, kind, first_start, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		linkID, userID, string(kind), first, now.Format(time.RFC3339Nano))
	if err != nil {
		return core.TrackingEvent{}, fmt.Errorf("log event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.TrackingEvent{}, fmt.Errorf("log event: %w", err)
	}
	return core.TrackingEvent{
		EventID:    id,
		LinkID:     linkID,
		UserID:     userID,
		Kind:       kind,
		FirstStart: firstStart,
		CreatedAt:  now,
	}, nil
}

// HasUserStarted reports whether any event exists for (link, user).
func (s *Store) HasUserStarted(ctx context.Context, linkID, userID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM tracking_events WHERE link_id = ? AND user_id = ? LIMIT 1`,
		linkID, userID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("has user started: %w", err)
	}
	return true, nil
}

// EventsForLink lists events newest first, optionally bounded by an
// inclusive date window.
func (s *Store) EventsForLink(ctx context.Context, linkID int64, from, to *time.Time) ([]core.TrackingEvent, error) {
	query := `SELECT event_id, link_id, user_id, kind, first_start, created_at
		FROM tracking_events WHERE link_id = ?`
	args := []interface{}{linkID}
	if from != nil {
		query += ` AND created_at >= ?`
		args = append(args, from.UTC().Format(time.RFC3339Nano))
	}
	if to != nil {
		query += ` AND created_at < ?`
		args = append(args, to.UTC().Add(24*time.Hour).Format(time.RFC3339Nano))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events for link: %w", err)
	}
	defer rows.Close()

	var events []core.TrackingEvent
	for rows.Next() {
		var ev core.TrackingEvent
		var kind, createdAt string
		var first int
		if err := rows.Scan(&ev.EventID, &ev.LinkID, &ev.UserID, &kind, &first, &createdAt); err != nil {
			return nil, fmt.Errorf("events for link: %w", err)
		}
		ev.Kind = core.EventKind(kind)
		ev.FirstStart = first != 0
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AggregatedStats computes (total_events, unique_users, first_starts) per
// active link, optionally filtered by link ids and date window, optionally
// grouped by day.
func (s *Store) AggregatedStats(ctx context.Context, linkIDs []int64, from, to *time.Time, daily bool) ([]core.LinkStats, error) {
	dateExpr := "NULL"
	if daily {
		dateExpr = "date(e.created_at)"
	}
	query := fmt.Sprintf(`
		SELECT l.link_id, l.tag, l.slug, %s AS event_date,
		       COUNT(*) AS total_events,
		       COUNT(DISTINCT e.user_id) AS unique_users,
		       SUM(e.first_start) AS first_starts
		FROM tracking_links l
		INNER JOIN tracking_events e ON l.link_id = e.link_id
		WHERE l.deleted_at IS NULL`, dateExpr)

	var args []interface{}
	if len(linkIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(linkIDs)), ",")
		query += fmt.Sprintf(" AND l.link_id IN (%s)", placeholders)
		for _, id := range linkIDs {
			args = append(args, id)
		}
	}
	if from != nil {
		query += " AND e.created_at >= ?"
		args = append(args, from.UTC().Format(time.RFC3339Nano))
	}
	if to != nil {
		query += " AND e.created_at < ?"
		args = append(args, to.UTC().Add(24*time.Hour).Format(time.RFC3339Nano))
	}
	if daily {
		query += " GROUP BY l.link_id, l.tag, l.slug, event_date ORDER BY event_date, l.link_id"
	} else {
		query += " GROUP BY l.link_id, l.tag, l.slug ORDER BY l.link_id"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregated stats: %w", err)
	}
	defer rows.Close()

	var out []core.LinkStats
	for rows.Next() {
		var st core.LinkStats
		var date sql.NullString
		var firstStarts sql.NullInt64
		if err := rows.Scan(&st.LinkID, &st.Tag, &st.Slug, &date,
			&st.TotalEvents, &st.UniqueUsers, &firstStarts); err != nil {
			return nil, fmt.Errorf("aggregated stats: %w", err)
		}
		if date.Valid {
			if t, err := time.Parse("2006-01-02", date.String); err == nil {
				t = t.UTC()
				st.Date = &t
			}
		}
		st.FirstStarts = int(firstStarts.Int64)
		out = append(out, st)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanLink(row *sql.Row) (*core.TrackingLink, error) {
	link, err := scanLinkRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get link: %w", err)
	}
	return &link, nil
}

func scanLinkRow(row rowScanner) (core.TrackingLink, error) {
	var link core.TrackingLink
	var createdAt string
	var deletedAt sql.NullString
	if err := row.Scan(&link.LinkID, &link.Tag, &link.Slug, &createdAt, &deletedAt); err != nil {
		return core.TrackingLink{}, err
	}
	link.CreatedAt = parseTime(createdAt)
	if deletedAt.Valid {
		t := parseTime(deletedAt.String)
		link.DeletedAt = &t
	}
	return link, nil
}
