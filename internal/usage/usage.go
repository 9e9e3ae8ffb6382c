// Package usage records per-user activity counters and serves paged
// summaries for the admin surface.
package usage

import (
	"context"

	"github.com/packsmith/backend/internal/core"
	"github.com/packsmith/backend/internal/storage"
)

// Page is one page of the usage report.
type Page struct {
	Stats       []core.UsageStat
	Offset      int
	PageSize    int
	TotalUsers  int
	TotalEvents int
}

// HasMore reports whether another page follows.
func (p Page) HasMore() bool {
	return p.Offset+len(p.Stats) < p.TotalUsers
}

// Tracker wraps the usage ledger.
type Tracker struct {
	store    *storage.Store
	pageSize int
}

// NewTracker builds a tracker with the configured page size.
func NewTracker(store *storage.Store, pageSize int) *Tracker {
	if pageSize < 1 {
		pageSize = 1
	}
	return &Tracker{store: store, pageSize: pageSize}
}

// Record bumps the user's counters. isMessage marks text traffic as opposed
// to media or commands.
func (t *Tracker) Record(ctx context.Context, userID int64, username, displayName string, isMessage bool) error {
	return t.store.IncrementUsage(ctx, userID, username, displayName, isMessage)
}

// Report returns one page of usage rows, busiest users first. A negative
// offset is clamped to zero.
func (t *Tracker) Report(ctx context.Context, offset int) (Page, error) {
	if offset < 0 {
		offset = 0
	}
	stats, totalUsers, totalEvents, err := t.store.UsagePage(ctx, offset, t.pageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Stats:       stats,
		Offset:      offset,
		PageSize:    t.pageSize,
		TotalUsers:  totalUsers,
		TotalEvents: totalEvents,
	}, nil
}
