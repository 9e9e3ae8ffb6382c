package usage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packsmith/backend/internal/storage"
)

func newTestTracker(t *testing.T, pageSize int) *Tracker {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return NewTracker(store, pageSize)
}

func TestRecordAndReport(t *testing.T) {
	tracker := newTestTracker(t, 10)
	ctx := context.Background()

	require.NoError(t, tracker.Record(ctx, 1, "alice", "Alice", true))
	require.NoError(t, tracker.Record(ctx, 1, "alice", "Alice", true))
	require.NoError(t, tracker.Record(ctx, 2, "", "", false))

	page, err := tracker.Report(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalUsers)
	assert.Equal(t, 3, page.TotalEvents)
	require.Len(t, page.Stats, 2)
	assert.Equal(t, "alice", page.Stats[0].Label())
	assert.Equal(t, "ID 2", page.Stats[1].Label())
	assert.False(t, page.HasMore())
}

func TestReportPaging(t *testing.T) {
	tracker := newTestTracker(t, 2)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, tracker.Record(ctx, i, "", "", false))
	}

	page, err := tracker.Report(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, page.Stats, 2)
	assert.True(t, page.HasMore())

	last, err := tracker.Report(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, last.Stats, 1)
	assert.False(t, last.HasMore())
}

func TestReportClampsNegativeOffset(t *testing.T) {
	tracker := newTestTracker(t, 10)
	require.NoError(t, tracker.Record(context.Background(), 1, "", "", false))

	page, err := tracker.Report(context.Background(), -5)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Offset)
	assert.Len(t, page.Stats, 1)
}
