package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packsmith/backend/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
}

func TestUserSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetUserSettings(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "absent settings come back nil")

	settings := core.UserSettings{UserID: 1, DefaultGrid: core.GridOption{Rows: 3, Cols: 2}, DefaultPadding: 4}
	require.NoError(t, store.UpsertUserSettings(ctx, settings))

	got, err = store.GetUserSettings(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, settings, *got)

	// Upsert replaces.
	settings.DefaultPadding = 0
	require.NoError(t, store.UpsertUserSettings(ctx, settings))
	got, err = store.GetUserSettings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DefaultPadding)
}

func testOutcome(hash string) core.JobOutcome {
	return core.JobOutcome{
		Request: core.PackRequest{
			UserID:    7,
			ImageHash: hash,
			Grid:      core.GridOption{Rows: 2, Cols: 2},
			Padding:   1,
		},
		Result: core.PackResult{
			ShortName:         "pack_by_bot",
			Link:              "https://t.me/addemoji/pack_by_bot",
			CustomEmojiIDs:    []string{"a", "b", "c", "d"},
			FragmentPreviewID: "a",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestJobOutcomeSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	outcome := testOutcome("hash1")
	require.NoError(t, store.SaveJobOutcome(ctx, outcome))

	got, err := store.GetCachedJob(ctx, outcome.Request)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, outcome.Result.ShortName, got.Result.ShortName)
	assert.Equal(t, outcome.Result.CustomEmojiIDs, got.Result.CustomEmojiIDs)
	assert.Equal(t, outcome.Result.FragmentPreviewID, got.Result.FragmentPreviewID)

	missing := outcome.Request
	missing.ImageHash = "other"
	none, err := store.GetCachedJob(ctx, missing)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobOutcomeOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	outcome := testOutcome("hash1")
	require.NoError(t, store.SaveJobOutcome(ctx, outcome))

	outcome.Result.ShortName = "fresh_by_bot"
	outcome.Result.FragmentPreviewID = ""
	require.NoError(t, store.SaveJobOutcome(ctx, outcome))

	got, err := store.GetCachedJob(ctx, outcome.Request)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fresh_by_bot", got.Result.ShortName)
	assert.Empty(t, got.Result.FragmentPreviewID)
}

func TestUsageCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementUsage(ctx, 1, "alice", "Alice", true))
	require.NoError(t, store.IncrementUsage(ctx, 1, "alice", "Alice", false))
	require.NoError(t, store.IncrementUsage(ctx, 2, "", "Bob", true))

	stats, totalUsers, totalEvents, err := store.UsagePage(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, totalUsers)
	assert.Equal(t, 3, totalEvents)
	require.Len(t, stats, 2)

	// Busiest first.
	assert.Equal(t, int64(1), stats[0].UserID)
	assert.Equal(t, 2, stats[0].TotalCount)
	assert.Equal(t, 1, stats[0].MessageCount)
	assert.Equal(t, "alice", stats[0].Label())
	assert.Equal(t, "Bob", stats[1].Label())
}

func TestUsagePagePagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.IncrementUsage(ctx, i, "", "", false))
	}

	page1, totalUsers, _, err := store.UsagePage(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, totalUsers)
	assert.Len(t, page1, 2)

	page3, _, _, err := store.UsagePage(ctx, 4, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestEventsForLinkWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	link, err := store.CreateLink(ctx, "tag", "slug")
	require.NoError(t, err)
	_, err = store.LogEvent(ctx, link.LinkID, 1, core.EventStart, true)
	require.NoError(t, err)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	events, err := store.EventsForLink(ctx, link.LinkID, &today, &today)
	require.NoError(t, err)
	assert.Len(t, events, 1, "an inclusive to-date covers the whole day")

	yesterday := today.Add(-24 * time.Hour)
	events, err = store.EventsForLink(ctx, link.LinkID, &yesterday, &yesterday)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListLinksNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateLink(ctx, "first", "first")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = store.CreateLink(ctx, "second", "second")
	require.NoError(t, err)

	links, err := store.ListLinks(ctx, false)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "second", links[0].Tag)
}

func TestHasUserStarted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	link, err := store.CreateLink(ctx, "tag", "slug")
	require.NoError(t, err)

	started, err := store.HasUserStarted(ctx, link.LinkID, 1)
	require.NoError(t, err)
	assert.False(t, started)

	_, err = store.LogEvent(ctx, link.LinkID, 1, core.EventStart, true)
	require.NoError(t, err)

	started, err = store.HasUserStarted(ctx, link.LinkID, 1)
	require.NoError(t, err)
	assert.True(t, started)
}
