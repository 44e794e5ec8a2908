package storage_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
	"github.com/stay-ledger/backend/internal/storage/storagetest"
)

func TestFeedSyncStateKeepsSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	feeds := storage.NewFeedRepository(db)
	events := storage.NewExternalEventRepository(db)

	feed := &models.Feed{Name: "Airbnb", URL: "https://example.com/a.ics", SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, feeds.Create(ctx, feed))

	syncedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshot := []models.ExternalEvent{
		{UID: "e1", Start: models.MustParseDate("2025-06-10"), End: models.MustParseDate("2025-06-12")},
	}
	require.NoError(t, db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := events.Replace(ctx, tx, feed.ID, snapshot); err != nil {
			return err
		}
		return feeds.MarkSynced(ctx, tx, feed.ID, syncedAt, len(snapshot))
	}))

	require.NoError(t, feeds.MarkFailed(ctx, feed.ID, syncedAt.Add(time.Hour), "boom"))

	got, err := feeds.GetByID(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)
	require.NotNil(t, got.SyncError)
	assert.Equal(t, "boom", *got.SyncError)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(syncedAt))
	assert.Equal(t, 1, got.EventCount)

	stored, err := events.ListByFeed(ctx, feed.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.ExternalEventStatus, stored[0].Status)
}

func TestFeedUpsertByURL(t *testing.T) {
	ctx := context.Background()
	feeds := storage.NewFeedRepository(storagetest.NewDB(t))

	first := &models.Feed{Name: "Airbnb", URL: "https://example.com/a.ics", SyncIntervalMin: 15}
	require.NoError(t, feeds.UpsertByURL(ctx, first))

	second := &models.Feed{Name: "Airbnb main", URL: "https://example.com/a.ics", SyncIntervalMin: 30}
	require.NoError(t, feeds.UpsertByURL(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	list, err := feeds.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Airbnb main", list[0].Name)
	assert.Equal(t, 30, list[0].SyncIntervalMin)
}

func TestDeleteFeedCascadesEvents(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	feeds := storage.NewFeedRepository(db)
	events := storage.NewExternalEventRepository(db)

	feed := &models.Feed{Name: "x", URL: "https://example.com/x.ics", SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, feeds.Create(ctx, feed))
	require.NoError(t, db.Transaction(ctx, func(tx *sql.Tx) error {
		return events.Replace(ctx, tx, feed.ID, []models.ExternalEvent{
			{UID: "e1", Start: models.MustParseDate("2025-06-10"), End: models.MustParseDate("2025-06-11")},
		})
	}))

	require.NoError(t, feeds.Delete(ctx, feed.ID))
	all, err := events.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.ErrorIs(t, feeds.Delete(ctx, feed.ID), storage.ErrRowNotFound)
}

func TestDisabledFeedEventsDoNotBlock(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	feeds := storage.NewFeedRepository(db)
	events := storage.NewExternalEventRepository(db)

	feed := &models.Feed{Name: "x", URL: "https://example.com/x.ics", SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, feeds.Create(ctx, feed))
	require.NoError(t, db.Transaction(ctx, func(tx *sql.Tx) error {
		return events.Replace(ctx, tx, feed.ID, []models.ExternalEvent{
			{UID: "e1", Start: models.MustParseDate("2025-06-10"), End: models.MustParseDate("2025-06-12")},
		})
	}))
	june := models.DateRange{Start: models.MustParseDate("2025-06-01"), End: models.MustParseDate("2025-07-01")}

	got, err := events.ListOverlapping(ctx, nil, june)
	require.NoError(t, err)
	require.Len(t, got, 1)

	feed.Enabled = false
	require.NoError(t, feeds.Update(ctx, feed))

	got, err = events.ListOverlapping(ctx, nil, june)
	require.NoError(t, err)
	assert.Empty(t, got)
	all, err := events.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	kept, err := events.ListByFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1, "snapshot survives disabling")
}
