package datastore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

var testTime = time.Date(2024, 5, 1, 5, 30, 0, 0, time.UTC)

func newDetection(id string) *detection.Detection {
	return &detection.Detection{
		ID:             id,
		CommonName:     "Great Tit",
		ScientificName: "Parus major",
		Confidence:     0.82,
		Timestamp:      testTime,
		Location:       &detection.Location{Latitude: 60.1699, Longitude: 24.9384},
		Bearing:        &detection.Bearing{AngleDegrees: -17.5, Confidence: 0.7},
		Origin:         detection.OriginOffline,
		SyncState:      detection.SyncUnsynced,
	}
}

func newEntry(id string, seq uint64) detection.QueueEntry {
	return detection.QueueEntry{DetectionID: id, Seq: seq, EnqueuedAt: testTime}
}

// backends returns a fresh instance of every embedded backend.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "hybrid.db"))
	require.NoError(t, err)

	badgerStore, err := OpenBadger("", true)
	require.NoError(t, err)

	stores := map[string]Store{"sqlite": sqliteStore, "badger": badgerStore}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestDetectionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			d := newDetection("det-1")
			require.NoError(t, store.SaveDetection(ctx, d))

			got, err := store.GetDetection(ctx, "det-1")
			require.NoError(t, err)
			assert.Equal(t, d.ScientificName, got.ScientificName)
			assert.Equal(t, d.Origin, got.Origin)
			assert.True(t, d.Timestamp.Equal(got.Timestamp))
			require.NotNil(t, got.Location)
			assert.InDelta(t, 60.1699, got.Location.Latitude, 1e-9)
			require.NotNil(t, got.Bearing)
			assert.InDelta(t, -17.5, got.Bearing.AngleDegrees, 1e-9)

			plain := newDetection("det-2")
			plain.Location, plain.Bearing = nil, nil
			require.NoError(t, store.SaveDetection(ctx, plain))
			got, err = store.GetDetection(ctx, "det-2")
			require.NoError(t, err)
			assert.Nil(t, got.Location)
			assert.Nil(t, got.Bearing)
		})
	}
}

func TestGetMissingDetection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetDetection(ctx, "missing")
			require.Error(t, err)
			assert.True(t, errors.IsNotFound(err))

			_, err = store.GetQueueEntry(ctx, "missing")
			assert.True(t, errors.IsNotFound(err))

			err = store.UpdateSyncState(ctx, "missing", detection.SyncPending)
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestQueueOrderAndUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// insert out of order, list must follow seq
			for _, seq := range []uint64{3, 1, 12, 2} {
				id := fmt.Sprintf("det-%d", seq)
				require.NoError(t, store.Enqueue(ctx, newDetection(id), newEntry(id, seq)))
			}

			entries, err := store.ListQueueEntries(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 4)
			assert.Equal(t, []string{"det-1", "det-2", "det-3", "det-12"}, ids(entries))

			failed := entries[0]
			failed.AttemptCount++
			failed.LastError = "connection refused"
			failed.LastAttemptAt = testTime.Add(time.Minute)
			require.NoError(t, store.PutQueueEntry(ctx, failed))

			got, err := store.GetQueueEntry(ctx, "det-1")
			require.NoError(t, err)
			assert.Equal(t, 1, got.AttemptCount)
			assert.Equal(t, "connection refused", got.LastError)
			assert.True(t, got.LastAttemptAt.Equal(testTime.Add(time.Minute)))

			require.NoError(t, store.DeleteQueueEntry(ctx, "det-2"))
			require.NoError(t, store.DeleteQueueEntry(ctx, "det-2"), "delete is idempotent")

			entries, err = store.ListQueueEntries(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"det-1", "det-3", "det-12"}, ids(entries))
		})
	}
}

func TestCompleteDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Enqueue(ctx, newDetection("det-1"), newEntry("det-1", 1)))
			require.NoError(t, store.UpdateSyncState(ctx, "det-1", detection.SyncPending))

			require.NoError(t, store.CompleteDelivery(ctx, "det-1"))
			require.NoError(t, store.CompleteDelivery(ctx, "det-1"), "repeat is a no-op")

			d, err := store.GetDetection(ctx, "det-1")
			require.NoError(t, err)
			assert.Equal(t, detection.SyncSynced, d.SyncState)

			entries, err := store.ListQueueEntries(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestDeleteDetectionRemovesQueueEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Enqueue(ctx, newDetection("det-1"), newEntry("det-1", 1)))
			require.NoError(t, store.DeleteDetection(ctx, "det-1"))

			_, err := store.GetDetection(ctx, "det-1")
			assert.True(t, errors.IsNotFound(err))
			entries, err := store.ListQueueEntries(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "hybrid.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, newDetection("det-1"), newEntry("det-1", 7)))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	entries, err := store.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(7), entries[0].Seq)
}

func TestBadgerSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenBadger(dir, false)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(ctx, newDetection("det-1"), newEntry("det-1", 7)))
	require.NoError(t, store.Close())

	store, err = OpenBadger(dir, false)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	entries, err := store.ListQueueEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "det-1", entries[0].DetectionID)
}

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	store, err := Open(&conf.StoreSettings{Backend: "badger", Badger: conf.BadgerSettings{InMemory: true}})
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, store)
	require.NoError(t, store.Close())

	store, err = Open(&conf.StoreSettings{Backend: "sqlite", SQLite: conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "x.db")}})
	require.NoError(t, err)
	assert.IsType(t, &GormStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(&conf.StoreSettings{Backend: "postgres"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ConfigurationError)
}

func TestMySQLDSN(t *testing.T) {
	dsn := mysqlDSN(&conf.MySQLSettings{Host: "db", Port: 3306, Username: "u", Password: "p", Database: "birdnet"})
	assert.Equal(t, "u:p@tcp(db:3306)/birdnet?charset=utf8mb4&parseTime=True&loc=UTC", dsn)
}

func ids(entries []detection.QueueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.DetectionID
	}
	return out
}
