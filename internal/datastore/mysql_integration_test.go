//go:build integration

package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
)

func TestMySQLStoreIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("birdnet"),
		mysql.WithUsername("birdnet"),
		mysql.WithPassword("secret"),
	)
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()
	if err != nil {
		t.Skipf("mysql container unavailable: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "charset=utf8mb4", "parseTime=True", "loc=UTC")
	require.NoError(t, err)

	store, err := OpenMySQL(dsn)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Enqueue(ctx, newDetection("det-2"), newEntry("det-2", 2)))
	require.NoError(t, store.Enqueue(ctx, newDetection("det-1"), newEntry("det-1", 1)))

	entries, err := store.ListQueueEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"det-1", "det-2"}, ids(entries))

	// unchanged value must not be reported as a missing row
	require.NoError(t, store.UpdateSyncState(ctx, "det-1", detection.SyncUnsynced))

	require.NoError(t, store.CompleteDelivery(ctx, "det-1"))
	d, err := store.GetDetection(ctx, "det-1")
	require.NoError(t, err)
	assert.Equal(t, detection.SyncSynced, d.SyncState)
	require.NotNil(t, d.Bearing)

	entries, err = store.ListQueueEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"det-2"}, ids(entries))
}
