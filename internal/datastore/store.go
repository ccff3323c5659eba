// Package datastore is the durable local store for detections and the sync
// queue. Records survive process restarts; two backends are provided, a gorm
// store for SQLite and MySQL and a BadgerDB key-value store.
package datastore

import (
	"context"
	"fmt"
	"strings"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// Store is keyed by detection ID. Queue entries reference a detection record
// and are listed in enqueue (Seq) order.
type Store interface {
	SaveDetection(ctx context.Context, d *detection.Detection) error
	GetDetection(ctx context.Context, id string) (*detection.Detection, error)
	DeleteDetection(ctx context.Context, id string) error
	// UpdateSyncState changes only the sync state of an existing detection.
	UpdateSyncState(ctx context.Context, id string, state detection.SyncState) error

	// Enqueue saves the detection and its queue entry atomically.
	Enqueue(ctx context.Context, d *detection.Detection, entry detection.QueueEntry) error
	PutQueueEntry(ctx context.Context, entry detection.QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (detection.QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, id string) error
	ListQueueEntries(ctx context.Context) ([]detection.QueueEntry, error)

	// CompleteDelivery marks the detection synced and removes its queue entry
	// in one transaction.
	CompleteDelivery(ctx context.Context, id string) error

	Close() error
}

// Open creates the store selected by the settings backend.
func Open(settings *conf.StoreSettings) (Store, error) {
	switch strings.ToLower(settings.Backend) {
	case "sqlite", "":
		s, err := OpenSQLite(settings.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		s, err := OpenMySQL(mysqlDSN(&settings.MySQL))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger":
		s, err := OpenBadger(settings.Badger.Path, settings.Badger.InMemory)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Newf("unsupported store backend %q", settings.Backend).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func mysqlDSN(s *conf.MySQLSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		s.Username, s.Password, s.Host, s.Port, s.Database)
}

func notFound(kind, id string) error {
	return errors.Newf("%s %s not found", kind, id).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("id", id).
		Build()
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
