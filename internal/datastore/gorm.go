package datastore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// detectionRecord is the SQL row for a detection.
type detectionRecord struct {
	ID                string `gorm:"primaryKey;size:64"`
	CommonName        string
	ScientificName    string `gorm:"index:idx_detections_sciname"`
	Confidence        float64
	Timestamp         time.Time `gorm:"index:idx_detections_timestamp"`
	Latitude          *float64
	Longitude         *float64
	BearingAngle      *float64
	BearingConfidence *float64
	Origin            string `gorm:"size:16"`
	SyncState         string `gorm:"size:16;index:idx_detections_sync_state"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (detectionRecord) TableName() string { return "detections" }

// queueRecord is the SQL row for a sync queue entry.
type queueRecord struct {
	DetectionID   string `gorm:"primaryKey;size:64"`
	Seq           uint64 `gorm:"uniqueIndex:idx_sync_queue_seq"`
	AttemptCount  int
	LastError     string `gorm:"type:text"`
	EnqueuedAt    time.Time
	LastAttemptAt *time.Time // nil until the first delivery attempt
}

func (queueRecord) TableName() string { return "sync_queue" }

// GormStore implements Store on SQLite or MySQL.
type GormStore struct {
	DB      *gorm.DB
	dialect string
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*GormStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}
	return openGorm(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), "sqlite")
}

// OpenMySQL connects to MySQL using dsn.
func OpenMySQL(dsn string) (*GormStore, error) {
	return openGorm(mysql.Open(dsn), "mysql")
}

func openGorm(dialector gorm.Dialector, dialect string) (*GormStore, error) {
	log := GetLogger().Module(dialect)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		log.Error("failed to open database", logger.Error(err))
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dialect", dialect).
			Build()
	}

	if err := db.AutoMigrate(&detectionRecord{}, &queueRecord{}); err != nil {
		return nil, dbError(err, "auto_migrate")
	}
	log.Debug("database ready")
	return &GormStore{DB: db, dialect: dialect}, nil
}

func (s *GormStore) SaveDetection(ctx context.Context, d *detection.Detection) error {
	rec := toRecord(d)
	if err := s.DB.WithContext(ctx).Save(&rec).Error; err != nil {
		return dbError(err, "save_detection")
	}
	return nil
}

func (s *GormStore) GetDetection(ctx context.Context, id string) (*detection.Detection, error) {
	var rec detectionRecord
	err := s.DB.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("detection", id)
	}
	if err != nil {
		return nil, dbError(err, "get_detection")
	}
	return rec.toDetection(), nil
}

func (s *GormStore) DeleteDetection(ctx context.Context, id string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&queueRecord{}, "detection_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&detectionRecord{}, "id = ?", id).Error
	})
	if err != nil {
		return dbError(err, "delete_detection")
	}
	return nil
}

func (s *GormStore) UpdateSyncState(ctx context.Context, id string, state detection.SyncState) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&detectionRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return notFound("detection", id)
		}
		return tx.Model(&detectionRecord{}).Where("id = ?", id).Update("sync_state", string(state)).Error
	})
	if errors.IsNotFound(err) {
		return err
	}
	if err != nil {
		return dbError(err, "update_sync_state")
	}
	return nil
}

func (s *GormStore) Enqueue(ctx context.Context, d *detection.Detection, entry detection.QueueEntry) error {
	rec := toRecord(d)
	q := toQueueRecord(entry)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		return tx.Save(&q).Error
	})
	if err != nil {
		return dbError(err, "enqueue")
	}
	return nil
}

func (s *GormStore) PutQueueEntry(ctx context.Context, entry detection.QueueEntry) error {
	q := toQueueRecord(entry)
	if err := s.DB.WithContext(ctx).Save(&q).Error; err != nil {
		return dbError(err, "put_queue_entry")
	}
	return nil
}

func (s *GormStore) GetQueueEntry(ctx context.Context, id string) (detection.QueueEntry, error) {
	var q queueRecord
	err := s.DB.WithContext(ctx).First(&q, "detection_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return detection.QueueEntry{}, notFound("queue entry", id)
	}
	if err != nil {
		return detection.QueueEntry{}, dbError(err, "get_queue_entry")
	}
	return q.toEntry(), nil
}

func (s *GormStore) DeleteQueueEntry(ctx context.Context, id string) error {
	if err := s.DB.WithContext(ctx).Delete(&queueRecord{}, "detection_id = ?", id).Error; err != nil {
		return dbError(err, "delete_queue_entry")
	}
	return nil
}

func (s *GormStore) ListQueueEntries(ctx context.Context) ([]detection.QueueEntry, error) {
	var rows []queueRecord
	if err := s.DB.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, dbError(err, "list_queue_entries")
	}
	entries := make([]detection.QueueEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].toEntry()
	}
	return entries, nil
}

func (s *GormStore) CompleteDelivery(ctx context.Context, id string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&detectionRecord{}).
			Where("id = ?", id).
			Update("sync_state", string(detection.SyncSynced)).Error
		if err != nil {
			return err
		}
		return tx.Delete(&queueRecord{}, "detection_id = ?", id).Error
	})
	if err != nil {
		return dbError(err, "complete_delivery")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	if s.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}

func toRecord(d *detection.Detection) detectionRecord {
	rec := detectionRecord{
		ID:             d.ID,
		CommonName:     d.CommonName,
		ScientificName: d.ScientificName,
		Confidence:     d.Confidence,
		Timestamp:      d.Timestamp.UTC(),
		Origin:         string(d.Origin),
		SyncState:      string(d.SyncState),
	}
	if d.Location != nil {
		lat, lon := d.Location.Latitude, d.Location.Longitude
		rec.Latitude, rec.Longitude = &lat, &lon
	}
	if d.Bearing != nil {
		angle, confidence := d.Bearing.AngleDegrees, d.Bearing.Confidence
		rec.BearingAngle, rec.BearingConfidence = &angle, &confidence
	}
	return rec
}

func (r *detectionRecord) toDetection() *detection.Detection {
	d := &detection.Detection{
		ID:             r.ID,
		CommonName:     r.CommonName,
		ScientificName: r.ScientificName,
		Confidence:     r.Confidence,
		Timestamp:      r.Timestamp.UTC(),
		Origin:         detection.Origin(r.Origin),
		SyncState:      detection.SyncState(r.SyncState),
	}
	if r.Latitude != nil && r.Longitude != nil {
		d.Location = &detection.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	if r.BearingAngle != nil && r.BearingConfidence != nil {
		d.Bearing = &detection.Bearing{AngleDegrees: *r.BearingAngle, Confidence: *r.BearingConfidence}
	}
	return d
}

func toQueueRecord(e detection.QueueEntry) queueRecord {
	q := queueRecord{
		DetectionID:  e.DetectionID,
		Seq:          e.Seq,
		AttemptCount: e.AttemptCount,
		LastError:    e.LastError,
		EnqueuedAt:   e.EnqueuedAt.UTC(),
	}
	if !e.LastAttemptAt.IsZero() {
		at := e.LastAttemptAt.UTC()
		q.LastAttemptAt = &at
	}
	return q
}

func (q *queueRecord) toEntry() detection.QueueEntry {
	e := detection.QueueEntry{
		DetectionID:  q.DetectionID,
		Seq:          q.Seq,
		AttemptCount: q.AttemptCount,
		LastError:    q.LastError,
		EnqueuedAt:   q.EnqueuedAt.UTC(),
	}
	if q.LastAttemptAt != nil {
		e.LastAttemptAt = q.LastAttemptAt.UTC()
	}
	return e
}
