package datastore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// Key prefixes for BadgerDB storage
const (
	detectionKeyPrefix = "det:"
	queueKeyPrefix     = "q:"
	queueSeqKeyPrefix  = "qs:" // qs:<zero-padded seq> -> detection ID, iterated for FIFO order
)

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the database directory at path. With inMemory set the path
// is ignored and nothing is written to disk.
func OpenBadger(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log: GetLogger().Module("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Context("in_memory", inMemory).
			Build()
	}
	return &BadgerStore{db: db}, nil
}

func detectionKey(id string) []byte { return []byte(detectionKeyPrefix + id) }
func queueKey(id string) []byte     { return []byte(queueKeyPrefix + id) }
func queueSeqKey(seq uint64) []byte { return fmt.Appendf(nil, "%s%020d", queueSeqKeyPrefix, seq) }

func (s *BadgerStore) SaveDetection(_ context.Context, d *detection.Detection) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, detectionKey(d.ID), d)
	})
	if err != nil {
		return dbError(err, "save_detection")
	}
	return nil
}

func (s *BadgerStore) GetDetection(_ context.Context, id string) (*detection.Detection, error) {
	var d detection.Detection
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, detectionKey(id), &d)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("detection", id)
	}
	if err != nil {
		return nil, dbError(err, "get_detection")
	}
	return &d, nil
}

func (s *BadgerStore) DeleteDetection(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deleteQueueEntry(txn, id); err != nil {
			return err
		}
		return txn.Delete(detectionKey(id))
	})
	if err != nil {
		return dbError(err, "delete_detection")
	}
	return nil
}

func (s *BadgerStore) UpdateSyncState(_ context.Context, id string, state detection.SyncState) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var d detection.Detection
		if err := getJSON(txn, detectionKey(id), &d); err != nil {
			return err
		}
		d.SyncState = state
		return setJSON(txn, detectionKey(id), &d)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound("detection", id)
	}
	if err != nil {
		return dbError(err, "update_sync_state")
	}
	return nil
}

func (s *BadgerStore) Enqueue(_ context.Context, d *detection.Detection, entry detection.QueueEntry) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, detectionKey(d.ID), d); err != nil {
			return err
		}
		return putQueueEntry(txn, entry)
	})
	if err != nil {
		return dbError(err, "enqueue")
	}
	return nil
}

func (s *BadgerStore) PutQueueEntry(_ context.Context, entry detection.QueueEntry) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return putQueueEntry(txn, entry)
	})
	if err != nil {
		return dbError(err, "put_queue_entry")
	}
	return nil
}

func (s *BadgerStore) GetQueueEntry(_ context.Context, id string) (detection.QueueEntry, error) {
	var entry detection.QueueEntry
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, queueKey(id), &entry)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return detection.QueueEntry{}, notFound("queue entry", id)
	}
	if err != nil {
		return detection.QueueEntry{}, dbError(err, "get_queue_entry")
	}
	return entry, nil
}

func (s *BadgerStore) DeleteQueueEntry(_ context.Context, id string) error {
	if err := s.db.Update(func(txn *badger.Txn) error { return deleteQueueEntry(txn, id) }); err != nil {
		return dbError(err, "delete_queue_entry")
	}
	return nil
}

func (s *BadgerStore) ListQueueEntries(_ context.Context) ([]detection.QueueEntry, error) {
	var entries []detection.QueueEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(queueSeqKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var entry detection.QueueEntry
			if err := getJSON(txn, queueKey(string(id)), &entry); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					GetLogger().Warn("dangling queue index", logger.String("id", string(id)))
					continue
				}
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, dbError(err, "list_queue_entries")
	}
	return entries, nil
}

func (s *BadgerStore) CompleteDelivery(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var d detection.Detection
		switch err := getJSON(txn, detectionKey(id), &d); {
		case err == nil:
			d.SyncState = detection.SyncSynced
			if err := setJSON(txn, detectionKey(id), &d); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return deleteQueueEntry(txn, id)
	})
	if err != nil {
		return dbError(err, "complete_delivery")
	}
	return nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}

// putQueueEntry writes the entry and keeps the seq index consistent when an
// existing entry is rewritten with a different seq.
func putQueueEntry(txn *badger.Txn, entry detection.QueueEntry) error {
	var prev detection.QueueEntry
	switch err := getJSON(txn, queueKey(entry.DetectionID), &prev); {
	case err == nil:
		if prev.Seq != entry.Seq {
			if err := txn.Delete(queueSeqKey(prev.Seq)); err != nil {
				return err
			}
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}

	if err := setJSON(txn, queueKey(entry.DetectionID), entry); err != nil {
		return err
	}
	return txn.Set(queueSeqKey(entry.Seq), []byte(entry.DetectionID))
}

func deleteQueueEntry(txn *badger.Txn, id string) error {
	var entry detection.QueueEntry
	err := getJSON(txn, queueKey(id), &entry)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := txn.Delete(queueSeqKey(entry.Seq)); err != nil {
		return err
	}
	return txn.Delete(queueKey(id))
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}
