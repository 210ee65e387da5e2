// Package kvstore persists pending alarms, acknowledgement records and stale
// flags in BadgerDB.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hray3182/medline/internal/models"
)

const (
	alarmPrefix = "alarm:"
	ackPrefix   = "ack:"
	stalePrefix = "stale:"
)

// Store provides key-value persistence on top of BadgerDB
type Store struct {
	badger *badger.DB
}

// Open opens (or creates) a Badger database at path
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{badger: db}, nil
}

// OpenInMemory opens a non-persistent store, used by tests and dry runs
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger: %w", err)
	}
	return &Store{badger: db}, nil
}

func (s *Store) Close() error {
	return s.badger.Close()
}

func alarmKey(medicationID string, slot models.TimeSlot) []byte {
	return []byte(alarmPrefix + medicationID + ":" + slot.Compact())
}

func ackKey(medicationID string, occurrenceAt time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", ackPrefix, medicationID, occurrenceAt.UnixNano()))
}

// ==================== Alarm Methods ====================

func (s *Store) PutAlarm(ctx context.Context, alarm *models.PendingAlarm) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.put(alarmKey(alarm.MedicationID, alarm.Slot), alarm)
}

func (s *Store) DeleteAlarm(ctx context.Context, medicationID string, slot models.TimeSlot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete(alarmKey(medicationID, slot))
	})
}

// ListAlarms returns the alarms of one medication in slot order
func (s *Store) ListAlarms(ctx context.Context, medicationID string) ([]*models.PendingAlarm, error) {
	return scanPrefix[models.PendingAlarm](ctx, s, []byte(alarmPrefix+medicationID+":"))
}

// AllAlarms returns every persisted alarm
func (s *Store) AllAlarms(ctx context.Context) ([]*models.PendingAlarm, error) {
	return scanPrefix[models.PendingAlarm](ctx, s, []byte(alarmPrefix))
}

// ==================== Ack Methods ====================

func (s *Store) PutAck(ctx context.Context, rec *models.AckRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.put(ackKey(rec.MedicationID, rec.OccurrenceAt), rec)
}

// GetAck returns models.ErrNotFound when no record exists for the key
func (s *Store) GetAck(ctx context.Context, medicationID string, occurrenceAt time.Time) (*models.AckRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec models.AckRecord
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ackKey(medicationID, occurrenceAt))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListAcks returns records whose occurrence lies in [start, end)
func (s *Store) ListAcks(ctx context.Context, start, end time.Time) ([]*models.AckRecord, error) {
	all, err := scanPrefix[models.AckRecord](ctx, s, []byte(ackPrefix))
	if err != nil {
		return nil, err
	}
	return filterAcks(all, start, end), nil
}

// AcksFor returns one medication's records whose occurrence lies in [start, end)
func (s *Store) AcksFor(ctx context.Context, medicationID string, start, end time.Time) ([]*models.AckRecord, error) {
	all, err := scanPrefix[models.AckRecord](ctx, s, []byte(ackPrefix+medicationID+":"))
	if err != nil {
		return nil, err
	}
	return filterAcks(all, start, end), nil
}

func filterAcks(all []*models.AckRecord, start, end time.Time) []*models.AckRecord {
	out := make([]*models.AckRecord, 0, len(all))
	for _, rec := range all {
		if !rec.OccurrenceAt.Before(start) && rec.OccurrenceAt.Before(end) {
			out = append(out, rec)
		}
	}
	return out
}

// ==================== Stale Methods ====================

// MarkStale flags a medication whose alarms could not be persisted
func (s *Store) MarkStale(ctx context.Context, medicationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stalePrefix+medicationID), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

func (s *Store) ClearStale(ctx context.Context, medicationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(stalePrefix + medicationID))
	})
}

// StaleIDs lists medications flagged stale
func (s *Store) StaleIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	prefix := []byte(stalePrefix)
	err := s.badger.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), stalePrefix))
		}
		return nil
	})
	return ids, err
}

// ==================== Helpers ====================

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func scanPrefix[T any](ctx context.Context, s *Store, prefix []byte) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*T
	err := s.badger.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v := new(T)
			if err := item.Value(func(b []byte) error {
				return json.Unmarshal(b, v)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", item.Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}
