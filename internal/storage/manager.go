package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Manager stores and queries launch history
type Manager struct {
	db     *BoltDB
	mu     sync.RWMutex
	logger *zap.SugaredLogger
}

// NewManager creates a new storage manager
func NewManager(dataDir string, logger *zap.SugaredLogger) (*Manager, error) {
	db, err := NewBoltDB(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt database: %w", err)
	}
	return &Manager{db: db, logger: logger}, nil
}

// Close closes the storage manager
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// DB exposes the underlying database for health checks.
func (m *Manager) DB() *bbolt.DB {
	if m.db == nil {
		return nil
	}
	return m.db.db
}

// runKey orders records by start time: {20-digit unix nanos}_{ulid}.
func runKey(startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", startedAt.UnixNano(), id))
}

// SaveRun stores a run record, filling in ID and StartedAt when unset.
func (m *Manager) SaveRun(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.db.Update(func(tx *bbolt.Tx) error {
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal run record: %w", err)
		}
		if err := tx.Bucket([]byte(RunsBucket)).Put(runKey(record.StartedAt, record.ID), data); err != nil {
			return fmt.Errorf("failed to store run record: %w", err)
		}
		return nil
	})
}

// GetRun returns the run with the given ID
func (m *Manager) GetRun(id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *RunRecord
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(RunsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if len(k) < 22 || string(k[21:]) != id {
				continue
			}
			var r RunRecord
			if err := r.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal run record: %w", err)
			}
			found = &r
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return found, nil
}

// ListRuns returns matching runs newest first, plus the total match count.
func (m *Manager) ListRuns(filter RunFilter) ([]*RunRecord, int, error) {
	filter.Validate()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		records []*RunRecord
		total   int
	)
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(RunsBucket)).Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r RunRecord
			if err := r.UnmarshalBinary(v); err != nil {
				m.logger.Warnw("Failed to unmarshal run record", "key", string(k), "error", err)
				continue
			}
			if !filter.Matches(&r) {
				continue
			}
			total++
			if skipped < filter.Offset {
				skipped++
				continue
			}
			if len(records) < filter.Limit {
				records = append(records, &r)
			}
		}
		return nil
	})
	return records, total, err
}

// CountRuns returns the number of stored runs
func (m *Manager) CountRuns() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	err := m.db.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(RunsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// PruneOldRuns deletes runs that started more than maxAge ago.
func (m *Manager) PruneOldRuns(maxAge time.Duration) (int, error) {
	cutoff := string(runKey(time.Now().UTC().Add(-maxAge), ""))
	return m.prune(func(k []byte, _ int) bool { return string(k) < cutoff })
}

// PruneExcessRuns deletes the oldest runs so at most keep remain.
func (m *Manager) PruneExcessRuns(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	return m.prune(func(_ []byte, remaining int) bool { return remaining > keep })
}

// prune walks oldest first and deletes while drop returns true. remaining
// is the number of records not yet deleted, including the current one.
func (m *Manager) prune(drop func(key []byte, remaining int) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int
	err := m.db.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(RunsBucket))
		remaining := bucket.Stats().KeyN

		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && drop(k, remaining); k, _ = c.Next() {
			keys = append(keys, append([]byte{}, k...))
			remaining--
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete run record: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		m.logger.Infow("Pruned launch history", "deleted", deleted)
	}
	return deleted, nil
}
