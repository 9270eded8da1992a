package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

// DatabaseFileName is the history database inside the data directory.
const DatabaseFileName = "history.db"

// BoltDB wraps bolt database operations
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) the history database in dataDir. A database
// left locked by a crashed launcher is backed up and recreated.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	return openBoltDB(dataDir, logger, 10*time.Second)
}

func openBoltDB(dataDir string, logger *zap.SugaredLogger, timeout time.Duration) (*BoltDB, error) {
	dbPath := filepath.Join(dataDir, DatabaseFileName)

	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{Timeout: timeout})
	if err != nil {
		logger.Warnf("Failed to open history database on first attempt: %v", err)

		if err == bolterrors.ErrTimeout {
			logger.Info("History database is locked, attempting recovery")

			if _, statErr := os.Stat(dbPath); statErr == nil {
				backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
				logger.Infof("Creating backup at %s", backupPath)
				if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
					logger.Warnf("Failed to create backup: %v", cpErr)
				}
				if rmErr := os.Remove(dbPath); rmErr != nil {
					logger.Warnf("Failed to remove locked database file: %v", rmErr)
				}
			}

			db, err = bbolt.Open(dbPath, 0644, &bbolt.Options{Timeout: timeout / 2})
		}

		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database after recovery attempt: %w", err)
		}
	}

	b := &BoltDB{db: db, logger: logger}
	if err := b.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return b, nil
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Path returns the database file path.
func (b *BoltDB) Path() string {
	return b.db.Path()
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{RunsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		versionBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(versionBytes, CurrentSchemaVersion)
		return tx.Bucket([]byte(MetaBucket)).Put([]byte(SchemaVersionKey), versionBytes)
	})
}

// GetSchemaVersion returns the stored schema version
func (b *BoltDB) GetSchemaVersion() (uint64, error) {
	var version uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(MetaBucket))
		if bucket == nil {
			return fmt.Errorf("meta bucket not found")
		}
		if v := bucket.Get([]byte(SchemaVersionKey)); v != nil {
			version = binary.LittleEndian.Uint64(v)
		}
		return nil
	})
	return version, err
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
