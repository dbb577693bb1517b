// Package store is the durable chunk store: a GORM/SQLite backed key/value
// store holding per-resource metadata records and per-resource chunk
// records, with transactional upsert, ordered enumeration, and purge. A
// Database struct holds *gorm.DB with one method per logical operation
// against the two collections below.
package store

import (
	"errors"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dlcore/errs"
	"dlcore/store/models"
)

// Database is the process-wide Chunk Store. It is safe for concurrent use:
// GORM serializes access to the underlying *sql.DB, and every exported
// method here additionally holds mu for the duration of the call so that a
// put/list/delete sequence observes a consistent view of this process-wide
// shared state.
type Database struct {
	mu sync.Mutex
	db *gorm.DB
}

// Open creates or attaches to the SQLite file at path and migrates the
// chunk store schema.
func Open(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, errs.NewStorage(err)
	}

	if err := db.AutoMigrate(&models.TaskMeta{}, &models.ChunkRecord{}); err != nil {
		return nil, errs.NewStorage(err)
	}

	return &Database{db: db}, nil
}

// Close releases the underlying database connection.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return errs.NewStorage(err)
	}
	return sqlDB.Close()
}

// GetMetadata returns the metadata record for url, or (nil, nil) if absent.
func (d *Database) GetMetadata(url string) (*models.TaskMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var meta models.TaskMeta
	tx := d.db.Where("url = ?", url).First(&meta)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if tx.Error != nil {
		return nil, wrapStorageErr(tx.Error)
	}
	return &meta, nil
}

// ListMetadata returns every in-flight metadata record, for status
// reporting across a restart.
func (d *Database) ListMetadata() ([]models.TaskMeta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var metas []models.TaskMeta
	tx := d.db.Find(&metas)
	if tx.Error != nil {
		return nil, wrapStorageErr(tx.Error)
	}
	return metas, nil
}

// PutMetadata upserts the metadata record keyed by meta.URL.
func (d *Database) PutMetadata(meta *models.TaskMeta) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		UpdateAll: true,
	}).Create(meta)
	if tx.Error != nil {
		return wrapStorageErr(tx.Error)
	}
	return nil
}

// DeleteMetadata removes the metadata record for url, if any.
func (d *Database) DeleteMetadata(url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := d.db.Where("url = ?", url).Delete(&models.TaskMeta{})
	if tx.Error != nil {
		return wrapStorageErr(tx.Error)
	}
	return nil
}

// PutChunk stores bytes for (url, index). It is idempotent: if the key is
// already present, the call is a no-op rather than an overwrite, so a retry
// that crosses a successful-write boundary cannot corrupt a stored chunk.
func (d *Database) PutChunk(url string, index int, blob []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := &models.ChunkRecord{URL: url, Index: index, Blob: blob}
	tx := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if tx.Error != nil {
		return wrapStorageErr(tx.Error)
	}
	return nil
}

// ListChunks returns every chunk stored for url, ordered ascending by
// index.
func (d *Database) ListChunks(url string) ([]models.ChunkRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var chunks []models.ChunkRecord
	tx := d.db.Where("url = ?", url).Order("\"index\" asc").Find(&chunks)
	if tx.Error != nil {
		return nil, wrapStorageErr(tx.Error)
	}
	return chunks, nil
}

// DeleteChunks bulk-removes every chunk stored for url.
func (d *Database) DeleteChunks(url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := d.db.Where("url = ?", url).Delete(&models.ChunkRecord{})
	if tx.Error != nil {
		return wrapStorageErr(tx.Error)
	}
	return nil
}

// Reset wipes both collections. Intended for tests and for operator-driven
// full resets, not for per-task teardown (use DeleteMetadata/DeleteChunks
// for that).
func (d *Database) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if tx := d.db.Where("1 = 1").Delete(&models.TaskMeta{}); tx.Error != nil {
		return wrapStorageErr(tx.Error)
	}
	if tx := d.db.Where("1 = 1").Delete(&models.ChunkRecord{}); tx.Error != nil {
		return wrapStorageErr(tx.Error)
	}
	return nil
}

// wrapStorageErr classifies a raw GORM/SQLite error into the errs taxonomy.
// The sqlite3 driver does not export a typed sentinel for "database or disk
// image is full", so detection is string-based, same as GORM's own internal
// error classification for driver-specific cases.
func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "full") || strings.Contains(msg, "disk image is full") {
		return errs.NewQuota(err)
	}
	return errs.NewStorage(err)
}
