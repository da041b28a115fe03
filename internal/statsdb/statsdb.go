// Package statsdb is a SQLite-backed, rebuildable index and counters
// mirror layered on top of the filesystem cassette store. The JSON
// cassette file on disk remains the source of truth (spec §4.4); this
// package exists so the admin /api/cassettes listing and runtime counters
// can be queried without walking the cassette directory tree on every
// request, the way cdpnetool uses gorm+sqlite for its own durable state.
package statsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"vcrproxy/internal/logger"
)

// CassetteRow mirrors one cassette file for fast, queryable listing.
type CassetteRow struct {
	ID          uint   `gorm:"primarykey"`
	Domain      string `gorm:"index:idx_domain_fp,unique"`
	Fingerprint string `gorm:"index:idx_domain_fp,unique"`
	Method      string
	Path        string
	CassetteID  string `gorm:"index"`
	RecordedAt  time.Time
}

// CountersRow is a single-row table mirroring the mode engine's counters,
// so a restart can report the last known totals before enough traffic has
// flowed to rebuild confidence in them.
type CountersRow struct {
	ID       uint `gorm:"primarykey"`
	Total    int64
	Hits     int64
	Misses   int64
	Recorded int64
	Errors   int64
}

// DB wraps a gorm connection to the stats/index database.
type DB struct {
	gorm *gorm.DB
}

// Open opens (creating if absent) the SQLite database at path and
// auto-migrates its schema.
func Open(path string, log logger.Logger) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("vcrproxy: open stats db: %w", err)
	}
	if err := gdb.AutoMigrate(&CassetteRow{}, &CountersRow{}); err != nil {
		return nil, fmt.Errorf("vcrproxy: migrate stats db: %w", err)
	}
	return &DB{gorm: gdb}, nil
}

// IndexCassette upserts the index row for a recorded cassette. ctx should
// carry a trace id via WithTraceID so GormLogger can correlate the query
// with the request that triggered it.
func (db *DB) IndexCassette(ctx context.Context, domain, fingerprint, method, path, cassetteID string, recordedAt time.Time) error {
	row := CassetteRow{
		Domain:      domain,
		Fingerprint: fingerprint,
		Method:      method,
		Path:        path,
		CassetteID:  cassetteID,
		RecordedAt:  recordedAt,
	}
	return db.gorm.WithContext(ctx).
		Where(CassetteRow{Domain: domain, Fingerprint: fingerprint}).
		Assign(row).
		FirstOrCreate(&CassetteRow{}).Error
}

// RemoveCassette removes the index row for one cassette id.
func (db *DB) RemoveCassette(ctx context.Context, domain, cassetteID string) error {
	return db.gorm.WithContext(ctx).Where("domain = ? AND cassette_id = ?", domain, cassetteID).Delete(&CassetteRow{}).Error
}

// RemoveDomain removes all index rows for a domain.
func (db *DB) RemoveDomain(ctx context.Context, domain string) error {
	return db.gorm.WithContext(ctx).Where("domain = ?", domain).Delete(&CassetteRow{}).Error
}

// RemoveAll clears the entire cassette index.
func (db *DB) RemoveAll(ctx context.Context) error {
	return db.gorm.WithContext(ctx).Where("1 = 1").Delete(&CassetteRow{}).Error
}

// ListCassettes returns indexed cassettes, optionally filtered by domain.
func (db *DB) ListCassettes(ctx context.Context, domain string) ([]CassetteRow, error) {
	var rows []CassetteRow
	q := db.gorm.WithContext(ctx).Order("domain, cassette_id")
	if domain != "" {
		q = q.Where("domain = ?", domain)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("vcrproxy: list indexed cassettes: %w", err)
	}
	return rows, nil
}

// SaveCounters persists a snapshot of the mode engine's counters.
func (db *DB) SaveCounters(total, hits, misses, recorded, errs int64) error {
	row := CountersRow{ID: 1, Total: total, Hits: hits, Misses: misses, Recorded: recorded, Errors: errs}
	return db.gorm.Save(&row).Error
}

// LoadCounters returns the last persisted counters snapshot, if any.
func (db *DB) LoadCounters() (CountersRow, bool, error) {
	var row CountersRow
	err := db.gorm.First(&row, 1).Error
	if err == gorm.ErrRecordNotFound {
		return CountersRow{}, false, nil
	}
	if err != nil {
		return CountersRow{}, false, fmt.Errorf("vcrproxy: load counters: %w", err)
	}
	return row, true, nil
}

// Close releases the underlying database connection.
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
