// Package repo implements the data persistence layer for the notification
// backend, backed by GORM. This file contains database bootstrapping helpers
// for SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/avelis/go-tasker-notify/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist (instead of the opaque
	// sqlite "out of memory (14)" on some platforms).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all pipeline models. A partial
// unique index backs the "one active link per app user" invariant that the
// linking transaction also enforces.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.IdentityLink{},
		&domain.LinkingCode{},
		&domain.UserPreferences{},
		&domain.ProjectChannel{},
		&domain.Task{},
		&domain.Project{},
		&domain.DeliveryLog{},
	); err != nil {
		return err
	}
	// GORM tags cannot express a partial index; SQLite can.
	return db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_links_active_app_user " +
			"ON identity_links(app_user_id) WHERE is_active = 1",
	).Error
}
