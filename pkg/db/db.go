package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (creating if necessary) the sqlite database at path and runs
// migrations for all persisted models. Token-usage snapshots are deliberately
// not persisted; they are server-authoritative and re-fetched every session.
func Open(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}

	if err := database.AutoMigrate(&Conversation{}, &CompactionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return database, nil
}
