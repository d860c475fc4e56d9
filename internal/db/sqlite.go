package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLite opens a sqlite database at the given path and migrates the
// schema. Use ":memory:" for an ephemeral database; tests and single-user
// local installs run on this backend.
func NewSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", path, err)
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("sqlite auto migration failed: %w", err)
	}
	return gdb, nil
}
