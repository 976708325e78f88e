package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vectorhaven/fleetctl/internal/logger"
)

// DB is the process-wide GORM handle, set by InitDatabase.
var DB *gorm.DB

// InitDatabase opens the configured database and migrates the models this
// core owns. A dsn of "sqlite::memory:" or a path ending in ".db" selects
// the SQLite driver, used by tests; anything else is treated as a
// PostgreSQL DSN, following the teacher's connection-string dispatch in
// shared/pkg/database/db.go.
func InitDatabase(dsn string) error {
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	DB = db
	return AutoMigrate(DB)
}

// Open constructs a *gorm.DB for dsn without assigning the package-level
// DB, so tests can run multiple isolated instances concurrently.
func Open(dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "sqlite:") || strings.HasSuffix(dsn, ".db") {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the tables this core owns.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Project{},
		&Backend{},
		&GatewayCompute{},
		&Gateway{},
		&Run{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	logger.Info("✓ Database schema migrated")
	return nil
}
