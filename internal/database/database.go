package database

import (
	"fmt"
	"strings"

	"github.com/ksred/arbitrage-api/internal/database/migrations"
	"github.com/ksred/arbitrage-api/internal/ledger"
	"github.com/ksred/arbitrage-api/internal/queue"
	"github.com/ksred/arbitrage-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection for the given
// sqlite file. Each caller owns its connection; tests open isolated files.
func NewDatabase(path string) (*gorm.DB, error) {
	if !strings.Contains(path, "?") {
		// WAL lets concurrent workers read while one writes; the busy timeout
		// makes contending claims queue up instead of failing fast.
		path += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}

	// Auto-migrate schemas
	err = db.AutoMigrate(
		&types.Order{},
		&types.Quote{},
		&queue.Task{},
		&ledger.OrderPair{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddCatalogLegIndex(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
