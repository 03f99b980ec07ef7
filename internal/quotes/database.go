package quotes

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/arbitrage-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateQuote appends one observation. Quotes are insert-only; there is no
// update or delete path in this package.
func (d *Database) CreateQuote(quote *types.Quote) error {
	if err := d.db.Create(quote).Error; err != nil {
		return storageErr(err)
	}
	return nil
}

// GetLatest returns the most recent observation for (exchange, pair).
func (d *Database) GetLatest(exchange, pair string) (*types.Quote, error) {
	var quote types.Quote
	err := d.db.
		Where("exchange = ? AND pair = ?", exchange, pair).
		Order("time DESC").
		First(&quote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("quote %s/%s: %w", exchange, pair, types.ErrNotFound)
		}
		return nil, storageErr(err)
	}
	return &quote, nil
}

// GetRange returns observations within [from, to] inclusive, ascending by
// time. Each call re-reads from storage, so a consumer can restart the scan
// at any point. The composite (exchange, pair, time) index makes this the
// cheap dominant query for window detection.
func (d *Database) GetRange(exchange, pair string, from, to time.Time) ([]types.Quote, error) {
	var result []types.Quote
	err := d.db.
		Where("exchange = ? AND pair = ? AND time >= ? AND time <= ?", exchange, pair, from, to).
		Order("time ASC").
		Find(&result).Error
	if err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
}
