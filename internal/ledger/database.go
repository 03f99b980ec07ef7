package ledger

import (
	"errors"
	"fmt"

	"github.com/ksred/arbitrage-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreatePair inserts a pair after verifying both referenced orders exist.
// The existence checks and the insert share one transaction, so a concurrent
// order deletion cannot leave a dangling reference behind.
func (d *Database) CreatePair(pair *OrderPair) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return storageErr(err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, orderID := range []uint{pair.LeftOrderID, pair.RightOrderID} {
		var order types.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			tx.Rollback()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("order %d: %w", orderID, types.ErrDanglingReference)
			}
			return storageErr(err)
		}
	}

	if err := tx.Create(pair).Error; err != nil {
		tx.Rollback()
		return storageErr(err)
	}

	return tx.Commit().Error
}

// GetPair retrieves a pair by its public id.
func (d *Database) GetPair(pairID string) (*OrderPair, error) {
	var pair OrderPair
	if err := d.db.Where("pair_id = ?", pairID).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pair %s: %w", pairID, types.ErrNotFound)
		}
		return nil, storageErr(err)
	}
	return &pair, nil
}

// GetPairsByOrder lists every pair one order participates in, either leg.
func (d *Database) GetPairsByOrder(orderID uint) ([]OrderPair, error) {
	var pairs []OrderPair
	if err := d.db.
		Where("left_order_id = ? OR right_order_id = ?", orderID, orderID).
		Order("opened_at ASC").
		Find(&pairs).Error; err != nil {
		return nil, storageErr(err)
	}
	return pairs, nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
}
