package catalog

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

// CreateOrder inserts a new order. The row and all of its secondary indexes
// are committed as one unit, so no reader can find the order via one lookup
// path but not another.
func (d *Database) CreateOrder(order *types.Order) error {
	return d.transact(func(tx *gorm.DB) error {
		if order.ExchangeOrderID != nil {
			dup, err := findByExchangeOrderID(tx, order.Exchange, *order.ExchangeOrderID)
			if err != nil && !errors.Is(err, types.ErrNotFound) {
				return err
			}
			if dup != nil {
				return fmt.Errorf("order %s/%s: %w", order.Exchange, *order.ExchangeOrderID, types.ErrDuplicate)
			}
		}
		if err := tx.Create(order).Error; err != nil {
			return storageErr(err)
		}
		return nil
	})
}

// GetOrder retrieves an order by its internal sequence id.
func (d *Database) GetOrder(id uint) (*types.Order, error) {
	var order types.Order
	if err := d.db.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %d: %w", id, types.ErrNotFound)
		}
		return nil, storageErr(err)
	}
	return &order, nil
}

// GetOrderByExchangeOrderID is the duplicate-submission point lookup.
func (d *Database) GetOrderByExchangeOrderID(exchange, exchangeOrderID string) (*types.Order, error) {
	order, err := findByExchangeOrderID(d.db, exchange, exchangeOrderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func findByExchangeOrderID(tx *gorm.DB, exchange, exchangeOrderID string) (*types.Order, error) {
	var order types.Order
	err := tx.Where("exchange = ? AND exchange_order_id = ?", exchange, exchangeOrderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s/%s: %w", exchange, exchangeOrderID, types.ErrNotFound)
		}
		return nil, storageErr(err)
	}
	return &order, nil
}

// GetOrdersByExchange lists orders for exchange-wide reconciliation.
func (d *Database) GetOrdersByExchange(exchange string) ([]types.Order, error) {
	return d.listOrders("exchange = ?", exchange)
}

// GetOrdersByPair lists orders of one pair on one exchange.
func (d *Database) GetOrdersByPair(exchange, pair string) ([]types.Order, error) {
	return d.listOrders("exchange = ? AND pair = ?", exchange, pair)
}

// GetOrdersByExchangeAndSide filters candidate legs by exchange and side.
func (d *Database) GetOrdersByExchangeAndSide(exchange, side string) ([]types.Order, error) {
	return d.listOrders("exchange = ? AND side = ?", exchange, side)
}

// GetOrdersByPairAndSide filters candidate legs by pair and side across
// exchanges.
func (d *Database) GetOrdersByPairAndSide(pair, side string) ([]types.Order, error) {
	return d.listOrders("pair = ? AND side = ?", pair, side)
}

func (d *Database) listOrders(query string, args ...interface{}) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where(query, args...).Find(&orders).Error; err != nil {
		return nil, storageErr(err)
	}
	return orders, nil
}

// UpdateStatus applies a monotonic status transition. Equal status is a
// no-op; a lower-ranked target or any move out of a terminal state is
// rejected without mutating the row.
func (d *Database) UpdateStatus(id uint, newStatus string) (*types.Order, error) {
	var updated *types.Order
	err := d.transact(func(tx *gorm.DB) error {
		var order types.Order
		if err := tx.First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("order %d: %w", id, types.ErrNotFound)
			}
			return storageErr(err)
		}

		if order.Status == newStatus {
			updated = &order
			return nil
		}
		if order.IsTerminal() || types.StatusRank[newStatus] <= types.StatusRank[order.Status] {
			return fmt.Errorf("order %d: %s -> %s: %w", id, order.Status, newStatus, types.ErrInvalidTransition)
		}

		updates := map[string]interface{}{"status": newStatus}
		if newStatus == types.StatusExecuted {
			updates["executed_at"] = time.Now().UTC()
		}
		if err := tx.Model(&order).Updates(updates).Error; err != nil {
			return storageErr(err)
		}
		updated = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AssignExchangeOrderID records the id the exchange assigned on acceptance.
// The (exchange, exchange_order_id) key is unique once assigned and an order
// keeps its first assignment forever.
func (d *Database) AssignExchangeOrderID(id uint, exchangeOrderID string) (*types.Order, error) {
	var updated *types.Order
	err := d.transact(func(tx *gorm.DB) error {
		var order types.Order
		if err := tx.First(&order, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("order %d: %w", id, types.ErrNotFound)
			}
			return storageErr(err)
		}

		if order.ExchangeOrderID != nil {
			if *order.ExchangeOrderID == exchangeOrderID {
				updated = &order
				return nil
			}
			return fmt.Errorf("order %d already has exchange order id %s: %w",
				id, *order.ExchangeOrderID, types.ErrDuplicate)
		}

		dup, err := findByExchangeOrderID(tx, order.Exchange, exchangeOrderID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		if dup != nil {
			return fmt.Errorf("order %s/%s: %w", order.Exchange, exchangeOrderID, types.ErrDuplicate)
		}

		if err := tx.Model(&order).Update("exchange_order_id", exchangeOrderID).Error; err != nil {
			return storageErr(err)
		}
		order.ExchangeOrderID = &exchangeOrderID
		updated = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (d *Database) transact(fn func(tx *gorm.DB) error) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return storageErr(err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
}
