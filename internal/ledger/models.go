package ledger

import (
	"time"

	"gorm.io/gorm"
)

// OrderPair records the two correlated legs of one arbitrage execution.
// Rows are immutable once written and never deleted; a correction is a new
// pair referencing replacement orders.
type OrderPair struct {
	gorm.Model   `json:"-"`
	PairID       string    `gorm:"uniqueIndex" json:"pair_id"`
	LeftOrderID  uint      `gorm:"index" json:"left_order_id"`
	RightOrderID uint      `gorm:"index" json:"right_order_id"`
	OpenedAt     time.Time `json:"opened_at"`
}
