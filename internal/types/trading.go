package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Order statuses. Transitions are monotonic: pending -> executing -> one of
// the terminal states. See StatusRank.
const (
	StatusPending   = "PENDING"
	StatusExecuting = "EXECUTING"
	StatusExecuted  = "EXECUTED"
	StatusCanceled  = "CANCELED"
	StatusFailed    = "FAILED"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// StatusRank orders statuses along the lifecycle. A transition is legal only
// when the new status has a strictly higher rank (equal status is a no-op).
var StatusRank = map[string]int{
	StatusPending:   0,
	StatusExecuting: 1,
	StatusExecuted:  2,
	StatusCanceled:  2,
	StatusFailed:    2,
}

// InfoList is an ordered list of opaque execution values (price, amount, ...)
// persisted as a JSON array in a single column.
type InfoList []interface{}

// Value implements driver.Valuer.
func (l InfoList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *InfoList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported info column type %T", value)
	}
	return json.Unmarshal(b, l)
}

// Order is one exchange-side trading intent. The gorm primary key is the
// internal monotonic sequence id; ExchangeOrderID is assigned once the order
// is accepted by an exchange and is unique per exchange from then on.
//
// The composite indexes back every catalog lookup path: point lookup by
// (exchange, exchange_order_id), reconciliation by exchange and by
// (exchange, pair), and leg matching by side. All of them live in the same
// sqlite file as the row itself, so an order is never visible through one
// index but not another.
type Order struct {
	gorm.Model      `json:"-"`
	SeqID           uint       `gorm:"-" json:"id"`
	ExchangeOrderID *string    `gorm:"uniqueIndex:idx_orders_exchange_eoid,priority:2" json:"exchange_order_id,omitempty"`
	Exchange        string     `gorm:"uniqueIndex:idx_orders_exchange_eoid,priority:1;index:idx_orders_exchange;index:idx_orders_exchange_side,priority:1;index:idx_orders_exchange_pair_side,priority:1" json:"exchange"`
	Pair            string     `gorm:"index:idx_orders_pair_side,priority:1;index:idx_orders_exchange_pair_side,priority:2" json:"pair"`
	Side            string     `gorm:"index:idx_orders_exchange_side,priority:2;index:idx_orders_pair_side,priority:2;index:idx_orders_exchange_pair_side,priority:3" json:"side"` // BUY or SELL
	Status          string     `json:"status"`                                                                                                                                    // PENDING, EXECUTING, EXECUTED, CANCELED, FAILED
	Info            InfoList   `gorm:"type:text" json:"info"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
}

// AfterFind mirrors the gorm primary key into the JSON-visible SeqID.
func (o *Order) AfterFind(*gorm.DB) error {
	o.SeqID = o.ID
	return nil
}

// AfterCreate mirrors the freshly assigned primary key into SeqID.
func (o *Order) AfterCreate(*gorm.DB) error {
	o.SeqID = o.ID
	return nil
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	return StatusRank[o.Status] >= 2
}

// Quote is one market observation. Quotes are append-only: they are never
// updated or deleted, and within (exchange, pair) they are read ordered by
// time. Bid/ask fields are pointers because a partial quote is still
// informative.
type Quote struct {
	gorm.Model `json:"-"`
	Time       time.Time `gorm:"index:idx_quotes_exchange_pair_time,priority:3" json:"time"`
	Exchange   string    `gorm:"index:idx_quotes_exchange_pair_time,priority:1" json:"exchange"`
	Pair       string    `gorm:"index:idx_quotes_exchange_pair_time,priority:2" json:"pair"`
	Bid        *float64  `json:"bid,omitempty"`
	Ask        *float64  `json:"ask,omitempty"`
	BidSize    *float64  `json:"bid_size,omitempty"`
	AskSize    *float64  `json:"ask_size,omitempty"`
}
