package queue

import (
	"time"

	"github.com/ksred/arbitrage-api/internal/types"
	"gorm.io/gorm"
)

// Task states. READY tasks are visible to Take; a TAKEN task is held by
// exactly one worker until it is acked, released, or its lease expires;
// BURIED tasks are excluded from delivery until kicked.
const (
	StateReady  = "READY"
	StateTaken  = "TAKEN"
	StateAcked  = "ACKED"
	StateBuried = "BURIED"
)

// Task is the durable unit of work wrapping an order for execution.
type Task struct {
	gorm.Model     `json:"-"`
	TaskID         string         `gorm:"uniqueIndex" json:"task_id"`
	OrderID        uint           `gorm:"index" json:"order_id"`
	Payload        types.InfoList `gorm:"type:text" json:"payload"`
	State          string         `gorm:"index" json:"state"`
	Attempts       int            `json:"attempts"`
	TakenAt        *time.Time     `json:"taken_at,omitempty"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	AckedAt        *time.Time     `json:"acked_at,omitempty"`
}

// leaseExpired reports whether a taken task's lease has lapsed, making it
// re-deliverable. Only meaningful for StateTaken.
func (t *Task) leaseExpired(now time.Time) bool {
	return t.LeaseExpiresAt != nil && !t.LeaseExpiresAt.After(now)
}

// Stats is a point-in-time count of tasks per state.
type Stats struct {
	Ready  int64 `json:"ready"`
	Taken  int64 `json:"taken"`
	Acked  int64 `json:"acked"`
	Buried int64 `json:"buried"`
}
