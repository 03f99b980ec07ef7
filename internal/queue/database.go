package queue

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

// CreateTask inserts a new ready task.
func (d *Database) CreateTask(task *Task) error {
	if err := d.db.Create(task).Error; err != nil {
		return storageErr(err)
	}
	return nil
}

// GetTask retrieves a task by its public id.
func (d *Database) GetTask(taskID string) (*Task, error) {
	var task Task
	if err := d.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
		}
		return nil, storageErr(err)
	}
	return &task, nil
}

// ClaimNext finds the oldest deliverable task and flips it to TAKEN with a
// fresh lease. Deliverable means READY, or TAKEN with an expired lease
// (worker-crash recovery; expiry is evaluated here, on the take path, not by
// a background sweep). Returns nil when nothing is deliverable.
//
// The update carries the previously observed state and attempt count in its
// WHERE clause, so when two concurrent claims race for the same row only one
// sees RowsAffected == 1. The loser reports a miss and the caller retries.
func (d *Database) ClaimNext(lease time.Duration, maxAttempts int) (*Task, error) {
	now := time.Now().UTC()

	var task Task
	err := d.db.
		Where("state = ?", StateReady).
		Or("state = ? AND lease_expires_at <= ?", StateTaken, now).
		Order("id ASC").
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storageErr(err)
	}

	attempts := task.Attempts
	next := StateTaken
	if task.State == StateTaken {
		// Reclaiming an expired lease counts as a failed delivery.
		attempts++
		if attempts >= maxAttempts {
			next = StateBuried
		}
	}

	expires := now.Add(lease)
	updates := map[string]interface{}{
		"state":            next,
		"attempts":         attempts,
		"taken_at":         now,
		"lease_expires_at": expires,
	}
	if next == StateBuried {
		updates["taken_at"] = nil
		updates["lease_expires_at"] = nil
	}

	res := d.db.Model(&Task{}).
		Where("id = ? AND state = ? AND attempts = ?", task.ID, task.State, task.Attempts).
		Updates(updates)
	if res.Error != nil {
		return nil, storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race to another worker; let the caller retry.
		return nil, errClaimMissed
	}
	if next == StateBuried {
		// Poison task put aside; keep scanning for a deliverable one.
		return nil, errClaimMissed
	}

	task.State = next
	task.Attempts = attempts
	task.TakenAt = &now
	task.LeaseExpiresAt = &expires
	return &task, nil
}

// errClaimMissed is internal to the claim loop; it never escapes the service.
var errClaimMissed = errors.New("claim missed")

// AckTask marks a held task complete. Re-acking an acked task is a no-op;
// any other state means the task is not held by the caller.
func (d *Database) AckTask(taskID string) error {
	return d.transact(func(tx *gorm.DB) error {
		var task Task
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("ack %s: %w", taskID, types.ErrNotFound)
			}
			return storageErr(err)
		}

		now := time.Now().UTC()
		switch {
		case task.State == StateAcked:
			return nil // idempotent re-ack
		case task.State == StateTaken && !task.leaseExpired(now):
			return tx.Model(&task).Updates(map[string]interface{}{
				"state":            StateAcked,
				"acked_at":         now,
				"lease_expires_at": nil,
			}).Error
		default:
			return fmt.Errorf("ack %s: task not held: %w", taskID, types.ErrNotFound)
		}
	})
}

// ReleaseTask returns a held task to READY for redelivery, or buries it once
// the attempt budget is exhausted.
func (d *Database) ReleaseTask(taskID string, maxAttempts int) error {
	return d.transact(func(tx *gorm.DB) error {
		var task Task
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("release %s: %w", taskID, types.ErrNotFound)
			}
			return storageErr(err)
		}

		now := time.Now().UTC()
		if task.State != StateTaken || task.leaseExpired(now) {
			return fmt.Errorf("release %s: task not held: %w", taskID, types.ErrNotFound)
		}

		attempts := task.Attempts + 1
		state := StateReady
		if attempts >= maxAttempts {
			state = StateBuried
		}

		return tx.Model(&task).Updates(map[string]interface{}{
			"state":            state,
			"attempts":         attempts,
			"taken_at":         nil,
			"lease_expires_at": nil,
		}).Error
	})
}

// KickTask requeues a buried task for delivery with a fresh attempt budget.
func (d *Database) KickTask(taskID string) error {
	res := d.db.Model(&Task{}).
		Where("task_id = ? AND state = ?", taskID, StateBuried).
		Updates(map[string]interface{}{
			"state":    StateReady,
			"attempts": 0,
		})
	if res.Error != nil {
		return storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("kick %s: no buried task: %w", taskID, types.ErrNotFound)
	}
	return nil
}

// GetStats counts tasks per state.
func (d *Database) GetStats() (*Stats, error) {
	var stats Stats
	counts := []struct {
		state string
		dest  *int64
	}{
		{StateReady, &stats.Ready},
		{StateTaken, &stats.Taken},
		{StateAcked, &stats.Acked},
		{StateBuried, &stats.Buried},
	}
	for _, c := range counts {
		if err := d.db.Model(&Task{}).Where("state = ?", c.state).Count(c.dest).Error; err != nil {
			return nil, storageErr(err)
		}
	}
	return &stats, nil
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

// storageErr wraps unexpected storage failures so callers can distinguish
// transient infrastructure trouble from domain errors.
func storageErr(err error) error {
	return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
}
