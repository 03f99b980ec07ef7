package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/ksred/arbitrage-api/pkg/response"
	"gorm.io/gorm"
)

const (
	// DefaultLease is how long a taken task stays invisible before it becomes
	// re-deliverable if the worker neither acks nor releases it.
	DefaultLease = 30 * time.Second

	// DefaultMaxAttempts is the delivery budget before a task is buried.
	DefaultMaxAttempts = 3

	// pollInterval bounds how long a blocked Take waits before re-checking
	// for lease expirations that no enqueue/release signal announces.
	pollInterval = 250 * time.Millisecond
)

// Service is the durable order execution queue. Construct one instance per
// process with NewService and close it on shutdown; there is no package
// global.
type Service struct {
	db          *Database
	lease       time.Duration
	maxAttempts int

	notify chan struct{}
	closed chan struct{}
}

// Option customizes a queue service.
type Option func(*Service)

// WithLease overrides the task lease duration.
func WithLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithMaxAttempts overrides the delivery budget.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates a queue service backed by the given database connection.
func NewService(gormDB *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:          NewDatabase(gormDB),
		lease:       DefaultLease,
		maxAttempts: DefaultMaxAttempts,
		notify:      make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close wakes all blocked Take calls and stops the service accepting waits.
// Pending tasks stay in storage and survive restarts.
func (s *Service) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// Enqueue creates a ready task referencing an order plus its execution
// parameters and wakes one waiting worker.
func (s *Service) Enqueue(orderID uint, payload types.InfoList) (*Task, error) {
	task := &Task{
		TaskID:  uuid.New().String(),
		OrderID: orderID,
		Payload: payload,
		State:   StateReady,
	}
	if err := s.db.CreateTask(task); err != nil {
		return nil, err
	}
	s.wake()
	return task, nil
}

// Take blocks up to timeout waiting for a deliverable task and claims it
// exclusively for this caller. Returns (nil, nil) when nothing became
// deliverable within the timeout; that is not an error.
func (s *Service) Take(ctx context.Context, timeout time.Duration) (*Task, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		task, err := s.claim()
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		poll := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			poll.Stop()
			return nil, ctx.Err()
		case <-s.closed:
			poll.Stop()
			return nil, nil
		case <-deadline.C:
			poll.Stop()
			return nil, nil
		case <-s.notify:
			poll.Stop()
		case <-poll.C:
			// Re-check for newly expired leases.
		}
	}
}

// claim retries past lost races until the queue is either drained or a task
// is exclusively ours.
func (s *Service) claim() (*Task, error) {
	for {
		task, err := s.db.ClaimNext(s.lease, s.maxAttempts)
		if errors.Is(err, errClaimMissed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return task, nil
	}
}

// Ack marks a held task permanently complete. Acking an already-acked task
// is a no-op; acking a task this worker no longer holds reports NotFound.
func (s *Service) Ack(taskID string) error {
	return s.db.AckTask(taskID)
}

// Release returns a held task to the ready state for redelivery, counting
// the failed attempt. Once the attempt budget is spent the task is buried
// instead and excluded from Take until kicked.
func (s *Service) Release(taskID string) error {
	if err := s.db.ReleaseTask(taskID, s.maxAttempts); err != nil {
		return err
	}
	s.wake()
	return nil
}

// Kick requeues a buried task for delivery.
func (s *Service) Kick(taskID string) error {
	if err := s.db.KickTask(taskID); err != nil {
		return err
	}
	s.wake()
	return nil
}

// Stats reports task counts per state.
func (s *Service) Stats() (*Stats, error) {
	return s.db.GetStats()
}

// GetTask retrieves a task by id, for reconciliation reads.
func (s *Service) GetTask(taskID string) (*Task, error) {
	return s.db.GetTask(taskID)
}

func (s *Service) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// GinHandlers contains HTTP handlers for the queue endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for queue endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type enqueueRequest struct {
	OrderID uint           `json:"order_id" binding:"required"`
	Payload types.InfoList `json:"payload"`
}

// EnqueueHandler handles POST requests from decision producers to queue an
// order for execution.
func (h *GinHandlers) EnqueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req enqueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		task, err := h.service.Enqueue(req.OrderID, req.Payload)
		response.Handle(c, task, err)
	}
}

// TakeHandler handles POST requests from execution workers waiting for work.
// Query parameter timeout (e.g. "5s") bounds the wait; an empty reply body
// with 200 means the queue stayed empty.
func (h *GinHandlers) TakeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		timeout := 5 * time.Second
		if raw := c.Query("timeout"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				response.BadRequest(c, fmt.Sprintf("invalid timeout: %v", err))
				return
			}
			timeout = parsed
		}

		task, err := h.service.Take(c.Request.Context(), timeout)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		// nil task means the wait timed out with an empty queue.
		response.Success(c, task)
	}
}

// AckHandler handles POST requests acknowledging successful execution.
func (h *GinHandlers) AckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")
		err := h.service.Ack(taskID)
		response.Handle(c, gin.H{"task_id": taskID, "state": StateAcked}, err)
	}
}

// ReleaseHandler handles POST requests returning a failed task for retry.
func (h *GinHandlers) ReleaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")
		if err := h.service.Release(taskID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		task, err := h.service.GetTask(taskID)
		response.Handle(c, task, err)
	}
}

// KickHandler handles POST requests requeueing a buried task.
func (h *GinHandlers) KickHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("task_id")
		if err := h.service.Kick(taskID); err != nil {
			response.Handle(c, nil, err)
			return
		}

		task, err := h.service.GetTask(taskID)
		response.Handle(c, task, err)
	}
}

// StatsHandler handles GET requests for queue depth, read-only.
func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.Stats()
		response.Handle(c, stats, err)
	}
}
