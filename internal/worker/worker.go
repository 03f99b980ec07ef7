package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/arbitrage-api/internal/catalog"
	"github.com/ksred/arbitrage-api/internal/exchange"
	"github.com/ksred/arbitrage-api/internal/queue"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// takeTimeout bounds each wait for work so the loop can observe ctx
// cancellation between takes.
const takeTimeout = 5 * time.Second

// Submitter places an order on an external venue. The mock in
// internal/exchange implements it; production exchange clients are external
// to this system.
type Submitter interface {
	Submit(order *types.Order) (*exchange.Submission, error)
}

// SubmitterFor picks the venue client for an exchange name.
type SubmitterFor func(exchangeName string) Submitter

// Worker drains the order queue: take a task, submit the referenced order to
// its exchange, record the exchange-assigned id, advance the lifecycle, then
// ack. Failed submissions release the task for redelivery; execution is made
// effectively idempotent by the (exchange, exchange_order_id) uniqueness
// check on redelivered tasks.
type Worker struct {
	name      string
	queue     *queue.Service
	catalog   *catalog.Service
	submitter SubmitterFor
}

func New(name string, q *queue.Service, cat *catalog.Service, submitter SubmitterFor) *Worker {
	if submitter == nil {
		submitter = func(exchangeName string) Submitter {
			return exchange.Get(exchangeName)
		}
	}
	return &Worker{
		name:      name,
		queue:     q,
		catalog:   cat,
		submitter: submitter,
	}
}

// Start runs the execution loop until the context is canceled.
func (w *Worker) Start(ctx context.Context) {
	logger := log.With().Str("component", "execution_worker").Str("worker", w.name).Logger()
	logger.Info().Msg("starting execution worker")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down execution worker")
			return
		default:
		}

		task, err := w.queue.Take(ctx, takeTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error().Err(err).Msg("failed to take task")
			continue
		}
		if task == nil {
			// Queue stayed empty for the whole wait.
			continue
		}

		w.process(logger, task)
	}
}

// process executes one task. Ack only after the catalog reflects the
// submission; any earlier failure releases the task so another delivery can
// retry it.
func (w *Worker) process(logger zerolog.Logger, task *queue.Task) {
	taskLogger := logger.With().
		Str("task_id", task.TaskID).
		Uint("order_id", task.OrderID).
		Int("attempts", task.Attempts).
		Logger()

	order, err := w.catalog.GetOrder(task.OrderID)
	if err != nil {
		taskLogger.Error().Err(err).Msg("task references unknown order")
		w.release(taskLogger, task)
		return
	}

	if order.IsTerminal() {
		// Redelivered task whose order already finished; nothing to do.
		taskLogger.Info().Str("status", order.Status).Msg("order already finalized, acking task")
		w.ack(taskLogger, task)
		return
	}

	if order.ExchangeOrderID != nil {
		// A previous delivery submitted this order but crashed before
		// finishing. The exchange id proves submission; do not submit twice.
		taskLogger.Info().
			Str("exchange_order_id", *order.ExchangeOrderID).
			Msg("order already submitted, completing without resubmission")
		w.finalize(taskLogger, task, order.ID)
		return
	}

	if _, err := w.catalog.UpdateStatus(order.ID, types.StatusExecuting); err != nil {
		taskLogger.Error().Err(err).Msg("failed to mark order executing")
		w.release(taskLogger, task)
		return
	}

	submission, err := w.submitter(order.Exchange).Submit(order)
	if err != nil {
		taskLogger.Warn().Err(err).Msg("venue rejected order, releasing task")
		w.release(taskLogger, task)
		return
	}

	if _, err := w.catalog.AssignExchangeOrderID(order.ID, submission.ExchangeOrderID); err != nil {
		if errors.Is(err, types.ErrDuplicate) {
			// Another delivery beat us to it; treat as already submitted.
			taskLogger.Info().Msg("exchange order id already assigned elsewhere")
			w.finalize(taskLogger, task, order.ID)
			return
		}
		taskLogger.Error().Err(err).Msg("failed to record exchange order id")
		w.release(taskLogger, task)
		return
	}

	w.finalize(taskLogger, task, order.ID)
}

func (w *Worker) finalize(logger zerolog.Logger, task *queue.Task, orderID uint) {
	if _, err := w.catalog.UpdateStatus(orderID, types.StatusExecuted); err != nil && !errors.Is(err, types.ErrInvalidTransition) {
		logger.Error().Err(err).Msg("failed to mark order executed")
		w.release(logger, task)
		return
	}
	w.ack(logger, task)
	logger.Info().Msg("order executed")
}

func (w *Worker) ack(logger zerolog.Logger, task *queue.Task) {
	if err := w.queue.Ack(task.TaskID); err != nil {
		// Lease may have expired mid-flight; the task will be redelivered and
		// the duplicate-submission check will keep the work idempotent.
		logger.Warn().Err(err).Msg("failed to ack task")
	}
}

func (w *Worker) release(logger zerolog.Logger, task *queue.Task) {
	if err := w.queue.Release(task.TaskID); err != nil {
		logger.Warn().Err(err).Msg("failed to release task")
	}
}
