package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ksred/arbitrage-api/internal/catalog"
	"github.com/ksred/arbitrage-api/internal/database"
	"github.com/ksred/arbitrage-api/internal/exchange"
	"github.com/ksred/arbitrage-api/internal/queue"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/ksred/arbitrage-api/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVenue is a deterministic Submitter: it hands out sequential exchange
// order ids and fails on demand.
type fakeVenue struct {
	mu      sync.Mutex
	fail    bool
	submits int
}

func (v *fakeVenue) Submit(order *types.Order) (*exchange.Submission, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submits++
	if v.fail {
		return nil, errors.New("venue offline")
	}
	return &exchange.Submission{
		ExchangeOrderID: order.Exchange + "-fake-1",
		Price:           100.0,
		SubmittedAt:     time.Now().UTC(),
	}, nil
}

func (v *fakeVenue) submissions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.submits
}

type fixture struct {
	queue   *queue.Service
	catalog *catalog.Service
	venue   *fakeVenue
	worker  *worker.Worker
}

func newFixture(t *testing.T, opts ...queue.Option) *fixture {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "worker_test.db"))
	require.NoError(t, err)

	q := queue.NewService(db, opts...)
	t.Cleanup(q.Close)
	cat := catalog.NewService(db)
	venue := &fakeVenue{}

	w := worker.New("test-worker", q, cat, func(string) worker.Submitter { return venue })
	return &fixture{queue: q, catalog: cat, venue: venue, worker: w}
}

func (fx *fixture) enqueueOrder(t *testing.T) *types.Order {
	t.Helper()
	order := &types.Order{Pair: "EURUSD", Exchange: "alpha", Side: types.SideBuy}
	require.NoError(t, fx.catalog.CreateOrder(order))
	_, err := fx.queue.Enqueue(order.SeqID, types.InfoList{"submit"})
	require.NoError(t, err)
	return order
}

// runUntil starts the worker and polls the condition until it holds or the
// deadline passes.
func (fx *fixture) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		fx.worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			cancel()
			<-done
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatal("condition not reached before deadline")
}

func TestWorkerExecutesOrder(t *testing.T) {
	fx := newFixture(t)
	order := fx.enqueueOrder(t)

	fx.runUntil(t, func() bool {
		current, err := fx.catalog.GetOrder(order.SeqID)
		return err == nil && current.Status == types.StatusExecuted
	})

	executed, err := fx.catalog.GetOrder(order.SeqID)
	require.NoError(t, err)
	require.NotNil(t, executed.ExchangeOrderID)
	assert.Equal(t, "alpha-fake-1", *executed.ExchangeOrderID)
	require.NotNil(t, executed.ExecutedAt)
	assert.Equal(t, 1, fx.venue.submissions())

	stats, err := fx.queue.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Acked)
	assert.Zero(t, stats.Ready)
	assert.Zero(t, stats.Taken)
}

func TestWorkerBuriesAfterRepeatedRejection(t *testing.T) {
	fx := newFixture(t, queue.WithMaxAttempts(2))
	fx.venue.fail = true
	order := fx.enqueueOrder(t)

	fx.runUntil(t, func() bool {
		stats, err := fx.queue.Stats()
		return err == nil && stats.Buried == 1
	})

	// The order stalls in executing; nothing was ever submitted successfully.
	current, err := fx.catalog.GetOrder(order.SeqID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuting, current.Status)
	assert.Nil(t, current.ExchangeOrderID)
	assert.Equal(t, 2, fx.venue.submissions())
}

func TestWorkerSkipsResubmissionOnRedelivery(t *testing.T) {
	fx := newFixture(t)
	order := fx.enqueueOrder(t)

	// Simulate a crashed delivery that submitted but never finished: the
	// exchange id is recorded, the task is back in the queue.
	_, err := fx.catalog.UpdateStatus(order.SeqID, types.StatusExecuting)
	require.NoError(t, err)
	_, err = fx.catalog.AssignExchangeOrderID(order.SeqID, "alpha-prior-7")
	require.NoError(t, err)

	fx.runUntil(t, func() bool {
		current, err := fx.catalog.GetOrder(order.SeqID)
		return err == nil && current.Status == types.StatusExecuted
	})

	// The recorded id is untouched and the venue saw no second submission.
	current, err := fx.catalog.GetOrder(order.SeqID)
	require.NoError(t, err)
	require.NotNil(t, current.ExchangeOrderID)
	assert.Equal(t, "alpha-prior-7", *current.ExchangeOrderID)
	assert.Zero(t, fx.venue.submissions())
}

func TestWorkerAcksTasksForFinalizedOrders(t *testing.T) {
	fx := newFixture(t)
	order := fx.enqueueOrder(t)

	_, err := fx.catalog.UpdateStatus(order.SeqID, types.StatusCanceled)
	require.NoError(t, err)

	fx.runUntil(t, func() bool {
		stats, err := fx.queue.Stats()
		return err == nil && stats.Acked == 1
	})

	current, err := fx.catalog.GetOrder(order.SeqID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCanceled, current.Status)
	assert.Zero(t, fx.venue.submissions())
}

func TestWorkerReleasesTaskForMissingOrder(t *testing.T) {
	fx := newFixture(t, queue.WithMaxAttempts(1))

	// Task pointing at an order id the catalog never issued.
	_, err := fx.queue.Enqueue(4242, nil)
	require.NoError(t, err)

	fx.runUntil(t, func() bool {
		stats, err := fx.queue.Stats()
		return err == nil && stats.Buried == 1
	})
}
