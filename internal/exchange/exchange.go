package exchange

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/rs/zerolog/log"
)

// Exchange simulates one external trading venue. Real exchange clients live
// outside this system; this mock stands in for them so workers and the
// simulation can exercise the queue and catalog end to end.
type Exchange struct {
	ID              string
	Name            string
	MinLatency      int // in milliseconds
	MaxLatency      int
	SuccessRate     float64 // 0-1, probability of successful submission
	FeeRate         float64 // percentage of transaction value
	PriceBase       float64 // mid price the venue quotes around
	PriceJitter     float64 // relative jitter applied to PriceBase
	LiquidityFactor float64 // 0-1, available liquidity
}

var mockExchanges = map[string]*Exchange{
	"alpha": {
		ID:              "alpha",
		Name:            "Alpha Exchange",
		MinLatency:      5,
		MaxLatency:      30,
		SuccessRate:     0.95,
		FeeRate:         0.001, // 0.1%
		PriceBase:       100.0,
		PriceJitter:     0.01,
		LiquidityFactor: 0.9,
	},
	"beta": {
		ID:              "beta",
		Name:            "Beta Exchange",
		MinLatency:      10,
		MaxLatency:      50,
		SuccessRate:     0.90,
		FeeRate:         0.0008, // 0.08%
		PriceBase:       100.5,
		PriceJitter:     0.02,
		LiquidityFactor: 0.7,
	},
	"gamma": {
		ID:              "gamma",
		Name:            "Gamma Exchange",
		MinLatency:      15,
		MaxLatency:      70,
		SuccessRate:     0.85,
		FeeRate:         0.0005, // 0.05%
		PriceBase:       99.5,
		PriceJitter:     0.03,
		LiquidityFactor: 0.5,
	},
}

// Submission is the venue's answer to a placed order.
type Submission struct {
	ExchangeOrderID string
	Price           float64
	FeeAmount       float64
	SubmittedAt     time.Time
}

// Get returns the mock venue for an exchange name, defaulting to alpha so
// unknown names still execute in simulations.
func Get(name string) *Exchange {
	if e, ok := mockExchanges[name]; ok {
		return e
	}
	return mockExchanges["alpha"]
}

// All lists the configured mock venues.
func All() []*Exchange {
	result := make([]*Exchange, 0, len(mockExchanges))
	for _, e := range mockExchanges {
		result = append(result, e)
	}
	return result
}

// Submit simulates placing an order on this venue: random latency, a
// success-rate gate, and a price drawn around the venue's base price.
func (e *Exchange) Submit(order *types.Order) (*Submission, error) {
	logger := log.With().
		Str("exchange", e.ID).
		Uint("order_id", order.SeqID).
		Str("pair", order.Pair).
		Str("side", order.Side).
		Logger()

	logger.Info().Msg("attempting to submit order")

	// Simulate random latency
	latency := rand.Intn(e.MaxLatency-e.MinLatency+1) + e.MinLatency
	time.Sleep(time.Duration(latency) * time.Millisecond)

	// Simulate submission success/failure based on success rate
	if rand.Float64() > e.SuccessRate {
		logger.Warn().
			Float64("success_rate", e.SuccessRate).
			Msg("order submission rejected by venue")
		return nil, fmt.Errorf("submission failed on exchange %s", e.ID)
	}

	price := e.QuotePrice()
	feeAmount := price * e.FeeRate

	submission := &Submission{
		ExchangeOrderID: fmt.Sprintf("%s-%d", e.ID, rand.Int63()),
		Price:           price,
		FeeAmount:       feeAmount,
		SubmittedAt:     time.Now().UTC(),
	}

	logger.Info().
		Str("exchange_order_id", submission.ExchangeOrderID).
		Float64("price", submission.Price).
		Int("latency_ms", latency).
		Msg("order accepted by venue")

	return submission, nil
}

// QuotePrice draws a price around the venue's base with its jitter.
func (e *Exchange) QuotePrice() float64 {
	jitter := e.PriceBase * e.PriceJitter
	return e.PriceBase + (rand.Float64()*2-1)*jitter
}

// QuoteBidAsk draws a bid/ask pair straddling the venue's current price.
func (e *Exchange) QuoteBidAsk() (bid, ask float64) {
	mid := e.QuotePrice()
	halfSpread := mid * e.FeeRate * 2
	return mid - halfSpread, mid + halfSpread
}
