package quotes

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/ksred/arbitrage-api/pkg/response"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the append-only market quote store. The decision producer reads
// it to detect arbitrage windows; the market-data ingester writes to it.
type Service struct {
	db *Database
}

// NewService creates a new quote store service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Record appends one observation. A partial quote (missing bid or ask) is
// still informative and accepted; only exchange and pair are mandatory.
// A zero time defaults to now.
func (s *Service) Record(quote *types.Quote) error {
	if quote.Exchange == "" {
		return fmt.Errorf("exchange is required: %w", types.ErrValidation)
	}
	if quote.Pair == "" {
		return fmt.Errorf("pair is required: %w", types.ErrValidation)
	}
	if quote.Time.IsZero() {
		quote.Time = time.Now().UTC()
	}

	return s.db.CreateQuote(quote)
}

// Latest returns the most recent observation for (exchange, pair).
func (s *Service) Latest(exchange, pair string) (*types.Quote, error) {
	return s.db.GetLatest(exchange, pair)
}

// Range returns observations within [from, to] inclusive, ascending by time.
func (s *Service) Range(exchange, pair string, from, to time.Time) ([]types.Quote, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("range end precedes start: %w", types.ErrValidation)
	}
	return s.db.GetRange(exchange, pair, from, to)
}

// Spread is a cross-exchange comparison of the latest quotes of one pair:
// buy at askExchange's ask, sell at bidExchange's bid. A positive spread is
// the raw signal of an arbitrage window; deciding whether it clears fees is
// the decision producer's job.
type Spread struct {
	Pair        string    `json:"pair"`
	AskExchange string    `json:"ask_exchange"`
	BidExchange string    `json:"bid_exchange"`
	Ask         string    `json:"ask"`
	Bid         string    `json:"bid"`
	Spread      string    `json:"spread"`
	SpreadPct   string    `json:"spread_pct"`
	AskTime     time.Time `json:"ask_time"`
	BidTime     time.Time `json:"bid_time"`
}

// LatestSpread computes the spread between the latest ask on one exchange
// and the latest bid on another. Decimal arithmetic keeps the money math
// exact regardless of how wide the prices diverge.
func (s *Service) LatestSpread(askExchange, bidExchange, pair string) (*Spread, error) {
	askQuote, err := s.db.GetLatest(askExchange, pair)
	if err != nil {
		return nil, err
	}
	bidQuote, err := s.db.GetLatest(bidExchange, pair)
	if err != nil {
		return nil, err
	}
	if askQuote.Ask == nil {
		return nil, fmt.Errorf("no ask on %s/%s: %w", askExchange, pair, types.ErrNotFound)
	}
	if bidQuote.Bid == nil {
		return nil, fmt.Errorf("no bid on %s/%s: %w", bidExchange, pair, types.ErrNotFound)
	}

	ask := decimal.NewFromFloat(*askQuote.Ask)
	bid := decimal.NewFromFloat(*bidQuote.Bid)
	spread := bid.Sub(ask)

	pct := decimal.Zero
	if !ask.IsZero() {
		pct = spread.Div(ask).Mul(decimal.NewFromInt(100))
	}

	return &Spread{
		Pair:        pair,
		AskExchange: askExchange,
		BidExchange: bidExchange,
		Ask:         ask.String(),
		Bid:         bid.String(),
		Spread:      spread.String(),
		SpreadPct:   pct.StringFixed(4),
		AskTime:     askQuote.Time,
		BidTime:     bidQuote.Time,
	}, nil
}

// GinHandlers contains HTTP handlers for quote store endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for quote endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RecordHandler handles POST requests from the market-data ingester.
func (h *GinHandlers) RecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var quote types.Quote
		if err := c.ShouldBindJSON(&quote); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.Record(&quote)
		response.Handle(c, quote, err)
	}
}

// LatestHandler handles GET requests for the most recent quote of a pair.
func (h *GinHandlers) LatestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		exchange := c.Query("exchange")
		pair := c.Query("pair")
		if exchange == "" || pair == "" {
			response.BadRequest(c, "exchange and pair are required")
			return
		}

		quote, err := h.service.Latest(exchange, pair)
		response.Handle(c, quote, err)
	}
}

// RangeHandler handles GET requests for a time-bounded ascending scan.
// Query parameters from/to are RFC 3339 timestamps, both inclusive.
func (h *GinHandlers) RangeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		exchange := c.Query("exchange")
		pair := c.Query("pair")
		if exchange == "" || pair == "" {
			response.BadRequest(c, "exchange and pair are required")
			return
		}

		from, err := time.Parse(time.RFC3339, c.Query("from"))
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("invalid from: %v", err))
			return
		}
		to, err := time.Parse(time.RFC3339, c.Query("to"))
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("invalid to: %v", err))
			return
		}

		quotes, err := h.service.Range(exchange, pair, from, to)
		response.Handle(c, quotes, err)
	}
}

// SpreadHandler handles GET requests for the latest cross-exchange spread.
func (h *GinHandlers) SpreadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		askExchange := c.Query("ask_exchange")
		bidExchange := c.Query("bid_exchange")
		pair := c.Query("pair")
		if askExchange == "" || bidExchange == "" || pair == "" {
			response.BadRequest(c, "ask_exchange, bid_exchange and pair are required")
			return
		}

		spread, err := h.service.LatestSpread(askExchange, bidExchange, pair)
		response.Handle(c, spread, err)
	}
}
