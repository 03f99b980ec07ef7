package catalog

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/ksred/arbitrage-api/pkg/response"
	"gorm.io/gorm"
)

// Service is the authoritative order record. It owns identity assignment,
// the multi-index lookups, and lifecycle transitions.
type Service struct {
	db *Database
}

// NewService creates a new catalog service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateOrder validates and stores a new order, assigning the internal
// sequence id. Pair, exchange, and side are mandatory; status defaults to
// pending.
func (s *Service) CreateOrder(order *types.Order) error {
	if order.Pair == "" {
		return fmt.Errorf("pair is required: %w", types.ErrValidation)
	}
	if order.Exchange == "" {
		return fmt.Errorf("exchange is required: %w", types.ErrValidation)
	}
	if order.Side != types.SideBuy && order.Side != types.SideSell {
		return fmt.Errorf("side must be %s or %s: %w", types.SideBuy, types.SideSell, types.ErrValidation)
	}
	if order.Status == "" {
		order.Status = types.StatusPending
	}
	if _, ok := types.StatusRank[order.Status]; !ok {
		return fmt.Errorf("unknown status %q: %w", order.Status, types.ErrValidation)
	}

	return s.db.CreateOrder(order)
}

// GetOrder retrieves an order by its internal id.
func (s *Service) GetOrder(id uint) (*types.Order, error) {
	return s.db.GetOrder(id)
}

// FindByExchangeOrderID looks an order up by its exchange-assigned id, used
// to detect duplicate submissions.
func (s *Service) FindByExchangeOrderID(exchange, exchangeOrderID string) (*types.Order, error) {
	return s.db.GetOrderByExchangeOrderID(exchange, exchangeOrderID)
}

// FindByExchange lists every order on one exchange.
func (s *Service) FindByExchange(exchange string) ([]types.Order, error) {
	return s.db.GetOrdersByExchange(exchange)
}

// FindByPair lists orders for one pair on one exchange.
func (s *Service) FindByPair(exchange, pair string) ([]types.Order, error) {
	return s.db.GetOrdersByPair(exchange, pair)
}

// FindByExchangeAndSide lists orders on one exchange filtered by side.
func (s *Service) FindByExchangeAndSide(exchange, side string) ([]types.Order, error) {
	return s.db.GetOrdersByExchangeAndSide(exchange, side)
}

// FindByPairAndSide lists orders of one pair filtered by side across
// exchanges.
func (s *Service) FindByPairAndSide(pair, side string) ([]types.Order, error) {
	return s.db.GetOrdersByPairAndSide(pair, side)
}

// UpdateStatus advances the order lifecycle.
func (s *Service) UpdateStatus(id uint, newStatus string) (*types.Order, error) {
	if _, ok := types.StatusRank[newStatus]; !ok {
		return nil, fmt.Errorf("unknown status %q: %w", newStatus, types.ErrValidation)
	}
	return s.db.UpdateStatus(id, newStatus)
}

// AssignExchangeOrderID records the exchange-assigned id once the exchange
// accepts the order.
func (s *Service) AssignExchangeOrderID(id uint, exchangeOrderID string) (*types.Order, error) {
	if exchangeOrderID == "" {
		return nil, fmt.Errorf("exchange order id is required: %w", types.ErrValidation)
	}
	return s.db.AssignExchangeOrderID(id, exchangeOrderID)
}

// GinHandlers contains HTTP handlers for order catalog endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for catalog endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type createOrderRequest struct {
	Pair     string         `json:"pair"`
	Exchange string         `json:"exchange"`
	Side     string         `json:"side"`
	Info     types.InfoList `json:"info"`
}

// CreateOrderHandler handles POST requests from decision producers to record
// a new order intent.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order := &types.Order{
			Pair:     req.Pair,
			Exchange: req.Exchange,
			Side:     req.Side,
			Info:     req.Info,
		}
		err := h.service.CreateOrder(order)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for a single order by internal id.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseOrderID(c)
		if !ok {
			return
		}

		order, err := h.service.GetOrder(id)
		response.Handle(c, order, err)
	}
}

// ListOrdersHandler handles GET requests with filter query parameters. The
// supported combinations mirror the catalog indexes:
// exchange, exchange+pair, exchange+side, pair+side,
// exchange+exchange_order_id.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			exchange        = c.Query("exchange")
			pair            = c.Query("pair")
			side            = c.Query("side")
			exchangeOrderID = c.Query("exchange_order_id")
		)

		switch {
		case exchange != "" && exchangeOrderID != "":
			order, err := h.service.FindByExchangeOrderID(exchange, exchangeOrderID)
			response.Handle(c, order, err)
		case exchange != "" && pair != "":
			orders, err := h.service.FindByPair(exchange, pair)
			response.Handle(c, orders, err)
		case exchange != "" && side != "":
			orders, err := h.service.FindByExchangeAndSide(exchange, side)
			response.Handle(c, orders, err)
		case pair != "" && side != "":
			orders, err := h.service.FindByPairAndSide(pair, side)
			response.Handle(c, orders, err)
		case exchange != "":
			orders, err := h.service.FindByExchange(exchange)
			response.Handle(c, orders, err)
		default:
			response.BadRequest(c, "provide exchange, exchange+pair, exchange+side, or pair+side filters")
		}
	}
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatusHandler handles POST requests advancing an order's lifecycle.
func (h *GinHandlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseOrderID(c)
		if !ok {
			return
		}

		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.UpdateStatus(id, req.Status)
		response.Handle(c, order, err)
	}
}

type assignExchangeOrderIDRequest struct {
	ExchangeOrderID string `json:"exchange_order_id" binding:"required"`
}

// AssignExchangeOrderIDHandler handles POST requests recording the id the
// exchange assigned to an accepted order.
func (h *GinHandlers) AssignExchangeOrderIDHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseOrderID(c)
		if !ok {
			return
		}

		var req assignExchangeOrderIDRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.AssignExchangeOrderID(id, req.ExchangeOrderID)
		response.Handle(c, order, err)
	}
}

func parseOrderID(c *gin.Context) (uint, bool) {
	raw := c.Param("order_id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		response.BadRequest(c, "Order ID must be a positive integer")
		return 0, false
	}
	return uint(id), true
}
