package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/ksred/arbitrage-api/pkg/response"
	"gorm.io/gorm"
)

// Service is the append-only record of arbitrage leg pairs. It exposes no
// update or delete operation; the ledger is the audit trail for
// reconciliation and manual reversal.
type Service struct {
	db *Database
}

// NewService creates a new ledger service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// RecordPair stores the correlation between the two legs of one arbitrage
// trade. Both orders must already exist in the catalog.
func (s *Service) RecordPair(leftOrderID, rightOrderID uint) (*OrderPair, error) {
	if leftOrderID == 0 || rightOrderID == 0 {
		return nil, fmt.Errorf("both order ids are required: %w", types.ErrValidation)
	}
	if leftOrderID == rightOrderID {
		return nil, fmt.Errorf("a pair needs two distinct orders: %w", types.ErrValidation)
	}

	pair := &OrderPair{
		PairID:       uuid.New().String(),
		LeftOrderID:  leftOrderID,
		RightOrderID: rightOrderID,
		OpenedAt:     time.Now().UTC(),
	}
	if err := s.db.CreatePair(pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// FindPairsByOrder returns every pair the order participates in. Given one
// leg this finds its counterpart for reversal.
func (s *Service) FindPairsByOrder(orderID uint) ([]OrderPair, error) {
	return s.db.GetPairsByOrder(orderID)
}

// GetPair retrieves one pair by its public id.
func (s *Service) GetPair(pairID string) (*OrderPair, error) {
	return s.db.GetPair(pairID)
}

// GinHandlers contains HTTP handlers for pairing ledger endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for ledger endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type recordPairRequest struct {
	LeftOrderID  uint `json:"left_order_id" binding:"required"`
	RightOrderID uint `json:"right_order_id" binding:"required"`
}

// RecordPairHandler handles POST requests correlating two executed legs.
func (h *GinHandlers) RecordPairHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordPairRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		pair, err := h.service.RecordPair(req.LeftOrderID, req.RightOrderID)
		response.Handle(c, pair, err)
	}
}

// GetPairsByOrderHandler handles GET requests listing the pairs an order
// belongs to, read-only.
func (h *GinHandlers) GetPairsByOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("order_id")
		orderID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.BadRequest(c, "Order ID must be a positive integer")
			return
		}

		pairs, err := h.service.FindPairsByOrder(uint(orderID))
		response.Handle(c, pairs, err)
	}
}

// GetPairHandler handles GET requests for a single pair.
func (h *GinHandlers) GetPairHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pair, err := h.service.GetPair(c.Param("pair_id"))
		response.Handle(c, pair, err)
	}
}
