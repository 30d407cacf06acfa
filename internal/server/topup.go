package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	topupdomain "github.com/tubescribe/tubescribe/internal/topup/domain"
)

type applyTopupRequest struct {
	UserID            string `json:"user_id" binding:"required"`
	ExternalPaymentID string `json:"external_payment_id" binding:"required"`
	Minutes           int    `json:"minutes" binding:"required"`
	AmountCents       int64  `json:"amount_cents"`
}

// ApplyTopupCredit is the payment provider webhook. Providers redeliver, so
// the whole route is idempotent on external_payment_id.
func (s *Server) ApplyTopupCredit(c *gin.Context) {
	var req applyTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	parsed, err := strconv.ParseInt(strings.TrimSpace(req.UserID), 10, 64)
	if err != nil || parsed <= 0 {
		AbortWithError(c, topupdomain.ErrInvalidUser)
		return
	}

	resp, err := s.topupSvc.Apply(c.Request.Context(), topupdomain.ApplyRequest{
		UserID:            snowflake.ID(parsed),
		ExternalPaymentID: req.ExternalPaymentID,
		Minutes:           req.Minutes,
		AmountCents:       req.AmountCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetTopupBalance(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.topupSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"minutes": balance})
}
