package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tubescribe/tubescribe/internal/billingperiod"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
)

func (s *Server) GetUsageStats(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	stats, err := s.quotaSvc.GetUsageStats(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) GetUsageHistory(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	stats, err := s.quotaSvc.GetUsageStats(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	period := billingperiod.Period{Start: stats.PeriodStart, End: stats.PeriodEnd}
	history, err := s.ledgerSvc.History(c.Request.Context(), userID, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if history == nil {
		history = []ledgerdomain.CreditConsumption{}
	}

	c.JSON(http.StatusOK, gin.H{
		"period_start": period.Start,
		"period_end":   period.End,
		"consumptions": history,
	})
}

type decideRequest struct {
	YoutubeID        string `json:"youtube_id" binding:"required"`
	EstimatedMinutes int    `json:"estimated_minutes" binding:"required"`
}

// DecideAdmission is the advisory pre-flight check clients call before
// showing the "start transcription" button state.
func (s *Server) DecideAdmission(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	decision, err := s.quotaSvc.Decide(c.Request.Context(), userID, req.YoutubeID, req.EstimatedMinutes)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}
