package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/tubescribe/tubescribe/internal/job/domain"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	quotadomain "github.com/tubescribe/tubescribe/internal/quota/domain"
	topupdomain "github.com/tubescribe/tubescribe/internal/topup/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many job starts, slow down",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, jobdomain.ErrExistingJob):
		return http.StatusConflict, errorPayload{
			Type:    "existing_job",
			Message: "a job for this video is already in progress",
		}
	case errors.Is(err, jobdomain.ErrAlreadyTerminal),
		errors.Is(err, jobdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "not enough transcription minutes remaining",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, jobdomain.ErrInvalidUser),
		errors.Is(err, jobdomain.ErrInvalidSubject),
		errors.Is(err, jobdomain.ErrInvalidDuration),
		errors.Is(err, jobdomain.ErrInvalidStatus),
		errors.Is(err, quotadomain.ErrInvalidUser),
		errors.Is(err, quotadomain.ErrInvalidSubject),
		errors.Is(err, quotadomain.ErrInvalidMinutes),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidJob),
		errors.Is(err, ledgerdomain.ErrInvalidMinutes),
		errors.Is(err, topupdomain.ErrInvalidUser),
		errors.Is(err, topupdomain.ErrInvalidPayment),
		errors.Is(err, topupdomain.ErrInvalidMinutes):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, jobdomain.ErrJobNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
