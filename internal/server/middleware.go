package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tubescribe/tubescribe/internal/userctx"
)

const (
	headerRequestID = "X-Request-Id"
	headerUserID    = "X-User-Id"
)

// RequestIDMiddleware stamps each request with an ID for log correlation,
// reusing the caller's when present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Set("request_id", id)
		c.Next()
	}
}

// UserRequired resolves the authenticated user from the gateway-set header.
// Authentication itself lives upstream; this service only meters.
func UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Request = c.Request.WithContext(
			userctx.WithUserID(c.Request.Context(), snowflake.ID(parsed)),
		)
		c.Next()
	}
}

func userIDFrom(c *gin.Context) (snowflake.ID, bool) {
	return userctx.UserIDFromContext(c.Request.Context())
}
