package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GetByUserID returns the user's subscription, or nil when none exists.
	GetByUserID(ctx context.Context, userID snowflake.ID) (*Subscription, error)
	// IsUnlimited reports whether the user's account bypasses metering entirely.
	IsUnlimited(ctx context.Context, userID snowflake.ID) (bool, error)
}

var (
	ErrInvalidUser = errors.New("invalid_user")
)
