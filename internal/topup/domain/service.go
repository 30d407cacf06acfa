package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ApplyRequest struct {
	UserID            snowflake.ID
	ExternalPaymentID string
	Minutes           int
	AmountCents       int64
}

type ApplyResponse struct {
	AlreadyProcessed bool `json:"already_processed"`
	NewBalance       int  `json:"new_balance"`
}

type Service interface {
	// Apply credits purchased minutes to the user's balance, exactly once per
	// external payment ID. Replays return AlreadyProcessed without crediting.
	Apply(ctx context.Context, req ApplyRequest) (ApplyResponse, error)

	// Balance returns the user's current top-up minutes.
	Balance(ctx context.Context, userID snowflake.ID) (int, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidPayment = errors.New("invalid_payment")
	ErrInvalidMinutes = errors.New("invalid_minutes")
)
