package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidSubject = errors.New("invalid_subject")
	ErrInvalidMinutes = errors.New("invalid_minutes")
)

type Service interface {
	// GetUsageStats aggregates both pools for the user's current billing
	// period. Free tier reports zero limit; unlimited reports the sentinel.
	GetUsageStats(ctx context.Context, userID snowflake.ID) (*UsageStats, error)

	// Decide runs the admission checks for starting a transcription.
	Decide(ctx context.Context, userID snowflake.ID, youtubeID string, estimatedMinutes int) (*Decision, error)
}
