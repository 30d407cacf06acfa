package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/pkg/db/pagination"
	"gorm.io/datatypes"
)

type CreateRequest struct {
	UserID             snowflake.ID
	YoutubeID          string
	VideoID            *string
	DurationSeconds    int
	EstimatedCostCents int
}

// AdvanceRequest is a sparse patch: only non-nil fields change, so progress
// updates from different pipeline stages compose instead of clobbering each
// other.
type AdvanceRequest struct {
	JobID           snowflake.ID
	Status          *Status
	Progress        *int
	CurrentStage    *string
	TotalChunks     *int
	CompletedChunks *int
}

type CompleteRequest struct {
	JobID snowflake.ID
	// Transcript is the opaque payload attached on success.
	Transcript datatypes.JSONMap
	// MeasuredDurationSeconds, when reported by the pipeline, overrides the
	// creation-time estimate for final consumption.
	MeasuredDurationSeconds *int
}

type ListRequest struct {
	UserID    snowflake.ID
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Jobs []TranscriptionJob `json:"jobs"`
}

type Service interface {
	// Create registers an admitted job in the pending state. A live job for
	// the same (user, video) rejects with ErrExistingJob, enforced by the
	// storage-level partial unique index rather than check-then-create.
	Create(ctx context.Context, req CreateRequest) (*TranscriptionJob, error)

	Get(ctx context.Context, jobID snowflake.ID) (*TranscriptionJob, error)

	// Advance applies a sparse progress patch. Progress never decreases;
	// stale updates are dropped. Terminal jobs reject with ErrAlreadyTerminal.
	Advance(ctx context.Context, req AdvanceRequest) (*TranscriptionJob, error)

	// Complete finalizes the job and consumes minutes. If consumption fails
	// sufficiency the job transitions to failed instead.
	Complete(ctx context.Context, req CompleteRequest) (*TranscriptionJob, error)

	// Fail marks the job failed and refunds any recorded consumption.
	Fail(ctx context.Context, jobID snowflake.ID, errorMessage string) (*TranscriptionJob, error)

	// Cancel marks the job cancelled and refunds. A cancel racing a
	// completion loses and reports ErrAlreadyTerminal.
	Cancel(ctx context.Context, jobID snowflake.ID) (*TranscriptionJob, error)

	// ActiveForSubject returns the newest non-terminal job for the pair.
	ActiveForSubject(ctx context.Context, userID snowflake.ID, youtubeID string) (*TranscriptionJob, error)

	// CompletedForSubject returns the newest completed job for the video,
	// regardless of owner: finished transcripts are shareable.
	CompletedForSubject(ctx context.Context, youtubeID string) (*TranscriptionJob, error)

	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidSubject    = errors.New("invalid_subject")
	ErrInvalidDuration   = errors.New("invalid_duration")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrJobNotFound       = errors.New("job_not_found")
	ErrExistingJob       = errors.New("existing_job")
	ErrAlreadyTerminal   = errors.New("already_terminal")
)
