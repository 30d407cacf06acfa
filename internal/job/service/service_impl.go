package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/clock"
	"github.com/tubescribe/tubescribe/internal/job/domain"
	"github.com/tubescribe/tubescribe/internal/job/repository"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	"github.com/tubescribe/tubescribe/internal/observability/metrics"
	"github.com/tubescribe/tubescribe/pkg/db"
	"github.com/tubescribe/tubescribe/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cancelledByUserMessage = "Cancelled by user"

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	LedgerSvc ledgerdomain.Service
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      *repository.Repository
	ledgerSvc ledgerdomain.Service
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:       p.Log.Named("job.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      repository.New(p.DB),
		ledgerSvc: p.LedgerSvc,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.TranscriptionJob, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	youtubeID := strings.TrimSpace(req.YoutubeID)
	if youtubeID == "" {
		return nil, domain.ErrInvalidSubject
	}
	if req.DurationSeconds <= 0 {
		return nil, domain.ErrInvalidDuration
	}

	now := s.clock.Now()
	duration := req.DurationSeconds
	job := &domain.TranscriptionJob{
		ID:                 s.genID.Generate(),
		UserID:             req.UserID,
		YoutubeID:          youtubeID,
		VideoID:            req.VideoID,
		Status:             domain.StatusPending,
		Progress:           0,
		DurationSeconds:    &duration,
		EstimatedMinutes:   minutesFromSeconds(req.DurationSeconds),
		EstimatedCostCents: req.EstimatedCostCents,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Create(ctx, job); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrExistingJob
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.metrics.IncJobTransition(string(domain.StatusPending))
	s.log.Info("job created",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("youtube_id", youtubeID),
		zap.Int("estimated_minutes", job.EstimatedMinutes),
	)
	return job, nil
}

func (s *Service) Get(ctx context.Context, jobID snowflake.ID) (*domain.TranscriptionJob, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *Service) Advance(ctx context.Context, req domain.AdvanceRequest) (*domain.TranscriptionJob, error) {
	job, err := s.Get(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, domain.ErrAlreadyTerminal
	}

	now := s.clock.Now()
	updates := map[string]any{"updated_at": now}

	if req.Status != nil {
		target := *req.Status
		if !target.Valid() {
			return nil, domain.ErrInvalidStatus
		}
		if target.Terminal() {
			// Terminal flips go through Complete/Fail/Cancel so credit
			// consumption stays coupled to the transition.
			return nil, domain.ErrInvalidTransition
		}
		if target != job.Status {
			if !domain.CanTransition(job.Status, target) {
				return nil, domain.ErrInvalidTransition
			}
			updates["status"] = string(target)
			if job.StartedAt == nil {
				updates["started_at"] = now
			}
		}
	}
	if req.Progress != nil {
		if *req.Progress < 0 || *req.Progress > 100 {
			return nil, domain.ErrInvalidStatus
		}
		updates["progress"] = *req.Progress
	}
	if req.CurrentStage != nil {
		updates["current_stage"] = *req.CurrentStage
	}
	if req.TotalChunks != nil {
		updates["total_chunks"] = *req.TotalChunks
	}
	if req.CompletedChunks != nil {
		updates["completed_chunks"] = *req.CompletedChunks
	}

	var affected int64
	if req.Progress != nil {
		affected, err = s.repo.PatchIfProgress(ctx, req.JobID, domain.NonTerminalStatuses, *req.Progress, updates)
	} else {
		affected, err = s.repo.PatchIf(ctx, req.JobID, domain.NonTerminalStatuses, updates)
	}
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Either the job went terminal underneath us, or this is a stale
		// lower-progress report. Terminal loses loudly, stale is dropped.
		current, err := s.Get(ctx, req.JobID)
		if err != nil {
			return nil, err
		}
		if current.Status.Terminal() {
			return nil, domain.ErrAlreadyTerminal
		}
		return current, nil
	}

	return s.Get(ctx, req.JobID)
}

func (s *Service) Complete(ctx context.Context, req domain.CompleteRequest) (*domain.TranscriptionJob, error) {
	job, err := s.Get(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, domain.ErrAlreadyTerminal
	}

	// Bill the measured length when the pipeline reported one, otherwise the
	// creation-time estimate.
	minutes := job.EstimatedMinutes
	if req.MeasuredDurationSeconds != nil && *req.MeasuredDurationSeconds > 0 {
		minutes = minutesFromSeconds(*req.MeasuredDurationSeconds)
	}

	// Consume before flipping: admission was advisory, this is the
	// authoritative sufficiency check.
	split, err := s.ledgerSvc.Consume(ctx, ledgerdomain.ConsumeRequest{
		UserID:  job.UserID,
		JobID:   job.ID,
		Minutes: minutes,
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
			if _, failErr := s.Fail(ctx, job.ID, "insufficient_credits"); failErr != nil {
				s.log.Error("failed to mark job after consumption rejection",
					zap.String("job_id", job.ID.String()), zap.Error(failErr))
			}
			return nil, ledgerdomain.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("consume minutes: %w", err)
	}

	now := s.clock.Now()
	updates := map[string]any{
		"status":       string(domain.StatusCompleted),
		"progress":     100,
		"completed_at": now,
		"updated_at":   now,
	}
	if req.MeasuredDurationSeconds != nil && *req.MeasuredDurationSeconds > 0 {
		updates["duration_seconds"] = *req.MeasuredDurationSeconds
	}
	if req.Transcript != nil {
		updates["transcript_data"] = req.Transcript
	}

	affected, err := s.repo.PatchIf(ctx, job.ID, domain.NonTerminalStatuses, updates)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// A cancel or fail won the race after we consumed; give the minutes back.
		if _, refundErr := s.ledgerSvc.Refund(ctx, job.ID); refundErr != nil {
			s.log.Error("refund after lost completion race failed",
				zap.String("job_id", job.ID.String()), zap.Error(refundErr))
		}
		return nil, domain.ErrAlreadyTerminal
	}

	s.metrics.IncJobTransition(string(domain.StatusCompleted))
	s.log.Info("job completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("minutes", minutes),
		zap.Int("from_subscription", split.FromSubscription),
		zap.Int("from_topup", split.FromTopup),
	)
	return s.Get(ctx, job.ID)
}

func (s *Service) Fail(ctx context.Context, jobID snowflake.ID, errorMessage string) (*domain.TranscriptionJob, error) {
	return s.finalize(ctx, jobID, domain.StatusFailed, errorMessage)
}

func (s *Service) Cancel(ctx context.Context, jobID snowflake.ID) (*domain.TranscriptionJob, error) {
	return s.finalize(ctx, jobID, domain.StatusCancelled, cancelledByUserMessage)
}

// finalize flips a job to failed or cancelled with the non-terminal guard, then
// refunds whatever the ledger recorded for it. The refund is outside the flip's
// condition: it is idempotent and a no-op for jobs that never consumed.
func (s *Service) finalize(ctx context.Context, jobID snowflake.ID, target domain.Status, errorMessage string) (*domain.TranscriptionJob, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, domain.ErrAlreadyTerminal
	}

	now := s.clock.Now()
	affected, err := s.repo.PatchIf(ctx, jobID, domain.NonTerminalStatuses, map[string]any{
		"status":        string(target),
		"error_message": errorMessage,
		"completed_at":  now,
		"updated_at":    now,
	})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrAlreadyTerminal
	}

	refunded, err := s.ledgerSvc.Refund(ctx, jobID)
	if err != nil {
		// The terminal state is already durable; surface the refund failure
		// for retry by the caller or the reaper.
		return nil, fmt.Errorf("refund job %s: %w", jobID.String(), err)
	}

	s.metrics.IncJobTransition(string(target))
	s.log.Info("job finalized",
		zap.String("job_id", jobID.String()),
		zap.String("status", string(target)),
		zap.Int("minutes_refunded", refunded),
	)
	return s.Get(ctx, jobID)
}

func (s *Service) ActiveForSubject(ctx context.Context, userID snowflake.ID, youtubeID string) (*domain.TranscriptionJob, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	youtubeID = strings.TrimSpace(youtubeID)
	if youtubeID == "" {
		return nil, domain.ErrInvalidSubject
	}
	return s.repo.FindActive(ctx, userID, youtubeID)
}

func (s *Service) CompletedForSubject(ctx context.Context, youtubeID string) (*domain.TranscriptionJob, error) {
	youtubeID = strings.TrimSpace(youtubeID)
	if youtubeID == "" {
		return nil, domain.ErrInvalidSubject
	}
	return s.repo.FindCompleted(ctx, youtubeID)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.UserID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	items, err := s.repo.ListByUser(ctx, req.UserID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(job *domain.TranscriptionJob) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        job.ID.String(),
			CreatedAt: job.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	jobs := make([]domain.TranscriptionJob, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		jobs = append(jobs, *item)
	}

	resp := domain.ListResponse{Jobs: jobs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func minutesFromSeconds(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
