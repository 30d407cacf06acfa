// Package repository provides the conditional-update storage primitives for
// transcription jobs. Status flips are guarded at the SQL layer so racing
// writers cannot overwrite a terminal record.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/job/domain"
	"github.com/tubescribe/tubescribe/pkg/db/option"
	"github.com/tubescribe/tubescribe/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, job *domain.TranscriptionJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repository) GetByID(ctx context.Context, jobID snowflake.ID) (*domain.TranscriptionJob, error) {
	var job domain.TranscriptionJob
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// PatchIf applies updates only while the job's current status is in
// allowedFrom, returning the number of rows changed. Zero rows means the
// guard lost: the job moved (or finished) underneath the caller.
func (r *Repository) PatchIf(ctx context.Context, jobID snowflake.ID, allowedFrom []domain.Status, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.TranscriptionJob{}).
		Where("id = ? AND status IN ?", jobID, statusStrings(allowedFrom)).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// PatchIfProgress is PatchIf with an additional monotonic-progress guard.
func (r *Repository) PatchIfProgress(ctx context.Context, jobID snowflake.ID, allowedFrom []domain.Status, minProgress int, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.TranscriptionJob{}).
		Where("id = ? AND status IN ? AND progress <= ?", jobID, statusStrings(allowedFrom), minProgress).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *Repository) FindActive(ctx context.Context, userID snowflake.ID, youtubeID string) (*domain.TranscriptionJob, error) {
	var job domain.TranscriptionJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND youtube_id = ? AND status IN ?",
			userID, youtubeID, statusStrings(domain.NonTerminalStatuses)).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *Repository) FindCompleted(ctx context.Context, youtubeID string) (*domain.TranscriptionJob, error) {
	var job domain.TranscriptionJob
	err := r.db.WithContext(ctx).
		Where("youtube_id = ? AND status = ?", youtubeID, domain.StatusCompleted).
		Order("completed_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*domain.TranscriptionJob, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	query = option.ApplyPagination(page).Apply(query)

	var jobs []*domain.TranscriptionJob
	err := query.Find(&jobs).Error
	return jobs, err
}

// FindStale returns non-terminal jobs not updated since the cutoff.
func (r *Repository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.TranscriptionJob, error) {
	var jobs []*domain.TranscriptionJob
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statusStrings(domain.NonTerminalStatuses), cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
