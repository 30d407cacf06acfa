// Package reaper fails transcription jobs abandoned by their workers so the
// credits estimated for them do not stay earmarked forever.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/tubescribe/tubescribe/internal/clock"
	"github.com/tubescribe/tubescribe/internal/config"
	jobdomain "github.com/tubescribe/tubescribe/internal/job/domain"
	"github.com/tubescribe/tubescribe/internal/job/repository"
	"github.com/tubescribe/tubescribe/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	staleJobMessage = "Job timed out"
	batchSize       = 100
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Config  config.Config
	JobSvc  jobdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Worker struct {
	log     *zap.Logger
	clock   clock.Clock
	repo    *repository.Repository
	jobSvc  jobdomain.Service
	metrics *metrics.Metrics

	interval     time.Duration
	staleTimeout time.Duration
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:          p.Log.Named("job.reaper"),
		clock:        p.Clock,
		repo:         repository.New(p.DB),
		jobSvc:       p.JobSvc,
		metrics:      p.Metrics,
		interval:     p.Config.Reaper.Interval,
		staleTimeout: p.Config.Reaper.StaleTimeout,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("reaper run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce fails every job whose last update is older than the stale timeout.
// Failing goes through the lifecycle service so each reaped job gets its
// recorded consumption refunded. Races with a finishing worker are safe: the
// terminal-guarded flip makes the loser a no-op.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.clock.Now().Add(-w.staleTimeout)

	stale, err := w.repo.FindStale(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, job := range stale {
		if _, err := w.jobSvc.Fail(ctx, job.ID, staleJobMessage); err != nil {
			if errors.Is(err, jobdomain.ErrAlreadyTerminal) {
				continue
			}
			w.log.Warn("failed to reap stale job",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue
		}

		reaped++
		w.metrics.IncReapedJob()
		w.log.Info("reaped stale job",
			zap.String("job_id", job.ID.String()),
			zap.String("user_id", job.UserID.String()),
			zap.Time("last_update", job.UpdatedAt),
		)
	}

	return reaped, nil
}
