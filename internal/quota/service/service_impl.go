package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/billingperiod"
	"github.com/tubescribe/tubescribe/internal/clock"
	"github.com/tubescribe/tubescribe/internal/config"
	jobdomain "github.com/tubescribe/tubescribe/internal/job/domain"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	"github.com/tubescribe/tubescribe/internal/observability/metrics"
	"github.com/tubescribe/tubescribe/internal/quota/domain"
	subscriptiondomain "github.com/tubescribe/tubescribe/internal/subscription/domain"
	topupdomain "github.com/tubescribe/tubescribe/internal/topup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	SubSvc    subscriptiondomain.Service
	LedgerSvc ledgerdomain.Service
	TopupSvc  topupdomain.Service
	JobSvc    jobdomain.Service
	Plans     *config.PlanConfigHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	subSvc    subscriptiondomain.Service
	ledgerSvc ledgerdomain.Service
	topupSvc  topupdomain.Service
	jobSvc    jobdomain.Service
	plans     *config.PlanConfigHolder
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:       p.Log.Named("quota.service"),
		clock:     p.Clock,
		subSvc:    p.SubSvc,
		ledgerSvc: p.LedgerSvc,
		topupSvc:  p.TopupSvc,
		jobSvc:    p.JobSvc,
		plans:     p.Plans,
		metrics:   p.Metrics,
	}
}

func (s *Service) GetUsageStats(ctx context.Context, userID snowflake.ID) (*domain.UsageStats, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	unlimited, err := s.subSvc.IsUnlimited(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check unlimited: %w", err)
	}
	if unlimited {
		// Unlimited never touches the ledger; the stats are a constant.
		now := s.clock.Now()
		period := billingperiod.Period{Start: now, End: now.AddDate(100, 0, 0)}
		return &domain.UsageStats{
			SubscriptionMinutes: domain.SubscriptionMinutes{
				Used:      0,
				Limit:     domain.UnlimitedMinutes,
				Remaining: domain.UnlimitedMinutes,
			},
			TotalRemaining: domain.UnlimitedMinutes,
			PeriodStart:    period.Start,
			PeriodEnd:      period.End,
			ResetAt:        period.End,
			IsUnlimited:    true,
		}, nil
	}

	sub, err := s.subSvc.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	var (
		period billingperiod.Period
		limit  int
	)
	if sub != nil {
		period = billingperiod.Resolve(*sub, s.clock.Now())
		if sub.Tier == subscriptiondomain.TierPro {
			limit = s.plans.Get().ProMinutesPerPeriod
		}
	} else {
		now := s.clock.Now().UTC()
		period = billingperiod.Period{Start: now.Add(-30 * 24 * time.Hour), End: now}
	}

	used := 0
	if limit > 0 {
		// Free tier is zero limit, zero usage; no point aggregating.
		used, err = s.ledgerSvc.UsedMinutes(ctx, userID, period)
		if err != nil {
			return nil, fmt.Errorf("aggregate usage: %w", err)
		}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	topup, err := s.topupSvc.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load topup balance: %w", err)
	}

	return &domain.UsageStats{
		SubscriptionMinutes: domain.SubscriptionMinutes{
			Used:      used,
			Limit:     limit,
			Remaining: remaining,
		},
		TopupMinutes:   topup,
		TotalRemaining: remaining + topup,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		ResetAt:        period.End,
	}, nil
}

// Decide is advisory: it orders the cheap rejections first and never reserves
// anything. The ledger's Consume re-validates sufficiency when the job
// actually finishes.
func (s *Service) Decide(ctx context.Context, userID snowflake.ID, youtubeID string, estimatedMinutes int) (*domain.Decision, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	youtubeID = strings.TrimSpace(youtubeID)
	if youtubeID == "" {
		return nil, domain.ErrInvalidSubject
	}
	if estimatedMinutes <= 0 {
		return nil, domain.ErrInvalidMinutes
	}

	unlimited, err := s.subSvc.IsUnlimited(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check unlimited: %w", err)
	}
	if unlimited {
		return s.finish(&domain.Decision{Allowed: true, Reason: domain.ReasonOK}), nil
	}

	sub, err := s.subSvc.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return s.finish(&domain.Decision{Reason: domain.ReasonNoSubscription}), nil
	}
	if sub.Tier != subscriptiondomain.TierPro {
		return s.finish(&domain.Decision{Reason: domain.ReasonNotPro}), nil
	}

	existing, err := s.jobSvc.ActiveForSubject(ctx, userID, youtubeID)
	if err != nil {
		return nil, fmt.Errorf("check active job: %w", err)
	}
	if existing != nil {
		id := existing.ID
		return s.finish(&domain.Decision{
			Reason:        domain.ReasonExistingJob,
			ExistingJobID: &id,
		}), nil
	}

	stats, err := s.GetUsageStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stats.TotalRemaining < estimatedMinutes {
		return s.finish(&domain.Decision{
			Reason:        domain.ReasonInsufficientCredits,
			Stats:         stats,
			MinutesNeeded: estimatedMinutes - stats.TotalRemaining,
		}), nil
	}

	return s.finish(&domain.Decision{
		Allowed:      true,
		Reason:       domain.ReasonOK,
		Stats:        stats,
		WillUseTopup: stats.SubscriptionMinutes.Remaining < estimatedMinutes && stats.TopupMinutes > 0,
	}), nil
}

func (s *Service) finish(d *domain.Decision) *domain.Decision {
	s.metrics.IncAdmission(d.Reason)
	if !d.Allowed {
		s.log.Info("admission rejected", zap.String("reason", d.Reason))
	}
	return d
}
