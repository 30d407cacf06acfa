package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/billingperiod"
	"github.com/tubescribe/tubescribe/internal/clock"
	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/ledger/domain"
	"github.com/tubescribe/tubescribe/internal/observability/metrics"
	subscriptiondomain "github.com/tubescribe/tubescribe/internal/subscription/domain"
	"github.com/tubescribe/tubescribe/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	SubSvc  subscriptiondomain.Service
	Plans   *config.PlanConfigHolder
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	subSvc  subscriptiondomain.Service
	plans   *config.PlanConfigHolder
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		subSvc:  p.SubSvc,
		plans:   p.Plans,
		metrics: p.Metrics,
	}
}

// Consume is the sole enforcement point for credit sufficiency. Admission by
// the decision engine is advisory and may be stale by the time a job finishes;
// everything here re-reads under the transaction before recording anything.
func (s *Service) Consume(ctx context.Context, req domain.ConsumeRequest) (domain.Split, error) {
	if req.UserID == 0 {
		return domain.Split{}, domain.ErrInvalidUser
	}
	if req.JobID == 0 {
		return domain.Split{}, domain.ErrInvalidJob
	}
	if req.Minutes <= 0 {
		return domain.Split{}, domain.ErrInvalidMinutes
	}

	unlimited, err := s.subSvc.IsUnlimited(ctx, req.UserID)
	if err != nil {
		return domain.Split{}, fmt.Errorf("check unlimited: %w", err)
	}
	if unlimited {
		return domain.Split{}, nil
	}

	var split domain.Split
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.lockBalance(tx, req.UserID)
		if err != nil {
			return err
		}

		// Retried completion for an already-consumed job returns the
		// recorded split instead of double-charging.
		existing, err := s.findConsumption(tx, req.JobID, false)
		if err != nil {
			return err
		}
		if existing != nil {
			split = domain.Split{
				FromSubscription: existing.FromSubscription,
				FromTopup:        existing.FromTopup,
			}
			return nil
		}

		limit, period, err := s.resolveAllowance(ctx, req.UserID)
		if err != nil {
			return err
		}

		used, err := s.usedMinutesTx(tx, req.UserID, period)
		if err != nil {
			return err
		}

		fromSubscription := limit - used
		if fromSubscription < 0 {
			fromSubscription = 0
		}
		if fromSubscription > req.Minutes {
			fromSubscription = req.Minutes
		}
		fromTopup := req.Minutes - fromSubscription

		if fromTopup > balance.Minutes {
			return domain.ErrInsufficientCredits
		}

		now := s.clock.Now()
		entry := domain.CreditConsumption{
			ID:               s.genID.Generate(),
			UserID:           req.UserID,
			JobID:            req.JobID,
			Minutes:          req.Minutes,
			FromSubscription: fromSubscription,
			FromTopup:        fromTopup,
			ConsumedAt:       now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				// Lost a race with a concurrent consume for the same job.
				return domain.ErrInvalidJob
			}
			return err
		}

		if fromTopup > 0 {
			result := tx.Model(&domain.TopupBalance{}).
				Where("user_id = ? AND minutes >= ?", req.UserID, fromTopup).
				Updates(map[string]any{
					"minutes":    gorm.Expr("minutes - ?", fromTopup),
					"updated_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return domain.ErrInsufficientCredits
			}
		}

		split = domain.Split{FromSubscription: fromSubscription, FromTopup: fromTopup}
		return nil
	})
	if err != nil {
		return domain.Split{}, err
	}

	s.metrics.AddConsumedMinutes(split.FromSubscription, split.FromTopup)
	s.log.Info("minutes consumed",
		zap.String("user_id", req.UserID.String()),
		zap.String("job_id", req.JobID.String()),
		zap.Int("from_subscription", split.FromSubscription),
		zap.Int("from_topup", split.FromTopup),
	)
	return split, nil
}

// Refund reverses the split recorded at consumption time. It never recomputes
// from current balances, which may have moved since.
func (s *Service) Refund(ctx context.Context, jobID snowflake.ID) (int, error) {
	if jobID == 0 {
		return 0, domain.ErrInvalidJob
	}

	var refunded int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.findConsumption(tx, jobID, true)
		if err != nil {
			return err
		}
		if entry == nil || entry.Refunded {
			return nil
		}

		now := s.clock.Now()
		result := tx.Model(&domain.CreditConsumption{}).
			Where("id = ? AND refunded = ?", entry.ID, false).
			Updates(map[string]any{
				"refunded":    true,
				"refunded_at": now,
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Another refund won the race; nothing left to restore.
			return nil
		}

		if entry.FromTopup > 0 {
			if _, err := s.lockBalance(tx, entry.UserID); err != nil {
				return err
			}
			if err := tx.Model(&domain.TopupBalance{}).
				Where("user_id = ?", entry.UserID).
				Updates(map[string]any{
					"minutes":    gorm.Expr("minutes + ?", entry.FromTopup),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		refunded = entry.Minutes
		return nil
	})
	if err != nil {
		return 0, err
	}

	if refunded > 0 {
		s.metrics.AddRefundedMinutes(refunded)
		s.log.Info("consumption refunded",
			zap.String("job_id", jobID.String()),
			zap.Int("minutes", refunded),
		)
	}
	return refunded, nil
}

func (s *Service) UsedMinutes(ctx context.Context, userID snowflake.ID, period billingperiod.Period) (int, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	return s.usedMinutesTx(s.db.WithContext(ctx), userID, period)
}

func (s *Service) History(ctx context.Context, userID snowflake.ID, period billingperiod.Period) ([]domain.CreditConsumption, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	var entries []domain.CreditConsumption
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND consumed_at >= ? AND consumed_at < ?", userID, period.Start, period.End).
		Order("consumed_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// lockBalance ensures the user's balance row exists and locks it for the
// transaction. On postgres the row lock serializes concurrent consumes for the
// same user, so the usage re-read below cannot be stale.
func (s *Service) lockBalance(tx *gorm.DB, userID snowflake.ID) (*domain.TopupBalance, error) {
	now := s.clock.Now()
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.TopupBalance{UserID: userID, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
	}

	query := tx.Where("user_id = ?", userID)
	if db.IsPostgres(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var balance domain.TopupBalance
	if err := query.First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *Service) findConsumption(tx *gorm.DB, jobID snowflake.ID, lock bool) (*domain.CreditConsumption, error) {
	query := tx.Where("job_id = ?", jobID)
	if lock && db.IsPostgres(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var entry domain.CreditConsumption
	if err := query.First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Service) usedMinutesTx(tx *gorm.DB, userID snowflake.ID, period billingperiod.Period) (int, error) {
	var used int
	err := tx.Model(&domain.CreditConsumption{}).
		Select("COALESCE(SUM(from_subscription), 0)").
		Where("user_id = ? AND refunded = ? AND consumed_at >= ? AND consumed_at < ?",
			userID, false, period.Start, period.End).
		Scan(&used).Error
	if err != nil {
		return 0, err
	}
	return used, nil
}

// resolveAllowance re-reads the subscription under the current call so the
// limit reflects the period active at consumption time, not admission time.
func (s *Service) resolveAllowance(ctx context.Context, userID snowflake.ID) (int, billingperiod.Period, error) {
	sub, err := s.subSvc.GetByUserID(ctx, userID)
	if err != nil {
		return 0, billingperiod.Period{}, err
	}

	now := s.clock.Now()
	if sub == nil {
		// No subscription: the whole cost falls on the top-up pool.
		return 0, billingperiod.Resolve(subscriptiondomain.Subscription{}, now), nil
	}

	period := billingperiod.Resolve(*sub, now)
	limit := 0
	if sub.Tier == subscriptiondomain.TierPro {
		limit = s.plans.Get().ProMinutesPerPeriod
	}
	return limit, period, nil
}
