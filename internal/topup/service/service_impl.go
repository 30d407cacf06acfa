package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/clock"
	ledgerdomain "github.com/tubescribe/tubescribe/internal/ledger/domain"
	"github.com/tubescribe/tubescribe/internal/observability/metrics"
	"github.com/tubescribe/tubescribe/internal/topup/domain"
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
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("topup.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Apply(ctx context.Context, req domain.ApplyRequest) (domain.ApplyResponse, error) {
	if req.UserID == 0 {
		return domain.ApplyResponse{}, domain.ErrInvalidUser
	}
	paymentID := strings.TrimSpace(req.ExternalPaymentID)
	if paymentID == "" {
		return domain.ApplyResponse{}, domain.ErrInvalidPayment
	}
	if req.Minutes <= 0 {
		return domain.ApplyResponse{}, domain.ErrInvalidMinutes
	}

	var resp domain.ApplyResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		entry := domain.TopupCredit{
			ID:                s.genID.Generate(),
			UserID:            req.UserID,
			ExternalPaymentID: paymentID,
			Minutes:           req.Minutes,
			AmountCents:       req.AmountCents,
			CreatedAt:         now,
		}

		// The unique index on external_payment_id is the idempotency guard:
		// a replayed webhook inserts zero rows and credits nothing.
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_payment_id"}},
			DoNothing: true,
		}).Create(&entry)
		if result.Error != nil {
			if !db.IsDuplicateKeyErr(result.Error) {
				return result.Error
			}
			result.RowsAffected = 0
		}

		if result.RowsAffected == 0 {
			resp.AlreadyProcessed = true
			return s.readBalance(tx, req.UserID, &resp.NewBalance)
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ledgerdomain.TopupBalance{UserID: req.UserID, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
			if !db.IsDuplicateKeyErr(err) {
				return err
			}
		}
		if err := tx.Model(&ledgerdomain.TopupBalance{}).
			Where("user_id = ?", req.UserID).
			Updates(map[string]any{
				"minutes":    gorm.Expr("minutes + ?", req.Minutes),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		return s.readBalance(tx, req.UserID, &resp.NewBalance)
	})
	if err != nil {
		return domain.ApplyResponse{}, err
	}

	if !resp.AlreadyProcessed {
		s.metrics.IncTopupApplied()
		s.log.Info("top-up applied",
			zap.String("user_id", req.UserID.String()),
			zap.String("payment_id", paymentID),
			zap.Int("minutes", req.Minutes),
		)
	}
	return resp, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	var balance int
	err := s.readBalance(s.db.WithContext(ctx), userID, &balance)
	return balance, err
}

func (s *Service) readBalance(tx *gorm.DB, userID snowflake.ID, out *int) error {
	var bal ledgerdomain.TopupBalance
	err := tx.Where("user_id = ?", userID).First(&bal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			*out = 0
			return nil
		}
		return err
	}
	*out = bal.Minutes
	return nil
}
