package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/tubescribe/tubescribe/internal/subscription/domain"
	"github.com/tubescribe/tubescribe/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	log  *zap.Logger
	repo repository.Repository[domain.Subscription]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:  p.Log.Named("subscription.service"),
		repo: repository.ProvideStore[domain.Subscription](p.DB),
	}
}

func (s *Service) GetByUserID(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	sub, err := s.repo.FindOne(ctx, &domain.Subscription{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("lookup subscription: %w", err)
	}
	return sub, nil
}

func (s *Service) IsUnlimited(ctx context.Context, userID snowflake.ID) (bool, error) {
	sub, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Tier == domain.TierUnlimited, nil
}
