package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	merchantdomain "github.com/cambridgetcg/rewardspro/internal/merchant/domain"
	"github.com/cambridgetcg/rewardspro/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo repository.Repository[merchantdomain.Merchant]
}

func NewService(p Params) merchantdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("merchant.service"),
		repo: repository.ProvideStore[merchantdomain.Merchant](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*merchantdomain.Merchant, error) {
	merchantID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || merchantID == 0 {
		return nil, merchantdomain.ErrInvalidMerchant
	}
	record, err := s.repo.FindOne(ctx, &merchantdomain.Merchant{ID: merchantID})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, merchantdomain.ErrMerchantNotFound
	}
	return record, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*merchantdomain.Merchant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, merchantdomain.ErrInvalidMerchant
	}
	record, err := s.repo.FindOne(ctx, &merchantdomain.Merchant{Slug: slug})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, merchantdomain.ErrMerchantNotFound
	}
	return record, nil
}

func (s *Service) Default(ctx context.Context) (*merchantdomain.Merchant, error) {
	record, err := s.repo.FindOne(ctx, &merchantdomain.Merchant{IsDefault: true})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, merchantdomain.ErrMerchantNotFound
	}
	return record, nil
}

func (s *Service) List(ctx context.Context) ([]merchantdomain.Merchant, error) {
	var merchants []merchantdomain.Merchant
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&merchants).Error; err != nil {
		return nil, err
	}
	return merchants, nil
}
