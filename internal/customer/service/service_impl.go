package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	"github.com/cambridgetcg/rewardspro/pkg/db/option"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"github.com/cambridgetcg/rewardspro/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	MembershipSvc membershipdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	membershipSvc membershipdomain.Service
	repo          repository.Repository[customerdomain.Customer]
}

func NewService(p Params) customerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		clock: p.Clock,

		membershipSvc: p.MembershipSvc,
		repo:          repository.ProvideStore[customerdomain.Customer](p.DB),
	}
}

func (s *Service) FindOrCreate(ctx context.Context, req customerdomain.FindOrCreateRequest) (*customerdomain.Customer, error) {
	merchantID, err := parseID(req.MerchantID, customerdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}
	externalRef := strings.TrimSpace(req.ExternalRef)
	if externalRef == "" {
		return nil, customerdomain.ErrInvalidExternalRef
	}

	existing, err := s.repo.FindOne(ctx, &customerdomain.Customer{
		MerchantID:  merchantID,
		ExternalRef: externalRef,
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}
	now := s.clock.Now()
	record := &customerdomain.Customer{
		ID:          s.genID.Generate(),
		MerchantID:  merchantID,
		ExternalRef: externalRef,
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		// A concurrent upsert may have won the unique index race.
		winner, findErr := s.repo.FindOne(ctx, &customerdomain.Customer{
			MerchantID:  merchantID,
			ExternalRef: externalRef,
		})
		if findErr == nil && winner != nil {
			return winner, nil
		}
		return nil, err
	}

	if err := s.membershipSvc.AssignInitial(ctx, record.ID); err != nil {
		if !errors.Is(err, membershipdomain.ErrMembershipExists) {
			s.log.Warn("initial tier assignment failed",
				zap.String("customer_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}

	return record, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*customerdomain.Customer, error) {
	customerID, err := parseID(id, customerdomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.FindOne(ctx, &customerdomain.Customer{ID: customerID})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, customerdomain.ErrCustomerNotFound
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, req customerdomain.ListRequest) (customerdomain.ListResponse, error) {
	merchantID, err := parseID(req.MerchantID, customerdomain.ErrInvalidMerchant)
	if err != nil {
		return customerdomain.ListResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := &customerdomain.Customer{MerchantID: merchantID}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		filter.Email = email
	}

	items, err := s.repo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
	)
	if err != nil {
		return customerdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *customerdomain.Customer) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]customerdomain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	return customerdomain.ListResponse{
		Customers: records,
		PageInfo:  *pageInfo,
	}, nil
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
