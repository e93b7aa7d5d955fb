package repository

import (
	"context"
	"errors"

	"github.com/cambridgetcg/rewardspro/internal/audit/domain"
	"gorm.io/gorm"
)

type gormRepository struct{}

// Provide builds the gorm-backed audit repository.
func Provide() domain.Repository {
	return &gormRepository{}
}

func (r *gormRepository) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if db == nil || entry == nil {
		return errors.New("audit_repository_unavailable")
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *gormRepository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	if db == nil {
		return nil, errors.New("audit_repository_unavailable")
	}

	query := db.WithContext(ctx).Model(&domain.AuditLog{})
	if filter.MerchantID != 0 {
		query = query.Where("merchant_id = ?", filter.MerchantID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.TargetType != "" {
		query = query.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		query = query.Where("target_id = ?", filter.TargetID)
	}
	if filter.ActorType != "" {
		query = query.Where("actor_type = ?", filter.ActorType)
	}
	if filter.StartAt != nil {
		query = query.Where("created_at >= ?", *filter.StartAt)
	}
	if filter.EndAt != nil {
		query = query.Where("created_at < ?", *filter.EndAt)
	}
	if filter.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", filter.Cursor.CreatedAt, filter.Cursor.ID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var entries []*domain.AuditLog
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
