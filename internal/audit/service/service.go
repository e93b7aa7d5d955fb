package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/audit/domain"
	obscontext "github.com/cambridgetcg/rewardspro/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

// Service records immutable audit rows. Failures are logged, never
// propagated: audit must not break the action it describes.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

type Entry struct {
	MerchantID snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// Record writes one audit row, pulling actor identity from the context.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if s == nil || s.repo == nil {
		return
	}
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(domain.ActorTypeSystem)
	}

	metadata := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		metadata[key] = value
	}

	row := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		Action:     action,
		TargetType: entry.TargetType,
		Metadata:   metadata,
	}
	if entry.MerchantID != 0 {
		merchantID := entry.MerchantID
		row.MerchantID = &merchantID
	}
	if actorID != "" {
		row.ActorID = &actorID
	}
	if target := strings.TrimSpace(entry.TargetID); target != "" {
		row.TargetID = &target
	}

	if err := s.repo.Insert(ctx, s.db, row); err != nil {
		s.log.Warn("audit insert failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// List pages audit rows for a merchant, newest first.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}
