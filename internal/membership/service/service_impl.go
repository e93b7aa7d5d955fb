package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/cambridgetcg/rewardspro/internal/analytics/domain"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	"github.com/cambridgetcg/rewardspro/internal/events"
	"github.com/cambridgetcg/rewardspro/internal/locks"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	"github.com/cambridgetcg/rewardspro/internal/observability/metrics"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"github.com/cambridgetcg/rewardspro/pkg/db/option"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"github.com/cambridgetcg/rewardspro/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const evaluateBatchSize = 500

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Locks     *locks.Keyed
	TierSvc   tierdomain.Service
	Analytics analyticsdomain.Service
	Outbox    *events.Outbox
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	locks     *locks.Keyed
	tierSvc   tierdomain.Service
	analytics analyticsdomain.Service
	outbox    *events.Outbox

	// Width of the bounded-concurrency sweeps. Each unit still holds its
	// own per-customer lock.
	sweepWidth int64

	logRepo repository.Repository[membershipdomain.TierChangeLog]
}

func NewService(p Params) membershipdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("membership.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		locks:     p.Locks,
		tierSvc:   p.TierSvc,
		analytics: p.Analytics,
		outbox:    p.Outbox,

		sweepWidth: 4,
		logRepo:    repository.ProvideStore[membershipdomain.TierChangeLog](p.DB),
	}
}

func (s *Service) AssignInitial(ctx context.Context, customerID snowflake.ID) error {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return err
	}

	active, err := s.activeRow(ctx, customerID)
	if err != nil {
		return err
	}
	if active != nil {
		return membershipdomain.ErrMembershipExists
	}

	resolved, err := s.resolve(ctx, customer, customerID)
	if err != nil {
		return err
	}
	if resolved == nil {
		return membershipdomain.ErrNoTiersConfigured
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.insertTransition(ctx, tx, transition{
			customer:    customer,
			to:          resolved,
			changeType:  membershipdomain.ChangeInitialAssignment,
			assignment:  membershipdomain.AssignmentAutomatic,
			reason:      "customer created",
			triggeredBy: "system",
		})
	})
	if err != nil {
		return err
	}

	metrics.Engine().IncTierTransition(string(membershipdomain.ChangeInitialAssignment))
	s.recompute(ctx, customerID)
	return nil
}

func (s *Service) Evaluate(ctx context.Context, customerID snowflake.ID) (*membershipdomain.EvaluationResult, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()
	return s.evaluateLocked(ctx, customerID)
}

// evaluateLocked runs one evaluation under an already-held customer lock.
func (s *Service) evaluateLocked(ctx context.Context, customerID snowflake.ID) (*membershipdomain.EvaluationResult, error) {
	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	active, err := s.activeRow(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expired := active != nil && active.EndDate != nil && !active.EndDate.After(now)
	if active != nil && active.AssignmentType == membershipdomain.AssignmentManual && !expired {
		// Operator overrides hold until their end date passes.
		return &membershipdomain.EvaluationResult{Changed: false, Membership: active}, nil
	}

	resolved, err := s.resolve(ctx, customer, customerID)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, membershipdomain.ErrNoTiersConfigured
	}

	if active != nil && active.TierID == resolved.tier.ID && !expired {
		return &membershipdomain.EvaluationResult{Changed: false, Membership: active}, nil
	}

	changeType := s.classify(ctx, active, resolved.tier, expired)
	var inserted *membershipdomain.CustomerMembership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err = s.applyTransition(ctx, tx, transition{
			customer:    customer,
			from:        active,
			to:          resolved,
			changeType:  changeType,
			assignment:  membershipdomain.AssignmentAutomatic,
			reason:      changeReason(changeType),
			triggeredBy: "system",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Engine().IncTierTransition(string(changeType))
	s.recompute(ctx, customerID)
	return &membershipdomain.EvaluationResult{
		Changed:    true,
		Membership: inserted,
		ChangeType: changeType,
	}, nil
}

func (s *Service) AssignManually(ctx context.Context, req membershipdomain.ManualAssignRequest) (*membershipdomain.CustomerMembership, error) {
	customerID, err := parseID(req.CustomerID, membershipdomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	tierID, err := parseID(req.TierID, membershipdomain.ErrInvalidTier)
	if err != nil {
		return nil, err
	}
	assignedBy := strings.TrimSpace(req.AssignedBy)
	if assignedBy == "" {
		return nil, membershipdomain.ErrInvalidAssigner
	}

	now := s.clock.Now()
	var endDate *time.Time
	if req.EndDate != nil && strings.TrimSpace(*req.EndDate) != "" {
		parsed, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(*req.EndDate))
		if parseErr != nil || !parsed.After(now) {
			return nil, membershipdomain.ErrInvalidEndDate
		}
		parsed = parsed.UTC()
		endDate = &parsed
	}

	unlock := s.locks.Lock(customerID)
	defer unlock()

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var tier tierdomain.Tier
	if err := s.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ? AND is_active = ?", tierID, customer.MerchantID, true).
		First(&tier).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, membershipdomain.ErrTierNotFound
		}
		return nil, err
	}

	active, err := s.activeRow(ctx, customerID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.analytics.Aggregate(ctx, customerID, now)
	if err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual override"
	}

	var inserted *membershipdomain.CustomerMembership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err = s.applyTransition(ctx, tx, transition{
			customer:    customer,
			from:        active,
			to:          &resolvedTier{tier: tier, snapshot: snapshot},
			changeType:  membershipdomain.ChangeManualOverride,
			assignment:  membershipdomain.AssignmentManual,
			assignedBy:  &assignedBy,
			endDate:     endDate,
			reason:      reason,
			triggeredBy: assignedBy,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Engine().IncTierTransition(string(membershipdomain.ChangeManualOverride))
	s.recompute(ctx, customerID)
	return inserted, nil
}

func (s *Service) RevertExpired(ctx context.Context, merchantID snowflake.ID) (*membershipdomain.RevertResult, error) {
	now := s.clock.Now()
	var candidates []snowflake.ID
	if err := s.db.WithContext(ctx).
		Model(&membershipdomain.CustomerMembership{}).
		Where("merchant_id = ? AND is_active = ? AND end_date IS NOT NULL AND end_date <= ?", merchantID, true, now).
		Pluck("customer_id", &candidates).Error; err != nil {
		return nil, err
	}

	result := &membershipdomain.RevertResult{Scanned: len(candidates)}
	for _, customerID := range candidates {
		evaluation, err := s.Evaluate(ctx, customerID)
		if err != nil {
			result.Errors++
			s.log.Warn("expired membership revert failed",
				zap.String("customer_id", customerID.String()),
				zap.Error(err),
			)
			continue
		}
		if evaluation.Changed {
			result.Reverted++
		}
	}
	return result, nil
}

func (s *Service) EvaluateAll(ctx context.Context, merchantID snowflake.ID) (*membershipdomain.EvaluateAllResult, error) {
	result := &membershipdomain.EvaluateAllResult{}
	sem := semaphore.NewWeighted(s.sweepWidth)
	var mu sync.Mutex

	lastID := snowflake.ID(0)
	for {
		var ids []snowflake.ID
		if err := s.db.WithContext(ctx).
			Model(&customerdomain.Customer{}).
			Where("merchant_id = ? AND id > ?", merchantID, lastID).
			Order("id ASC").
			Limit(evaluateBatchSize).
			Pluck("id", &ids).Error; err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}
		lastID = ids[len(ids)-1]

		for _, customerID := range ids {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			go func(id snowflake.ID) {
				defer sem.Release(1)
				evaluation, err := s.Evaluate(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				result.Evaluated++
				switch {
				case err != nil:
					result.Errors++
				case evaluation.Changed:
					result.Changed++
				}
			}(customerID)
		}
	}

	// Drain in-flight units before reporting.
	if err := sem.Acquire(ctx, s.sweepWidth); err != nil {
		return nil, err
	}
	sem.Release(s.sweepWidth)
	return result, nil
}

func (s *Service) ActiveMembership(ctx context.Context, customerIDRaw string) (*membershipdomain.CustomerMembership, error) {
	customerID, err := parseID(customerIDRaw, membershipdomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	active, err := s.activeRow(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, membershipdomain.ErrMembershipNotFound
	}
	return active, nil
}

func (s *Service) ListChangeLog(ctx context.Context, req membershipdomain.ChangeLogRequest) (membershipdomain.ChangeLogResponse, error) {
	customerID, err := parseID(req.CustomerID, membershipdomain.ErrInvalidCustomer)
	if err != nil {
		return membershipdomain.ChangeLogResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.logRepo.Find(ctx, &membershipdomain.TierChangeLog{CustomerID: customerID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
	)
	if err != nil {
		return membershipdomain.ChangeLogResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *membershipdomain.TierChangeLog) string {
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

	entries := make([]membershipdomain.TierChangeLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	return membershipdomain.ChangeLogResponse{
		Entries:  entries,
		PageInfo: *pageInfo,
	}, nil
}

// resolvedTier pairs the resolver output with the spend snapshot that
// produced it, so the change log can freeze both.
type resolvedTier struct {
	tier     tierdomain.Tier
	snapshot analyticsdomain.SpendingSnapshot
}

func (s *Service) resolve(ctx context.Context, customer *customerdomain.Customer, customerID snowflake.ID) (*resolvedTier, error) {
	tiers, err := s.tierSvc.ActiveTiers(ctx, customer.MerchantID.String())
	if err != nil {
		return nil, err
	}
	snapshot, err := s.analytics.Aggregate(ctx, customerID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	tier := tierdomain.ResolveQualifiedTier(tiers, tierdomain.QualifyingSpend{
		LifetimeCents:     snapshot.LifetimeCents,
		TrailingYearCents: snapshot.TrailingYearCents,
	})
	if tier == nil {
		return nil, nil
	}
	return &resolvedTier{tier: *tier, snapshot: snapshot}, nil
}

type transition struct {
	customer    *customerdomain.Customer
	from        *membershipdomain.CustomerMembership
	to          *resolvedTier
	changeType  membershipdomain.ChangeType
	assignment  membershipdomain.AssignmentType
	assignedBy  *string
	endDate     *time.Time
	reason      string
	triggeredBy string
}

// applyTransition deactivates the current membership and inserts the new one
// plus its change-log row in the caller's transaction.
func (s *Service) applyTransition(ctx context.Context, tx *gorm.DB, t transition) (*membershipdomain.CustomerMembership, error) {
	now := s.clock.Now()
	if t.from != nil {
		// Closing the window: a superseded membership always gets a terminal
		// end date. A scheduled end date that already passed is kept as the
		// true closing instant.
		closedAt := now
		if t.from.EndDate != nil && t.from.EndDate.Before(now) {
			closedAt = *t.from.EndDate
		}
		res := tx.Model(&membershipdomain.CustomerMembership{}).
			Where("id = ? AND is_active = ?", t.from.ID, true).
			Updates(map[string]any{
				"is_active":  false,
				"end_date":   closedAt,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("membership %s already deactivated", t.from.ID)
		}
	}
	return s.insertTransitionRow(ctx, tx, t, now)
}

func (s *Service) insertTransition(ctx context.Context, tx *gorm.DB, t transition) error {
	_, err := s.insertTransitionRow(ctx, tx, t, s.clock.Now())
	return err
}

func (s *Service) insertTransitionRow(ctx context.Context, tx *gorm.DB, t transition, now time.Time) (*membershipdomain.CustomerMembership, error) {
	var previousTierID *snowflake.ID
	if t.from != nil {
		id := t.from.TierID
		previousTierID = &id
	}

	membership := &membershipdomain.CustomerMembership{
		ID:             s.genID.Generate(),
		MerchantID:     t.customer.MerchantID,
		CustomerID:     t.customer.ID,
		TierID:         t.to.tier.ID,
		IsActive:       true,
		AssignedAt:     now,
		EndDate:        t.endDate,
		AssignmentType: t.assignment,
		AssignedBy:     t.assignedBy,
		PreviousTierID: previousTierID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.reason != "" {
		reason := t.reason
		membership.Reason = &reason
	}
	if err := tx.Create(membership).Error; err != nil {
		return nil, err
	}

	entry := &membershipdomain.TierChangeLog{
		ID:          s.genID.Generate(),
		MerchantID:  t.customer.MerchantID,
		CustomerID:  t.customer.ID,
		FromTierID:  previousTierID,
		ToTierID:    t.to.tier.ID,
		ChangeType:  t.changeType,
		Reason:      t.reason,
		TriggeredBy: t.triggeredBy,
		Snapshot: datatypes.JSONMap{
			"tier_name":            t.to.tier.Name,
			"cashback_bps":         t.to.tier.CashbackBps,
			"lifetime_spend_cents": t.to.snapshot.LifetimeCents,
			"trailing_year_cents":  t.to.snapshot.TrailingYearCents,
		},
		CreatedAt: now,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}

	payload := events.TierChangedPayload{
		CustomerID: t.customer.ID.String(),
		ToTierID:   t.to.tier.ID.String(),
		ChangeType: string(t.changeType),
	}
	if previousTierID != nil {
		payload.FromTierID = previousTierID.String()
	}
	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		MerchantID: t.customer.MerchantID,
		Type:       events.EventTierChanged,
		Payload:    payload.ToMap(),
		DedupeKey:  "tier:" + membership.ID.String(),
	}); err != nil {
		return nil, err
	}
	return membership, nil
}

func (s *Service) classify(ctx context.Context, from *membershipdomain.CustomerMembership, to tierdomain.Tier, expired bool) membershipdomain.ChangeType {
	if from == nil {
		return membershipdomain.ChangeInitialAssignment
	}
	if expired && from.AssignmentType == membershipdomain.AssignmentManual {
		return membershipdomain.ChangeExpirationRevert
	}

	var fromTier tierdomain.Tier
	if err := s.db.WithContext(ctx).Where("id = ?", from.TierID).First(&fromTier).Error; err != nil {
		return membershipdomain.ChangeAutomaticUpgrade
	}
	// An equal rate is not an upgrade; lateral moves between equal-rate
	// tiers are logged as downgrades.
	if to.CashbackBps > fromTier.CashbackBps {
		return membershipdomain.ChangeAutomaticUpgrade
	}
	return membershipdomain.ChangeAutomaticDowngrade
}

func changeReason(changeType membershipdomain.ChangeType) string {
	switch changeType {
	case membershipdomain.ChangeExpirationRevert:
		return "manual assignment expired"
	case membershipdomain.ChangeAutomaticDowngrade:
		return "qualifying spend below tier threshold"
	default:
		return "qualifying spend reached tier threshold"
	}
}

func (s *Service) activeRow(ctx context.Context, customerID snowflake.ID) (*membershipdomain.CustomerMembership, error) {
	var row membershipdomain.CustomerMembership
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND is_active = ?", customerID, true).
		Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (s *Service) loadCustomer(ctx context.Context, customerID snowflake.ID) (*customerdomain.Customer, error) {
	var customer customerdomain.Customer
	if err := s.db.WithContext(ctx).Where("id = ?", customerID).First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, membershipdomain.ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// recompute refreshes the derived analytics row outside the transaction.
func (s *Service) recompute(ctx context.Context, customerID snowflake.ID) {
	if _, err := s.analytics.Recompute(ctx, customerID); err != nil {
		s.log.Warn("analytics recompute failed",
			zap.String("customer_id", customerID.String()),
			zap.Error(err),
		)
	}
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
