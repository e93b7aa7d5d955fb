package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	"github.com/cambridgetcg/rewardspro/internal/commerce"
	"github.com/cambridgetcg/rewardspro/internal/config"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	"github.com/cambridgetcg/rewardspro/internal/events"
	"github.com/cambridgetcg/rewardspro/internal/locks"
	"github.com/cambridgetcg/rewardspro/internal/observability/metrics"
	"github.com/cambridgetcg/rewardspro/pkg/db/option"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"github.com/cambridgetcg/rewardspro/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Locks    *locks.Keyed
	Config   config.Config
	Commerce commerce.Client
	Outbox   *events.Outbox
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	locks    *locks.Keyed
	commerce commerce.Client
	outbox   *events.Outbox

	epsilonCents int64
	syncWidth    int64
	batchSize    int

	repo repository.Repository[creditdomain.StoreCreditLedgerEntry]
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("creditledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		locks:    p.Locks,
		commerce: p.Commerce,
		outbox:   p.Outbox,

		epsilonCents: p.Config.Sync.EpsilonCents,
		syncWidth:    p.Config.Sync.Concurrency,
		batchSize:    p.Config.Sync.BatchSize,

		repo: repository.ProvideStore[creditdomain.StoreCreditLedgerEntry](p.DB),
	}
}

// Append derives BalanceAfter from the customer row it reads inside tx and
// moves the cached balance in the same statement batch. The caller holds the
// customer lock, so the read-modify-write is not racy.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, req creditdomain.AppendRequest) (*creditdomain.StoreCreditLedgerEntry, error) {
	var customer customerdomain.Customer
	if err := tx.Where("id = ?", req.CustomerID).First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, creditdomain.ErrCustomerNotFound
		}
		return nil, err
	}

	now := s.clock.Now()
	newBalance := customer.StoreCreditBalanceCents + req.AmountCents
	entry := &creditdomain.StoreCreditLedgerEntry{
		ID:                s.genID.Generate(),
		MerchantID:        customer.MerchantID,
		CustomerID:        customer.ID,
		AmountCents:       req.AmountCents,
		BalanceAfterCents: newBalance,
		Type:              req.Type,
		Source:            req.Source,
		ExternalReference: req.ExternalReference,
		Description:       req.Description,
		CreatedAt:         now,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&customerdomain.Customer{}).
		Where("id = ?", customer.ID).
		Updates(map[string]any{
			"store_credit_balance_cents": newBalance,
			"updated_at":                 now,
		}).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) ManualAdjust(ctx context.Context, req creditdomain.AdjustRequest) (*creditdomain.StoreCreditLedgerEntry, error) {
	customerID, err := parseID(req.CustomerID, creditdomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	if req.AmountCents == 0 {
		return nil, creditdomain.ErrZeroAmount
	}
	adjustedBy := strings.TrimSpace(req.AdjustedBy)
	if adjustedBy == "" {
		return nil, creditdomain.ErrInvalidAdjuster
	}

	unlock := s.locks.Lock(customerID)
	defer unlock()

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if req.AmountCents < 0 && customer.StoreCreditBalanceCents+req.AmountCents < 0 {
		return nil, creditdomain.ErrInsufficientBalance
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "manual adjustment by " + adjustedBy
	}

	var entry *creditdomain.StoreCreditLedgerEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err = s.Append(ctx, tx, creditdomain.AppendRequest{
			CustomerID:  customerID,
			AmountCents: req.AmountCents,
			Type:        creditdomain.EntryManualAdjustment,
			Source:      creditdomain.SourceAppManual,
			Description: description,
		})
		if err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			MerchantID: entry.MerchantID,
			Type:       events.EventCreditAdjusted,
			Payload: events.CreditAdjustedPayload{
				EntryID:           entry.ID.String(),
				CustomerID:        entry.CustomerID.String(),
				AmountCents:       entry.AmountCents,
				BalanceAfterCents: entry.BalanceAfterCents,
			}.ToMap(),
			DedupeKey: "adjust:" + entry.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	// The local ledger is authoritative. The external push happens after
	// commit and its failure is only logged; reconciliation repairs the
	// platform later.
	s.pushAdjustment(ctx, customer, req.AmountCents)
	return entry, nil
}

func (s *Service) pushAdjustment(ctx context.Context, customer *customerdomain.Customer, amountCents int64) {
	var err error
	operation := "credit"
	if amountCents >= 0 {
		_, err = s.commerce.Credit(ctx, customer.ExternalRef, amountCents, customer.Currency)
	} else {
		operation = "debit"
		_, err = s.commerce.Debit(ctx, customer.ExternalRef, -amountCents, customer.Currency)
	}
	if err != nil {
		metrics.Engine().IncExternalSync(operation, "error")
		s.log.Warn("external adjustment push failed",
			zap.String("customer_id", customer.ID.String()),
			zap.Int64("amount_cents", amountCents),
			zap.Error(err),
		)
		return
	}
	metrics.Engine().IncExternalSync(operation, "ok")
}

func (s *Service) SyncCustomer(ctx context.Context, customerID snowflake.ID) (*creditdomain.SyncOutcome, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	externalBalance, err := s.commerce.Balance(ctx, customer.ExternalRef, customer.Currency)
	if err != nil {
		metrics.Engine().IncExternalSync("balance", "error")
		return nil, err
	}
	metrics.Engine().IncExternalSync("balance", "ok")

	now := s.clock.Now()
	delta := externalBalance - customer.StoreCreditBalanceCents
	metrics.Engine().ObserveSyncDelta(delta)

	outcome := &creditdomain.SyncOutcome{
		CustomerID:           customerID,
		ExternalBalanceCents: externalBalance,
		LocalBalanceCents:    customer.StoreCreditBalanceCents,
		DeltaCents:           delta,
	}

	if abs(delta) <= s.epsilonCents {
		if err := s.touchLastSynced(ctx, s.db.WithContext(ctx), customerID, now); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, appendErr := s.Append(ctx, tx, creditdomain.AppendRequest{
			CustomerID:  customerID,
			AmountCents: delta,
			Type:        creditdomain.EntryExternalSync,
			Source:      creditdomain.SourceReconciliation,
			Description: "balance reconciled against commerce platform",
		})
		if appendErr != nil {
			return appendErr
		}
		if updateErr := tx.Model(entry).Update("reconciled_at", now).Error; updateErr != nil {
			return updateErr
		}
		if publishErr := s.outbox.PublishTx(ctx, tx, events.Event{
			MerchantID: entry.MerchantID,
			Type:       events.EventCreditSynced,
			Payload: events.CreditSyncedPayload{
				EntryID:           entry.ID.String(),
				CustomerID:        entry.CustomerID.String(),
				DeltaCents:        entry.AmountCents,
				BalanceAfterCents: entry.BalanceAfterCents,
			}.ToMap(),
			DedupeKey: "sync:" + entry.ID.String(),
		}); publishErr != nil {
			return publishErr
		}
		return s.touchLastSynced(ctx, tx, customerID, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("balance drift reconciled",
		zap.String("customer_id", customerID.String()),
		zap.Int64("delta_cents", delta),
	)
	outcome.Adjusted = true
	return outcome, nil
}

func (s *Service) SyncAll(ctx context.Context, req creditdomain.SyncAllRequest) (*creditdomain.SyncAllResult, error) {
	merchantID, err := parseID(req.MerchantID, creditdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}

	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	width := s.syncWidth
	if width <= 0 {
		width = 1
	}

	result := &creditdomain.SyncAllResult{}
	sem := semaphore.NewWeighted(width)
	var mu sync.Mutex

	lastID := snowflake.ID(0)
	for {
		query := s.db.WithContext(ctx).
			Model(&customerdomain.Customer{}).
			Where("merchant_id = ? AND id > ?", merchantID, lastID)
		if req.StaleOnly && req.OlderThan > 0 {
			cutoff := s.clock.Now().Add(-req.OlderThan)
			query = query.Where("last_synced_at IS NULL OR last_synced_at < ?", cutoff)
		}

		var ids []snowflake.ID
		if err := query.Order("id ASC").Limit(batchSize).Pluck("id", &ids).Error; err != nil {
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
				outcome, syncErr := s.SyncCustomer(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				result.Scanned++
				switch {
				case syncErr != nil:
					result.Errors++
					s.log.Warn("customer sync failed",
						zap.String("customer_id", id.String()),
						zap.Error(syncErr),
					)
				case outcome.Adjusted:
					result.Updated++
				}
			}(customerID)
		}
	}

	if err := sem.Acquire(ctx, width); err != nil {
		return nil, err
	}
	sem.Release(width)

	metrics.Engine().SetSyncBacklog(result.Errors)
	return result, nil
}

func (s *Service) Replay(ctx context.Context, customerID snowflake.ID) (*creditdomain.ReplayResult, error) {
	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var entries []creditdomain.StoreCreditLedgerEntry
	if err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	result := &creditdomain.ReplayResult{
		Entries:              len(entries),
		CachedBalanceCents:   customer.StoreCreditBalanceCents,
		Consistent:           true,
		FirstInconsistentIdx: -1,
	}

	var running int64
	for i, entry := range entries {
		running += entry.AmountCents
		if entry.BalanceAfterCents != running && result.FirstInconsistentIdx < 0 {
			result.Consistent = false
			result.FirstInconsistentIdx = i
		}
	}
	result.ComputedBalanceCents = running
	if running != customer.StoreCreditBalanceCents {
		result.Consistent = false
	}
	return result, nil
}

func (s *Service) ListByCustomer(ctx context.Context, req creditdomain.ListRequest) (creditdomain.ListResponse, error) {
	customerID, err := parseID(req.CustomerID, creditdomain.ErrInvalidCustomer)
	if err != nil {
		return creditdomain.ListResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.Find(ctx, &creditdomain.StoreCreditLedgerEntry{CustomerID: customerID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
	)
	if err != nil {
		return creditdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *creditdomain.StoreCreditLedgerEntry) string {
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

	entries := make([]creditdomain.StoreCreditLedgerEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	return creditdomain.ListResponse{
		Entries:  entries,
		PageInfo: *pageInfo,
	}, nil
}

func (s *Service) touchLastSynced(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, now time.Time) error {
	return tx.Model(&customerdomain.Customer{}).
		Where("id = ?", customerID).
		Updates(map[string]any{
			"last_synced_at": now,
			"updated_at":     now,
		}).Error
}

func (s *Service) loadCustomer(ctx context.Context, customerID snowflake.ID) (*customerdomain.Customer, error) {
	var customer customerdomain.Customer
	if err := s.db.WithContext(ctx).Where("id = ?", customerID).First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, creditdomain.ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
