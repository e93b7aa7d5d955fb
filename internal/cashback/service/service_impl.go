package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	"github.com/cambridgetcg/rewardspro/internal/commerce"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
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
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Locks         *locks.Keyed
	CustomerSvc   customerdomain.Service
	MembershipSvc membershipdomain.Service
	Ledger        creditdomain.Service
	Commerce      commerce.Client
	Outbox        *events.Outbox
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	locks         *locks.Keyed
	customerSvc   customerdomain.Service
	membershipSvc membershipdomain.Service
	ledger        creditdomain.Service
	commerce      commerce.Client
	outbox        *events.Outbox

	repo repository.Repository[cashbackdomain.CashbackTransaction]
}

func NewService(p Params) cashbackdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("cashback.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		locks:         p.Locks,
		customerSvc:   p.CustomerSvc,
		membershipSvc: p.MembershipSvc,
		ledger:        p.Ledger,
		commerce:      p.Commerce,
		outbox:        p.Outbox,

		repo: repository.ProvideStore[cashbackdomain.CashbackTransaction](p.DB),
	}
}

func (s *Service) ProcessOrderPaid(ctx context.Context, event cashbackdomain.OrderPaidEvent) (*cashbackdomain.ProcessResult, error) {
	merchantID, err := parseID(event.MerchantID, cashbackdomain.ErrInvalidMerchant)
	if err != nil {
		return nil, err
	}
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return nil, cashbackdomain.ErrInvalidOrder
	}
	if strings.TrimSpace(event.CustomerRef) == "" {
		return nil, cashbackdomain.ErrInvalidCustomerRef
	}

	// Cheap duplicate check before creating anything. The unique index on
	// (merchant_id, order_id) still backstops concurrent replays.
	if existing, err := s.findByOrder(ctx, merchantID, orderID); err != nil {
		return nil, err
	} else if existing != nil {
		metrics.Engine().IncCashbackProcessed("duplicate")
		return &cashbackdomain.ProcessResult{Transaction: existing, Duplicate: true}, nil
	}

	customer, err := s.customerSvc.FindOrCreate(ctx, customerdomain.FindOrCreateRequest{
		MerchantID:  event.MerchantID,
		ExternalRef: event.CustomerRef,
		Email:       event.CustomerEmail,
		Currency:    event.Currency,
	})
	if err != nil {
		return nil, err
	}

	eligible := cashbackdomain.EligibleAmountCents(event.PaymentLegs)
	if eligible <= 0 {
		metrics.Engine().IncCashbackProcessed("skipped")
		return &cashbackdomain.ProcessResult{Skipped: true}, nil
	}

	bps, err := s.currentRate(ctx, customer)
	if err != nil {
		return nil, err
	}
	cashback := cashbackdomain.CashbackAmountCents(eligible, bps)

	currency := strings.ToUpper(strings.TrimSpace(event.Currency))
	if currency == "" {
		currency = customer.Currency
	}

	txn, duplicate, err := s.creditAtomically(ctx, customer, merchantID, orderID, eligible, cashback, bps, currency)
	if err != nil {
		metrics.Engine().IncCashbackProcessed("error")
		return nil, err
	}
	if duplicate {
		metrics.Engine().IncCashbackProcessed("duplicate")
		return &cashbackdomain.ProcessResult{Transaction: txn, Duplicate: true}, nil
	}
	metrics.Engine().IncCashbackProcessed("credited")

	// Post-commit work. The credit above is final; tier evaluation and the
	// external push each succeed or fail on their own.
	if _, err := s.membershipSvc.Evaluate(ctx, customer.ID); err != nil {
		s.log.Warn("post-credit tier evaluation failed",
			zap.String("customer_id", customer.ID.String()),
			zap.Error(err),
		)
	}
	if cashback > 0 {
		txn = s.pushExternal(ctx, customer, txn)
	}
	return &cashbackdomain.ProcessResult{Transaction: txn}, nil
}

// creditAtomically inserts the transaction, appends the ledger entry, moves
// the cached balance and queues the outbox event in one transaction under
// the customer lock.
func (s *Service) creditAtomically(ctx context.Context, customer *customerdomain.Customer, merchantID snowflake.ID, orderID string, eligible, cashback, bps int64, currency string) (*cashbackdomain.CashbackTransaction, bool, error) {
	unlock := s.locks.Lock(customer.ID)
	defer unlock()

	now := s.clock.Now()
	txn := &cashbackdomain.CashbackTransaction{
		ID:                  s.genID.Generate(),
		MerchantID:          merchantID,
		CustomerID:          customer.ID,
		OrderID:             orderID,
		EligibleAmountCents: eligible,
		CashbackAmountCents: cashback,
		CashbackBpsSnapshot: bps,
		Currency:            currency,
		Status:              cashbackdomain.StatusCompleted,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(txn).Error; err != nil {
			return err
		}
		if cashback > 0 {
			ref := txn.ID.String()
			if _, err := s.ledger.Append(ctx, tx, creditdomain.AppendRequest{
				CustomerID:        customer.ID,
				AmountCents:       cashback,
				Type:              creditdomain.EntryCashbackEarned,
				Source:            creditdomain.SourceAppCashback,
				ExternalReference: &ref,
				Description:       "cashback earned on order " + orderID,
			}); err != nil {
				return err
			}
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			MerchantID: merchantID,
			Type:       events.EventCashbackCredited,
			Payload: events.CashbackCreditedPayload{
				TransactionID:       txn.ID.String(),
				CustomerID:          customer.ID.String(),
				OrderID:             orderID,
				CashbackAmountCents: cashback,
				Currency:            currency,
			}.ToMap(),
			DedupeKey: "cashback:" + merchantID.String() + ":" + orderID,
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, findErr := s.findByOrder(ctx, merchantID, orderID)
			if findErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}
	return txn, false, nil
}

// pushExternal mirrors the credit onto the commerce platform. The returned
// transaction carries the updated status; the local ledger is never unwound.
func (s *Service) pushExternal(ctx context.Context, customer *customerdomain.Customer, txn *cashbackdomain.CashbackTransaction) *cashbackdomain.CashbackTransaction {
	mutation, err := s.commerce.Credit(ctx, customer.ExternalRef, txn.CashbackAmountCents, txn.Currency)
	now := s.clock.Now()
	if err != nil {
		metrics.Engine().IncExternalSync("credit", "error")
		s.log.Warn("external cashback push failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err),
		)
		s.markStatus(ctx, txn, cashbackdomain.StatusExternalSyncFailed, nil, now)
		return txn
	}
	metrics.Engine().IncExternalSync("credit", "ok")
	s.markStatus(ctx, txn, cashbackdomain.StatusSyncedExternal, &mutation.ExternalTransactionID, now)
	return txn
}

func (s *Service) markStatus(ctx context.Context, txn *cashbackdomain.CashbackTransaction, status cashbackdomain.TransactionStatus, externalID *string, now time.Time) {
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if externalID != nil {
		updates["external_transaction_id"] = *externalID
	}
	err := s.db.WithContext(ctx).
		Model(&cashbackdomain.CashbackTransaction{}).
		Where("id = ? AND status = ?", txn.ID, cashbackdomain.StatusCompleted).
		Updates(updates).Error
	if err != nil {
		s.log.Error("transaction status update failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	txn.Status = status
	txn.ExternalTransactionID = externalID
	txn.UpdatedAt = now
}

func (s *Service) RetryExternalSync(ctx context.Context, transactionIDRaw string) (*cashbackdomain.CashbackTransaction, error) {
	transactionID, err := parseID(transactionIDRaw, cashbackdomain.ErrInvalidTransaction)
	if err != nil {
		return nil, err
	}

	txn, err := s.repo.FindOne(ctx, &cashbackdomain.CashbackTransaction{ID: transactionID})
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, cashbackdomain.ErrTxnNotFound
	}
	if txn.Status != cashbackdomain.StatusExternalSyncFailed {
		return nil, cashbackdomain.ErrSyncNotNeeded
	}

	var customer customerdomain.Customer
	if err := s.db.WithContext(ctx).Where("id = ?", txn.CustomerID).First(&customer).Error; err != nil {
		return nil, err
	}

	mutation, err := s.commerce.Credit(ctx, customer.ExternalRef, txn.CashbackAmountCents, txn.Currency)
	if err != nil {
		metrics.Engine().IncExternalSync("credit", "error")
		return nil, err
	}
	metrics.Engine().IncExternalSync("credit", "ok")

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).
		Model(&cashbackdomain.CashbackTransaction{}).
		Where("id = ? AND status = ?", txn.ID, cashbackdomain.StatusExternalSyncFailed).
		Updates(map[string]any{
			"status":                  cashbackdomain.StatusSyncedExternal,
			"external_transaction_id": mutation.ExternalTransactionID,
			"updated_at":              now,
		}).Error; err != nil {
		return nil, err
	}
	txn.Status = cashbackdomain.StatusSyncedExternal
	txn.ExternalTransactionID = &mutation.ExternalTransactionID
	txn.UpdatedAt = now
	return txn, nil
}

func (s *Service) ListByCustomer(ctx context.Context, req cashbackdomain.ListRequest) (cashbackdomain.ListResponse, error) {
	customerID, err := parseID(req.CustomerID, cashbackdomain.ErrInvalidCustomerRef)
	if err != nil {
		return cashbackdomain.ListResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.Find(ctx, &cashbackdomain.CashbackTransaction{CustomerID: customerID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
	)
	if err != nil {
		return cashbackdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *cashbackdomain.CashbackTransaction) string {
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

	transactions := make([]cashbackdomain.CashbackTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		transactions = append(transactions, *item)
	}

	return cashbackdomain.ListResponse{
		Transactions: transactions,
		PageInfo:     *pageInfo,
	}, nil
}

// currentRate reads the customer's active tier rate. A customer without a
// membership falls back to the merchant's base tier.
func (s *Service) currentRate(ctx context.Context, customer *customerdomain.Customer) (int64, error) {
	membership, err := s.membershipSvc.ActiveMembership(ctx, customer.ID.String())
	if err == nil {
		var tier tierdomain.Tier
		if dbErr := s.db.WithContext(ctx).Where("id = ?", membership.TierID).First(&tier).Error; dbErr != nil {
			return 0, dbErr
		}
		return tier.CashbackBps, nil
	}
	if !errors.Is(err, membershipdomain.ErrMembershipNotFound) {
		return 0, err
	}

	var base tierdomain.Tier
	dbErr := s.db.WithContext(ctx).
		Where("merchant_id = ? AND min_spend_cents IS NULL AND is_active = ?", customer.MerchantID, true).
		First(&base).Error
	if dbErr != nil {
		if dbErr == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, dbErr
	}
	return base.CashbackBps, nil
}

func (s *Service) findByOrder(ctx context.Context, merchantID snowflake.ID, orderID string) (*cashbackdomain.CashbackTransaction, error) {
	return s.repo.FindOne(ctx, &cashbackdomain.CashbackTransaction{
		MerchantID: merchantID,
		OrderID:    orderID,
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
