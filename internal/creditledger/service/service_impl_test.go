package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	"github.com/cambridgetcg/rewardspro/internal/commerce"
	"github.com/cambridgetcg/rewardspro/internal/config"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	"github.com/cambridgetcg/rewardspro/internal/events"
	"github.com/cambridgetcg/rewardspro/internal/locks"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db       *gorm.DB
	svc      *Service
	commerce *commerce.Fake
	clock    *clock.FixedClock
	node     *snowflake.Node
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&customerdomain.Customer{},
		&creditdomain.StoreCreditLedgerEntry{},
		&events.LoyaltyEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := &clock.FixedClock{At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	fake := commerce.NewFake()

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Locks:    locks.NewKeyed(),
		Commerce: fake,
		Outbox:   events.NewOutbox(db, node),
		Config: config.Config{
			Sync: config.SyncConfig{
				EpsilonCents: 1,
				Concurrency:  1,
				BatchSize:    100,
			},
		},
	}).(*Service)

	return &fixture{db: db, svc: svc, commerce: fake, clock: clk, node: node}
}

const fxMerchantID = snowflake.ID(7001)

func (f *fixture) createCustomer(t *testing.T, balanceCents int64) *customerdomain.Customer {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:                      f.node.Generate(),
		MerchantID:              fxMerchantID,
		ExternalRef:             fmt.Sprintf("ext-%d", f.node.Generate()),
		Email:                   "shopper@example.com",
		Currency:                "USD",
		StoreCreditBalanceCents: balanceCents,
		CreatedAt:               f.clock.Now(),
		UpdatedAt:               f.clock.Now(),
	}
	if err := f.db.Create(customer).Error; err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	return customer
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *customerdomain.Customer {
	t.Helper()
	var customer customerdomain.Customer
	if err := f.db.Where("id = ?", id).First(&customer).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	return &customer
}

func TestManualAdjustCreditAndDebit(t *testing.T) {
	f := setupFixture(t)
	customer := f.createCustomer(t, 0)
	ctx := context.Background()

	entry, err := f.svc.ManualAdjust(ctx, creditdomain.AdjustRequest{
		CustomerID:  customer.ID.String(),
		AmountCents: 2_000,
		Description: "goodwill credit",
		AdjustedBy:  "support",
	})
	if err != nil {
		t.Fatalf("credit adjust: %v", err)
	}
	if entry.BalanceAfterCents != 2_000 || entry.Type != creditdomain.EntryManualAdjustment {
		t.Fatalf("entry = %+v", entry)
	}

	entry, err = f.svc.ManualAdjust(ctx, creditdomain.AdjustRequest{
		CustomerID:  customer.ID.String(),
		AmountCents: -500,
		AdjustedBy:  "support",
	})
	if err != nil {
		t.Fatalf("debit adjust: %v", err)
	}
	if entry.BalanceAfterCents != 1_500 {
		t.Fatalf("balance after debit = %d, want 1500", entry.BalanceAfterCents)
	}

	if got := f.reload(t, customer.ID); got.StoreCreditBalanceCents != 1_500 {
		t.Fatalf("cached balance = %d, want 1500", got.StoreCreditBalanceCents)
	}
	if len(f.commerce.CreditCalls) != 1 || len(f.commerce.DebitCalls) != 1 {
		t.Fatalf("external calls = %d credit, %d debit", len(f.commerce.CreditCalls), len(f.commerce.DebitCalls))
	}

	var published []events.LoyaltyEvent
	if err := f.db.Where("event_type = ?", events.EventCreditAdjusted).Find(&published).Error; err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("credit.adjusted events = %d, want 2", len(published))
	}
}

func TestManualAdjustValidation(t *testing.T) {
	f := setupFixture(t)
	customer := f.createCustomer(t, 1_000)
	ctx := context.Background()

	_, err := f.svc.ManualAdjust(ctx, creditdomain.AdjustRequest{
		CustomerID: customer.ID.String(),
		AdjustedBy: "support",
	})
	if !errors.Is(err, creditdomain.ErrZeroAmount) {
		t.Fatalf("expected zero amount, got %v", err)
	}

	_, err = f.svc.ManualAdjust(ctx, creditdomain.AdjustRequest{
		CustomerID:  customer.ID.String(),
		AmountCents: -5_000,
		AdjustedBy:  "support",
	})
	if !errors.Is(err, creditdomain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	// The refused debit must leave no trace.
	var count int64
	if err := f.db.Model(&creditdomain.StoreCreditLedgerEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if count != 0 {
		t.Fatalf("ledger entries = %d, want 0", count)
	}
}

func TestManualAdjustSurvivesExternalFailure(t *testing.T) {
	f := setupFixture(t)
	customer := f.createCustomer(t, 0)
	f.commerce.CreditErr = commerce.ErrExternalUnavailable

	entry, err := f.svc.ManualAdjust(context.Background(), creditdomain.AdjustRequest{
		CustomerID:  customer.ID.String(),
		AmountCents: 750,
		AdjustedBy:  "support",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if entry.BalanceAfterCents != 750 {
		t.Fatalf("balance after = %d", entry.BalanceAfterCents)
	}
	if got := f.reload(t, customer.ID); got.StoreCreditBalanceCents != 750 {
		t.Fatal("local credit rolled back on external failure")
	}
}

func TestSyncCustomerWithinEpsilon(t *testing.T) {
	f := setupFixture(t)
	customer := f.createCustomer(t, 5_000)
	f.commerce.SetBalance(customer.ExternalRef, 5_001)

	outcome, err := f.svc.SyncCustomer(context.Background(), customer.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if outcome.Adjusted {
		t.Fatalf("one-cent drift adjusted: %+v", outcome)
	}

	got := f.reload(t, customer.ID)
	if got.StoreCreditBalanceCents != 5_000 {
		t.Fatalf("balance changed to %d", got.StoreCreditBalanceCents)
	}
	if got.LastSyncedAt == nil {
		t.Fatal("last synced timestamp not refreshed")
	}
}

func TestSyncCustomerReconcilesDrift(t *testing.T) {
	f := setupFixture(t)
	customer := f.createCustomer(t, 5_000)
	f.commerce.SetBalance(customer.ExternalRef, 6_500)

	outcome, err := f.svc.SyncCustomer(context.Background(), customer.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !outcome.Adjusted || outcome.DeltaCents != 1_500 {
		t.Fatalf("outcome = %+v", outcome)
	}

	if got := f.reload(t, customer.ID); got.StoreCreditBalanceCents != 6_500 {
		t.Fatalf("cached balance = %d, want 6500", got.StoreCreditBalanceCents)
	}

	var entries []creditdomain.StoreCreditLedgerEntry
	if err := f.db.Where("customer_id = ?", customer.ID).Find(&entries).Error; err != nil {
		t.Fatalf("query entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Type != creditdomain.EntryExternalSync || entry.Source != creditdomain.SourceReconciliation {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.AmountCents != 1_500 || entry.BalanceAfterCents != 6_500 {
		t.Fatalf("entry amounts = %+v", entry)
	}
	if entry.ReconciledAt == nil {
		t.Fatal("reconciled timestamp missing")
	}

	var published []events.LoyaltyEvent
	if err := f.db.Where("event_type = ?", events.EventCreditSynced).Find(&published).Error; err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("credit.synced events = %d, want 1", len(published))
	}
}

func TestSyncAllToleratesPerCustomerFailure(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	drifted := f.createCustomer(t, 1_000)
	clean := f.createCustomer(t, 2_000)
	f.commerce.SetBalance(drifted.ExternalRef, 4_000)
	f.commerce.SetBalance(clean.ExternalRef, 2_000)

	broken := f.createCustomer(t, 9_000)
	f.commerce.BalanceErrByRef = map[string]error{
		broken.ExternalRef: commerce.ErrExternalUnavailable,
	}

	result, err := f.svc.SyncAll(ctx, creditdomain.SyncAllRequest{
		MerchantID: fxMerchantID.String(),
	})
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if result.Scanned != 3 || result.Updated != 1 || result.Errors != 1 {
		t.Fatalf("result = %+v, want 3 scanned, 1 updated, 1 error", result)
	}
	if got := f.reload(t, drifted.ID); got.StoreCreditBalanceCents != 4_000 {
		t.Fatalf("drifted balance = %d, want 4000", got.StoreCreditBalanceCents)
	}
	if got := f.reload(t, clean.ID); got.StoreCreditBalanceCents != 2_000 {
		t.Fatal("clean customer balance changed")
	}
}

func TestReplayDetectsTampering(t *testing.T) {
	f := setupFixture(t)
	customer := f.createCustomer(t, 0)
	ctx := context.Background()

	for _, cents := range []int64{1_000, 500, -300} {
		if _, err := f.svc.ManualAdjust(ctx, creditdomain.AdjustRequest{
			CustomerID:  customer.ID.String(),
			AmountCents: cents,
			AdjustedBy:  "support",
		}); err != nil {
			t.Fatalf("adjust %d: %v", cents, err)
		}
		// Keep entry ordering stable under second-resolution clocks.
		f.clock.At = f.clock.At.Add(time.Second)
	}

	result, err := f.svc.Replay(ctx, customer.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !result.Consistent || result.ComputedBalanceCents != 1_200 {
		t.Fatalf("result = %+v, want consistent 1200", result)
	}

	// Corrupt the cached balance behind the ledger's back.
	if err := f.db.Model(&customerdomain.Customer{}).
		Where("id = ?", customer.ID).
		Update("store_credit_balance_cents", 9_999).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	result, err = f.svc.Replay(ctx, customer.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Consistent {
		t.Fatalf("tampered balance reported consistent: %+v", result)
	}
}

func TestListByCustomerWalksPagesWithoutOverlap(t *testing.T) {
	f := setupFixture(t)
	customer := f.createCustomer(t, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.ManualAdjust(ctx, creditdomain.AdjustRequest{
			CustomerID:  customer.ID.String(),
			AmountCents: 100,
			AdjustedBy:  "support",
		}); err != nil {
			t.Fatalf("adjust %d: %v", i, err)
		}
		f.clock.At = f.clock.At.Add(time.Second)
	}

	var seen []snowflake.ID
	token := ""
	for page := 0; ; page++ {
		if page > 5 {
			t.Fatal("pagination did not terminate")
		}
		resp, err := f.svc.ListByCustomer(ctx, creditdomain.ListRequest{
			CustomerID: customer.ID.String(),
			PageSize:   2,
			PageToken:  token,
		})
		if err != nil {
			t.Fatalf("list page %d: %v", page, err)
		}
		for _, entry := range resp.Entries {
			seen = append(seen, entry.ID)
		}
		if !resp.PageInfo.HasMore {
			break
		}
		token = resp.PageInfo.NextPageToken
	}

	if len(seen) != 5 {
		t.Fatalf("walked %d entries, want 5", len(seen))
	}
	unique := make(map[snowflake.ID]bool, len(seen))
	for _, id := range seen {
		if unique[id] {
			t.Fatalf("entry %s returned on more than one page", id)
		}
		unique[id] = true
	}

	// Pages come back newest first across the whole walk.
	var all []creditdomain.StoreCreditLedgerEntry
	if err := f.db.Where("customer_id = ?", customer.ID).
		Order("created_at DESC, id DESC").
		Find(&all).Error; err != nil {
		t.Fatalf("query entries: %v", err)
	}
	for i, entry := range all {
		if seen[i] != entry.ID {
			t.Fatalf("position %d = %s, want %s", i, seen[i], entry.ID)
		}
	}
}
