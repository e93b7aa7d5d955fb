package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/cambridgetcg/rewardspro/internal/analytics/domain"
	analyticsservice "github.com/cambridgetcg/rewardspro/internal/analytics/service"
	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	"github.com/cambridgetcg/rewardspro/internal/events"
	"github.com/cambridgetcg/rewardspro/internal/locks"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	tierservice "github.com/cambridgetcg/rewardspro/internal/tier/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	db    *gorm.DB
	svc   *Service
	clock *clock.FixedClock
	node  *snowflake.Node
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
		&tierdomain.Tier{},
		&membershipdomain.CustomerMembership{},
		&membershipdomain.TierChangeLog{},
		&cashbackdomain.CashbackTransaction{},
		&analyticsdomain.CustomerAnalytics{},
		&events.LoyaltyEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := &clock.FixedClock{At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	tierSvc := tierservice.NewService(tierservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk,
	})
	analyticsSvc := analyticsservice.NewService(analyticsservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk,
	})
	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Locks:     locks.NewKeyed(),
		TierSvc:   tierSvc,
		Analytics: analyticsSvc,
		Outbox:    events.NewOutbox(db, node),
	}).(*Service)

	return &fixture{db: db, svc: svc, clock: clk, node: node}
}

const fxMerchantID = snowflake.ID(7001)

func (f *fixture) createCustomer(t *testing.T) *customerdomain.Customer {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:          f.node.Generate(),
		MerchantID:  fxMerchantID,
		ExternalRef: fmt.Sprintf("ext-%d", f.node.Generate()),
		Email:       "shopper@example.com",
		Currency:    "USD",
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	if err := f.db.Create(customer).Error; err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	return customer
}

func (f *fixture) createTier(t *testing.T, name string, minSpend *int64, bps int64) *tierdomain.Tier {
	t.Helper()
	tier := &tierdomain.Tier{
		ID:               f.node.Generate(),
		MerchantID:       fxMerchantID,
		Name:             name,
		MinSpendCents:    minSpend,
		CashbackBps:      bps,
		EvaluationPeriod: tierdomain.EvaluationPeriodAnnual,
		IsActive:         true,
		CreatedAt:        f.clock.Now(),
		UpdatedAt:        f.clock.Now(),
	}
	if err := f.db.Create(tier).Error; err != nil {
		t.Fatalf("insert tier %s: %v", name, err)
	}
	return tier
}

func (f *fixture) standardCatalog(t *testing.T) (bronze, silver, gold *tierdomain.Tier) {
	t.Helper()
	silverMin, goldMin := int64(50_000), int64(200_000)
	bronze = f.createTier(t, "Bronze", nil, 100)
	silver = f.createTier(t, "Silver", &silverMin, 200)
	gold = f.createTier(t, "Gold", &goldMin, 400)
	return bronze, silver, gold
}

func (f *fixture) recordSpend(t *testing.T, customerID snowflake.ID, cents int64, at time.Time) {
	t.Helper()
	txn := &cashbackdomain.CashbackTransaction{
		ID:                  f.node.Generate(),
		MerchantID:          fxMerchantID,
		CustomerID:          customerID,
		OrderID:             fmt.Sprintf("order-%d", f.node.Generate()),
		EligibleAmountCents: cents,
		CashbackAmountCents: cents / 100,
		CashbackBpsSnapshot: 100,
		Currency:            "USD",
		Status:              cashbackdomain.StatusCompleted,
		CreatedAt:           at,
		UpdatedAt:           at,
	}
	if err := f.db.Create(txn).Error; err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
}

func (f *fixture) activeMembership(t *testing.T, customerID snowflake.ID) *membershipdomain.CustomerMembership {
	t.Helper()
	var rows []membershipdomain.CustomerMembership
	if err := f.db.Where("customer_id = ? AND is_active = ?", customerID, true).Find(&rows).Error; err != nil {
		t.Fatalf("query memberships: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("active memberships = %d, want exactly 1", len(rows))
	}
	return &rows[0]
}

func TestAssignInitialPlacesBaseTier(t *testing.T) {
	f := setupFixture(t)
	bronze, _, _ := f.standardCatalog(t)
	customer := f.createCustomer(t)
	ctx := context.Background()

	if err := f.svc.AssignInitial(ctx, customer.ID); err != nil {
		t.Fatalf("assign initial: %v", err)
	}

	active := f.activeMembership(t, customer.ID)
	if active.TierID != bronze.ID {
		t.Fatalf("assigned tier %s, want bronze %s", active.TierID, bronze.ID)
	}
	if active.AssignmentType != membershipdomain.AssignmentAutomatic {
		t.Fatalf("assignment type = %s", active.AssignmentType)
	}

	if err := f.svc.AssignInitial(ctx, customer.ID); !errors.Is(err, membershipdomain.ErrMembershipExists) {
		t.Fatalf("expected membership exists, got %v", err)
	}

	var logs []membershipdomain.TierChangeLog
	if err := f.db.Where("customer_id = ?", customer.ID).Find(&logs).Error; err != nil {
		t.Fatalf("query change log: %v", err)
	}
	if len(logs) != 1 || logs[0].ChangeType != membershipdomain.ChangeInitialAssignment {
		t.Fatalf("change log = %+v, want one INITIAL_ASSIGNMENT", logs)
	}
}

func TestEvaluateUpgradesOnSpend(t *testing.T) {
	f := setupFixture(t)
	_, silver, _ := f.standardCatalog(t)
	customer := f.createCustomer(t)
	ctx := context.Background()

	if err := f.svc.AssignInitial(ctx, customer.ID); err != nil {
		t.Fatalf("assign initial: %v", err)
	}

	// Spend exactly at the silver threshold within the trailing year.
	f.recordSpend(t, customer.ID, 50_000, f.clock.Now().Add(-30*24*time.Hour))

	result, err := f.svc.Evaluate(ctx, customer.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Changed || result.ChangeType != membershipdomain.ChangeAutomaticUpgrade {
		t.Fatalf("result = %+v, want AUTOMATIC_UPGRADE", result)
	}

	active := f.activeMembership(t, customer.ID)
	if active.TierID != silver.ID {
		t.Fatalf("active tier %s, want silver %s", active.TierID, silver.ID)
	}
	if active.PreviousTierID == nil {
		t.Fatal("previous tier not recorded")
	}

	// The superseded bronze row is closed, not just flagged inactive.
	var superseded membershipdomain.CustomerMembership
	if err := f.db.Where("customer_id = ? AND is_active = ?", customer.ID, false).
		First(&superseded).Error; err != nil {
		t.Fatalf("load superseded membership: %v", err)
	}
	if superseded.EndDate == nil {
		t.Fatal("superseded membership has no end date")
	}
	if !superseded.EndDate.Equal(f.clock.Now()) {
		t.Fatalf("end date = %v, want %v", superseded.EndDate, f.clock.Now())
	}

	var published []events.LoyaltyEvent
	if err := f.db.Where("event_type = ?", events.EventTierChanged).Find(&published).Error; err != nil {
		t.Fatalf("query events: %v", err)
	}
	// One for the initial assignment, one for the upgrade.
	if len(published) != 2 {
		t.Fatalf("tier.changed events = %d, want 2", len(published))
	}

	// Same spend again is a no-op.
	result, err = f.svc.Evaluate(ctx, customer.ID)
	if err != nil {
		t.Fatalf("re-evaluate: %v", err)
	}
	if result.Changed {
		t.Fatalf("re-evaluation changed tier: %+v", result)
	}
}

func TestEvaluateIgnoresStaleSpend(t *testing.T) {
	f := setupFixture(t)
	bronze, _, _ := f.standardCatalog(t)
	customer := f.createCustomer(t)
	ctx := context.Background()

	if err := f.svc.AssignInitial(ctx, customer.ID); err != nil {
		t.Fatalf("assign initial: %v", err)
	}

	// Heavy spend, but outside the trailing-year window.
	f.recordSpend(t, customer.ID, 300_000, f.clock.Now().Add(-400*24*time.Hour))

	result, err := f.svc.Evaluate(ctx, customer.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Changed {
		t.Fatalf("stale spend caused a transition: %+v", result)
	}
	if got := f.activeMembership(t, customer.ID); got.TierID != bronze.ID {
		t.Fatalf("active tier %s, want bronze %s", got.TierID, bronze.ID)
	}
}

func TestEqualRateMoveIsNotAnUpgrade(t *testing.T) {
	f := setupFixture(t)
	base := f.createTier(t, "Member", nil, 100)
	plusMin := int64(50_000)
	plus := f.createTier(t, "Member Plus", &plusMin, 100)
	customer := f.createCustomer(t)
	ctx := context.Background()

	if err := f.svc.AssignInitial(ctx, customer.ID); err != nil {
		t.Fatalf("assign initial: %v", err)
	}
	if got := f.activeMembership(t, customer.ID); got.TierID != base.ID {
		t.Fatalf("initial tier %s, want %s", got.TierID, base.ID)
	}

	f.recordSpend(t, customer.ID, plusMin, f.clock.Now().Add(-30*24*time.Hour))

	result, err := f.svc.Evaluate(ctx, customer.ID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Changed || result.Membership.TierID != plus.ID {
		t.Fatalf("result = %+v, want move to %s", result, plus.ID)
	}
	if result.ChangeType != membershipdomain.ChangeAutomaticDowngrade {
		t.Fatalf("change type = %s, want AUTOMATIC_DOWNGRADE for an equal rate", result.ChangeType)
	}
}

func TestManualAssignmentHoldsUntilExpiry(t *testing.T) {
	f := setupFixture(t)
	bronze, _, gold := f.standardCatalog(t)
	customer := f.createCustomer(t)
	ctx := context.Background()

	if err := f.svc.AssignInitial(ctx, customer.ID); err != nil {
		t.Fatalf("assign initial: %v", err)
	}

	endDate := f.clock.Now().Add(14 * 24 * time.Hour).Format(time.RFC3339)
	manual, err := f.svc.AssignManually(ctx, membershipdomain.ManualAssignRequest{
		CustomerID: customer.ID.String(),
		TierID:     gold.ID.String(),
		AssignedBy: "support@merchant.example",
		Reason:     "vip promotion",
		EndDate:    &endDate,
	})
	if err != nil {
		t.Fatalf("assign manually: %v", err)
	}
	if manual.AssignmentType != membershipdomain.AssignmentManual || manual.TierID != gold.ID {
		t.Fatalf("manual membership = %+v", manual)
	}

	// Before the end date the override pins the tier even with no spend.
	result, err := f.svc.Evaluate(ctx, customer.ID)
	if err != nil {
		t.Fatalf("evaluate during override: %v", err)
	}
	if result.Changed {
		t.Fatalf("override was not held: %+v", result)
	}

	// Past the end date the resolver takes back over.
	f.clock.At = f.clock.At.Add(15 * 24 * time.Hour)
	result, err = f.svc.Evaluate(ctx, customer.ID)
	if err != nil {
		t.Fatalf("evaluate after expiry: %v", err)
	}
	if !result.Changed || result.ChangeType != membershipdomain.ChangeExpirationRevert {
		t.Fatalf("result = %+v, want EXPIRATION_REVERT", result)
	}
	if got := f.activeMembership(t, customer.ID); got.TierID != bronze.ID {
		t.Fatalf("reverted tier %s, want bronze %s", got.TierID, bronze.ID)
	}

	// The scheduled end date already passed, so it stays the closing instant.
	var closed membershipdomain.CustomerMembership
	if err := f.db.Where("id = ?", manual.ID).First(&closed).Error; err != nil {
		t.Fatalf("reload manual membership: %v", err)
	}
	if closed.IsActive {
		t.Fatal("manual membership still active")
	}
	if closed.EndDate == nil || !closed.EndDate.Equal(*manual.EndDate) {
		t.Fatalf("end date = %v, want %v", closed.EndDate, manual.EndDate)
	}
}

func TestRevertExpiredSweep(t *testing.T) {
	f := setupFixture(t)
	_, _, gold := f.standardCatalog(t)
	ctx := context.Background()

	expired := f.createCustomer(t)
	current := f.createCustomer(t)
	for _, c := range []*customerdomain.Customer{expired, current} {
		if err := f.svc.AssignInitial(ctx, c.ID); err != nil {
			t.Fatalf("assign initial: %v", err)
		}
	}

	soon := f.clock.Now().Add(24 * time.Hour).Format(time.RFC3339)
	later := f.clock.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339)
	for customerID, end := range map[string]*string{
		expired.ID.String(): &soon,
		current.ID.String(): &later,
	} {
		if _, err := f.svc.AssignManually(ctx, membershipdomain.ManualAssignRequest{
			CustomerID: customerID,
			TierID:     gold.ID.String(),
			AssignedBy: "ops",
			EndDate:    end,
		}); err != nil {
			t.Fatalf("assign manually: %v", err)
		}
	}

	f.clock.At = f.clock.At.Add(48 * time.Hour)
	result, err := f.svc.RevertExpired(ctx, fxMerchantID)
	if err != nil {
		t.Fatalf("revert expired: %v", err)
	}
	if result.Scanned != 1 || result.Reverted != 1 || result.Errors != 0 {
		t.Fatalf("revert result = %+v, want 1 scanned, 1 reverted", result)
	}

	if got := f.activeMembership(t, current.ID); got.TierID != gold.ID {
		t.Fatal("unexpired override was reverted")
	}
}

func TestSingleActiveMembershipUnderConcurrentEvaluate(t *testing.T) {
	f := setupFixture(t)
	f.standardCatalog(t)
	customer := f.createCustomer(t)
	ctx := context.Background()

	if err := f.svc.AssignInitial(ctx, customer.ID); err != nil {
		t.Fatalf("assign initial: %v", err)
	}
	f.recordSpend(t, customer.ID, 250_000, f.clock.Now().Add(-24*time.Hour))

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := f.svc.Evaluate(ctx, customer.ID)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent evaluate: %v", err)
		}
	}

	f.activeMembership(t, customer.ID)
}
