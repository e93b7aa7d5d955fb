package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/cambridgetcg/rewardspro/internal/analytics/domain"
	analyticsservice "github.com/cambridgetcg/rewardspro/internal/analytics/service"
	auditdomain "github.com/cambridgetcg/rewardspro/internal/audit/domain"
	auditrepository "github.com/cambridgetcg/rewardspro/internal/audit/repository"
	auditservice "github.com/cambridgetcg/rewardspro/internal/audit/service"
	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	cashbackservice "github.com/cambridgetcg/rewardspro/internal/cashback/service"
	"github.com/cambridgetcg/rewardspro/internal/clock"
	"github.com/cambridgetcg/rewardspro/internal/commerce"
	"github.com/cambridgetcg/rewardspro/internal/config"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	creditservice "github.com/cambridgetcg/rewardspro/internal/creditledger/service"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	customerservice "github.com/cambridgetcg/rewardspro/internal/customer/service"
	"github.com/cambridgetcg/rewardspro/internal/events"
	"github.com/cambridgetcg/rewardspro/internal/locks"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	membershipservice "github.com/cambridgetcg/rewardspro/internal/membership/service"
	merchantdomain "github.com/cambridgetcg/rewardspro/internal/merchant/domain"
	merchantservice "github.com/cambridgetcg/rewardspro/internal/merchant/service"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	tierservice "github.com/cambridgetcg/rewardspro/internal/tier/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type serverFixture struct {
	db       *gorm.DB
	router   http.Handler
	node     *snowflake.Node
	clock    *clock.FixedClock
	commerce *commerce.Fake
	merchant merchantdomain.Merchant
}

func setupServer(t *testing.T, webhookRPM int) *serverFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&merchantdomain.Merchant{},
		&customerdomain.Customer{},
		&tierdomain.Tier{},
		&membershipdomain.CustomerMembership{},
		&membershipdomain.TierChangeLog{},
		&cashbackdomain.CashbackTransaction{},
		&creditdomain.StoreCreditLedgerEntry{},
		&analyticsdomain.CustomerAnalytics{},
		&events.LoyaltyEvent{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := &clock.FixedClock{At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	keyed := locks.NewKeyed()
	fake := commerce.NewFake()
	log := zap.NewNop()
	cfg := config.Config{
		Environment: "test",
		HTTP:        config.HTTPConfig{Addr: ":0", WebhookRPM: webhookRPM},
		Sync:        config.SyncConfig{EpsilonCents: 1, Concurrency: 1, BatchSize: 100},
	}

	merchant := merchantdomain.Merchant{
		ID: node.Generate(), Name: "Main", Slug: "main", Currency: "USD", IsDefault: true,
		CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}
	if err := db.Create(&merchant).Error; err != nil {
		t.Fatalf("seed merchant: %v", err)
	}

	tierSvc := tierservice.NewService(tierservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	analyticsSvc := analyticsservice.NewService(analyticsservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	membershipSvc := membershipservice.NewService(membershipservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Locks: keyed,
		TierSvc: tierSvc, Analytics: analyticsSvc, Outbox: events.NewOutbox(db, node),
	})
	customerSvc := customerservice.NewService(customerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, MembershipSvc: membershipSvc,
	})
	ledgerSvc := creditservice.NewService(creditservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Locks: keyed, Commerce: fake, Config: cfg,
		Outbox: events.NewOutbox(db, node),
	})
	cashbackSvc := cashbackservice.NewService(cashbackservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Locks: keyed,
		CustomerSvc: customerSvc, MembershipSvc: membershipSvc,
		Ledger: ledgerSvc, Commerce: fake, Outbox: events.NewOutbox(db, node),
	})
	merchantSvc := merchantservice.NewService(merchantservice.Params{DB: db, Log: log})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: db, Log: log, GenID: node, Repo: auditrepository.Provide(),
	})

	srv := NewServer(Params{
		Config:        cfg,
		Log:           log,
		DB:            db,
		MerchantSvc:   merchantSvc,
		CustomerSvc:   customerSvc,
		TierSvc:       tierSvc,
		MembershipSvc: membershipSvc,
		CashbackSvc:   cashbackSvc,
		CreditSvc:     ledgerSvc,
		AnalyticsSvc:  analyticsSvc,
		AuditSvc:      auditSvc,
	})

	return &serverFixture{
		db:       db,
		router:   srv.Router(),
		node:     node,
		clock:    clk,
		commerce: fake,
		merchant: merchant,
	}
}

func (f *serverFixture) seedTier(t *testing.T, name string, minSpend *int64, bps int64) tierdomain.Tier {
	t.Helper()
	tier := tierdomain.Tier{
		ID: f.node.Generate(), MerchantID: f.merchant.ID, Name: name,
		MinSpendCents: minSpend, CashbackBps: bps,
		EvaluationPeriod: tierdomain.EvaluationPeriodAnnual, IsActive: true,
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	}
	if err := f.db.Create(&tier).Error; err != nil {
		t.Fatalf("seed tier: %v", err)
	}
	return tier
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func orderPaidBody(orderID string, amountCents int64) map[string]any {
	return map[string]any{
		"order_id":       orderID,
		"customer_id":    "shopper-1",
		"customer_email": "shopper@example.com",
		"currency":       "USD",
		"payment_legs": []map[string]any{
			{"transaction_id": "t-" + orderID, "gateway": "shopify_payments", "kind": "SALE", "status": "SUCCESS", "amount_cents": amountCents},
		},
	}
}

func TestWebhookDuplicateDeliveryReturns200(t *testing.T) {
	f := setupServer(t, 100)
	f.seedTier(t, "Bronze", nil, 100)

	first := f.do(t, http.MethodPost, "/webhooks/orders/paid", orderPaidBody("ord-1", 10_000))
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, body %s", first.Code, first.Body.String())
	}

	second := f.do(t, http.MethodPost, "/webhooks/orders/paid", orderPaidBody("ord-1", 10_000))
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d, body %s", second.Code, second.Body.String())
	}

	var resp struct {
		Data cashbackdomain.ProcessResult `json:"data"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode duplicate response: %v", err)
	}
	if !resp.Data.Duplicate {
		t.Fatal("expected duplicate flag on redelivery")
	}

	var count int64
	if err := f.db.Model(&cashbackdomain.CashbackTransaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	if count != 1 {
		t.Fatalf("transactions = %d, want 1", count)
	}
}

func TestWebhookDropsUnknownLegKinds(t *testing.T) {
	f := setupServer(t, 100)
	f.seedTier(t, "Bronze", nil, 100)

	body := orderPaidBody("ord-2", 10_000)
	body["payment_legs"] = append(body["payment_legs"].([]map[string]any), map[string]any{
		"transaction_id": "t-x", "gateway": "shopify_payments", "kind": "CHARGEBACK", "status": "SUCCESS", "amount_cents": 99_999,
	})

	rec := f.do(t, http.MethodPost, "/webhooks/orders/paid", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var txn cashbackdomain.CashbackTransaction
	if err := f.db.First(&txn, "order_id = ?", "ord-2").Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if txn.EligibleAmountCents != 10_000 {
		t.Fatalf("eligible = %d, want 10000", txn.EligibleAmountCents)
	}
}

func TestWebhookRateLimit(t *testing.T) {
	f := setupServer(t, 2)
	f.seedTier(t, "Bronze", nil, 100)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/webhooks/orders/paid", orderPaidBody(fmt.Sprintf("ord-%d", i), 1_000))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d", i, rec.Code)
		}
	}

	rec := f.do(t, http.MethodPost, "/webhooks/orders/paid", orderPaidBody("ord-over", 1_000))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestTierCRUDOverHTTP(t *testing.T) {
	f := setupServer(t, 100)

	create := f.do(t, http.MethodPost, "/v1/tiers", map[string]any{
		"merchant_id":  f.merchant.ID.String(),
		"name":         "Bronze",
		"cashback_bps": 100,
	})
	if create.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", create.Code, create.Body.String())
	}
	var created struct {
		Data tierdomain.Tier `json:"data"`
	}
	if err := json.Unmarshal(create.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	dup := f.do(t, http.MethodPost, "/v1/tiers", map[string]any{
		"merchant_id":  f.merchant.ID.String(),
		"name":         "Bronze",
		"cashback_bps": 150,
	})
	if dup.Code != http.StatusConflict {
		t.Fatalf("duplicate name status = %d, want 409", dup.Code)
	}

	get := f.do(t, http.MethodGet, "/v1/tiers/"+created.Data.ID.String()+"?merchant_id="+f.merchant.ID.String(), nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d", get.Code)
	}

	missing := f.do(t, http.MethodGet, "/v1/tiers/123456789?merchant_id="+f.merchant.ID.String(), nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing tier status = %d, want 404", missing.Code)
	}
}

func TestAdjustCreditValidation(t *testing.T) {
	f := setupServer(t, 100)
	f.seedTier(t, "Bronze", nil, 100)

	rec := f.do(t, http.MethodPost, "/v1/credit/adjust", map[string]any{
		"customer_id":  "999",
		"amount_cents": 0,
		"description":  "noop",
		"adjusted_by":  "ops@example.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestManualAssignWritesAudit(t *testing.T) {
	f := setupServer(t, 100)
	f.seedTier(t, "Bronze", nil, 100)
	goldMin := int64(200_000)
	gold := f.seedTier(t, "Gold", &goldMin, 400)

	// Create a customer through the webhook pipeline.
	rec := f.do(t, http.MethodPost, "/webhooks/orders/paid", orderPaidBody("ord-a", 1_000))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}
	var customer customerdomain.Customer
	if err := f.db.First(&customer, "external_ref = ?", "shopper-1").Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}

	assign := f.do(t, http.MethodPost, "/v1/memberships/assign", map[string]any{
		"customer_id": customer.ID.String(),
		"tier_id":     gold.ID.String(),
		"assigned_by": "ops@example.com",
		"reason":      "vip onboarding",
	})
	if assign.Code != http.StatusOK {
		t.Fatalf("assign status = %d, body %s", assign.Code, assign.Body.String())
	}

	var auditCount int64
	if err := f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionTierAssigned).Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("audit rows = %d, want 1", auditCount)
	}
}

func TestHealthz(t *testing.T) {
	f := setupServer(t, 100)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
