// Package server exposes the loyalty engine over HTTP.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	analyticsdomain "github.com/cambridgetcg/rewardspro/internal/analytics/domain"
	auditservice "github.com/cambridgetcg/rewardspro/internal/audit/service"
	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	"github.com/cambridgetcg/rewardspro/internal/config"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	merchantdomain "github.com/cambridgetcg/rewardspro/internal/merchant/domain"
	"github.com/cambridgetcg/rewardspro/internal/observability/logger"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server holds the handler dependencies.
type Server struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB

	merchantSvc   merchantdomain.Service
	customerSvc   customerdomain.Service
	tierSvc       tierdomain.Service
	membershipSvc membershipdomain.Service
	cashbackSvc   cashbackdomain.Service
	creditSvc     creditdomain.Service
	analyticsSvc  analyticsdomain.Service
	auditSvc      *auditservice.Service

	webhookLimiter *rateLimiter
}

// Params collects the server dependencies.
type Params struct {
	fx.In

	Config        config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	MerchantSvc   merchantdomain.Service
	CustomerSvc   customerdomain.Service
	TierSvc       tierdomain.Service
	MembershipSvc membershipdomain.Service
	CashbackSvc   cashbackdomain.Service
	CreditSvc     creditdomain.Service
	AnalyticsSvc  analyticsdomain.Service
	AuditSvc      *auditservice.Service `optional:"true"`
}

// NewServer wires the handler set.
func NewServer(p Params) *Server {
	return &Server{
		cfg:            p.Config,
		log:            p.Log.Named("server"),
		db:             p.DB,
		merchantSvc:    p.MerchantSvc,
		customerSvc:    p.CustomerSvc,
		tierSvc:        p.TierSvc,
		membershipSvc:  p.MembershipSvc,
		cashbackSvc:    p.CashbackSvc,
		creditSvc:      p.CreditSvc,
		analyticsSvc:   p.AnalyticsSvc,
		auditSvc:       p.AuditSvc,
		webhookLimiter: newRateLimiter(p.Config.HTTP.WebhookRPM, time.Minute),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if !strings.EqualFold(s.cfg.Environment, "development") {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	if proxies := strings.TrimSpace(s.cfg.HTTP.TrustedProxies); proxies != "" {
		_ = r.SetTrustedProxies(strings.Split(proxies, ","))
	}

	r.GET("/healthz", s.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webhooks/orders/paid", s.rateLimited(s.webhookLimiter), s.HandleOrderPaid)

	v1 := r.Group("/v1")
	{
		v1.GET("/merchants", s.ListMerchants)

		v1.POST("/tiers", s.CreateTier)
		v1.GET("/tiers", s.ListTiers)
		v1.GET("/tiers/:id", s.GetTier)
		v1.PATCH("/tiers/:id", s.UpdateTier)
		v1.DELETE("/tiers/:id", s.DeactivateTier)

		v1.GET("/customers", s.ListCustomers)
		v1.GET("/customers/:id", s.GetCustomer)
		v1.GET("/customers/:id/ledger", s.ListCustomerLedger)
		v1.GET("/customers/:id/cashback", s.ListCustomerCashback)
		v1.GET("/customers/:id/membership", s.GetActiveMembership)
		v1.GET("/customers/:id/membership/history", s.ListTierChangeLog)
		v1.GET("/customers/:id/analytics", s.GetCustomerAnalytics)
		v1.GET("/customers/:id/ledger/replay", s.ReplayLedger)

		v1.POST("/memberships/assign", s.AssignTierManually)
		v1.POST("/memberships/evaluate/:customer_id", s.EvaluateCustomer)
		v1.POST("/memberships/evaluate_all", s.EvaluateAll)

		v1.POST("/credit/adjust", s.AdjustCredit)

		v1.POST("/sync/customers/:id", s.SyncCustomer)
		v1.POST("/sync/all", s.SyncAll)
		v1.POST("/cashback/:id/retry_sync", s.RetryCashbackSync)
	}

	return r
}

// Healthz reports liveness and database reachability.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) rateLimited(limiter *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

// Module starts the HTTP server on the fx lifecycle.
var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(runServer),
)

func runServer(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			s.log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
