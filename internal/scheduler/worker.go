// Package scheduler runs the periodic membership-expiry and balance
// reconciliation sweeps.
package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cambridgetcg/rewardspro/internal/config"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	merchantdomain "github.com/cambridgetcg/rewardspro/internal/merchant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Config        config.Config
	MembershipSvc membershipdomain.Service
	Ledger        creditdomain.Service
}

type Worker struct {
	db            *gorm.DB
	log           *zap.Logger
	membershipSvc membershipdomain.Service
	ledger        creditdomain.Service

	revertInterval time.Duration
	syncInterval   time.Duration
	syncStaleness  time.Duration
}

func NewWorker(p Params) *Worker {
	revertInterval := p.Config.Scheduler.RevertInterval
	if revertInterval <= 0 {
		revertInterval = 5 * time.Minute
	}
	syncInterval := p.Config.Sync.Interval
	if syncInterval <= 0 {
		syncInterval = time.Hour
	}
	syncStaleness := p.Config.Sync.Staleness
	if syncStaleness <= 0 {
		syncStaleness = 24 * time.Hour
	}

	return &Worker{
		db:            p.DB,
		log:           p.Log.Named("scheduler"),
		membershipSvc: p.MembershipSvc,
		ledger:        p.Ledger,

		revertInterval: revertInterval,
		syncInterval:   syncInterval,
		syncStaleness:  syncStaleness,
	}
}

func (w *Worker) RunRevertLoop(ctx context.Context) {
	ticker := time.NewTicker(w.revertInterval)
	defer ticker.Stop()

	for {
		if err := w.RunRevertOnce(ctx); err != nil {
			w.log.Warn("membership expiry sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(w.syncInterval)
	defer ticker.Stop()

	for {
		if err := w.RunSyncOnce(ctx); err != nil {
			w.log.Warn("balance reconciliation sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunRevertOnce re-evaluates expired manual memberships for every merchant.
func (w *Worker) RunRevertOnce(ctx context.Context) error {
	merchantIDs, err := w.merchantIDs(ctx)
	if err != nil {
		return err
	}
	for _, merchantID := range merchantIDs {
		result, err := w.membershipSvc.RevertExpired(ctx, merchantID)
		if err != nil {
			w.log.Warn("expiry sweep failed for merchant",
				zap.String("merchant_id", merchantID.String()),
				zap.Error(err),
			)
			continue
		}
		if result.Reverted > 0 || result.Errors > 0 {
			w.log.Info("expired memberships reverted",
				zap.String("merchant_id", merchantID.String()),
				zap.Int("scanned", result.Scanned),
				zap.Int("reverted", result.Reverted),
				zap.Int("errors", result.Errors),
			)
		}
	}
	return nil
}

// RunSyncOnce reconciles customers whose balance has not been checked
// against the commerce platform recently.
func (w *Worker) RunSyncOnce(ctx context.Context) error {
	merchantIDs, err := w.merchantIDs(ctx)
	if err != nil {
		return err
	}
	for _, merchantID := range merchantIDs {
		result, err := w.ledger.SyncAll(ctx, creditdomain.SyncAllRequest{
			MerchantID: merchantID.String(),
			StaleOnly:  true,
			OlderThan:  w.syncStaleness,
		})
		if err != nil {
			w.log.Warn("reconciliation sweep failed for merchant",
				zap.String("merchant_id", merchantID.String()),
				zap.Error(err),
			)
			continue
		}
		if result.Updated > 0 || result.Errors > 0 {
			w.log.Info("stale balances reconciled",
				zap.String("merchant_id", merchantID.String()),
				zap.Int("scanned", result.Scanned),
				zap.Int("updated", result.Updated),
				zap.Int("errors", result.Errors),
			)
		}
	}
	return nil
}

func (w *Worker) merchantIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := w.db.WithContext(ctx).
		Model(&merchantdomain.Merchant{}).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
