package server

import (
	"net/http"
	"strings"
	"time"

	auditdomain "github.com/cambridgetcg/rewardspro/internal/audit/domain"
	auditservice "github.com/cambridgetcg/rewardspro/internal/audit/service"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	"github.com/gin-gonic/gin"
)

// @Summary      Sync Customer
// @Description  Reconcile one customer's balance against the commerce platform
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  creditdomain.SyncOutcome
// @Router       /v1/sync/customers/{id} [post]
func (s *Server) SyncCustomer(c *gin.Context) {
	customerID, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, creditdomain.ErrInvalidCustomer)
		return
	}

	resp, err := s.creditSvc.SyncCustomer(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type syncAllRequest struct {
	MerchantID string `json:"merchant_id"`
	StaleOnly  bool   `json:"stale_only"`
	OlderThan  string `json:"older_than"`
}

// @Summary      Sync All
// @Description  Reconcile a merchant's customers in chunks
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body syncAllRequest true "Sync All Request"
// @Success      200  {object}  creditdomain.SyncAllResult
// @Router       /v1/sync/all [post]
func (s *Server) SyncAll(c *gin.Context) {
	var req syncAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID := strings.TrimSpace(req.MerchantID)
	if merchantID == "" {
		merchant, err := s.merchantSvc.Default(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		merchantID = merchant.ID.String()
	}

	svcReq := creditdomain.SyncAllRequest{
		MerchantID: merchantID,
		StaleOnly:  req.StaleOnly,
	}
	if req.OlderThan != "" {
		olderThan, err := time.ParseDuration(req.OlderThan)
		if err != nil || olderThan < 0 {
			AbortWithError(c, newValidationError("older_than", "invalid_duration", "invalid older_than duration"))
			return
		}
		svcReq.OlderThan = olderThan
	}

	resp, err := s.creditSvc.SyncAll(c.Request.Context(), svcReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if parsed, err := parsePathID(merchantID); err == nil {
		s.auditSvc.Record(c.Request.Context(), auditservice.Entry{
			MerchantID: parsed,
			Action:     auditdomain.ActionSyncTriggered,
			TargetType: "merchant",
			TargetID:   merchantID,
			Metadata: map[string]any{
				"scanned": resp.Scanned,
				"updated": resp.Updated,
				"errors":  resp.Errors,
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Retry Cashback Sync
// @Description  Re-push a cashback transaction stuck in EXTERNAL_SYNC_FAILED
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Transaction ID"
// @Success      200  {object}  cashbackdomain.CashbackTransaction
// @Router       /v1/cashback/{id}/retry_sync [post]
func (s *Server) RetryCashbackSync(c *gin.Context) {
	resp, err := s.cashbackSvc.RetryExternalSync(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
