package server

import (
	"net/http"
	"strings"

	auditdomain "github.com/cambridgetcg/rewardspro/internal/audit/domain"
	auditservice "github.com/cambridgetcg/rewardspro/internal/audit/service"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	"github.com/gin-gonic/gin"
)

// @Summary      Adjust Store Credit
// @Description  Credit or debit a customer's store credit by operator action
// @Tags         credit
// @Accept       json
// @Produce      json
// @Param        request body creditdomain.AdjustRequest true "Adjust Request"
// @Success      200  {object}  creditdomain.StoreCreditLedgerEntry
// @Router       /v1/credit/adjust [post]
func (s *Server) AdjustCredit(c *gin.Context) {
	var req creditdomain.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Description = strings.TrimSpace(req.Description)
	req.AdjustedBy = strings.TrimSpace(req.AdjustedBy)

	resp, err := s.creditSvc.ManualAdjust(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditservice.Entry{
		MerchantID: resp.MerchantID,
		Action:     auditdomain.ActionCreditAdjusted,
		TargetType: "customer",
		TargetID:   resp.CustomerID.String(),
		Metadata: map[string]any{
			"amount_cents": resp.AmountCents,
			"adjusted_by":  req.AdjustedBy,
			"description":  req.Description,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Replay Ledger
// @Description  Fold a customer's ledger and compare against the cached balance
// @Tags         credit
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  creditdomain.ReplayResult
// @Router       /v1/customers/{id}/ledger/replay [get]
func (s *Server) ReplayLedger(c *gin.Context) {
	customerID, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, creditdomain.ErrInvalidCustomer)
		return
	}

	resp, err := s.creditSvc.Replay(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
