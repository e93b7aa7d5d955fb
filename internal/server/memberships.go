package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/cambridgetcg/rewardspro/internal/audit/domain"
	auditservice "github.com/cambridgetcg/rewardspro/internal/audit/service"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

// @Summary      Get Active Membership
// @Description  Get the customer's single active tier membership
// @Tags         memberships
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  membershipdomain.CustomerMembership
// @Router       /v1/customers/{id}/membership [get]
func (s *Server) GetActiveMembership(c *gin.Context) {
	resp, err := s.membershipSvc.ActiveMembership(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Tier Change Log
// @Description  Page a customer's tier transition history, newest first
// @Tags         memberships
// @Accept       json
// @Produce      json
// @Param        id          path      string  true   "Customer ID"
// @Param        page_token  query     string  false  "Page Token"
// @Param        page_size   query     int     false  "Page Size"
// @Success      200  {object}  membershipdomain.ChangeLogResponse
// @Router       /v1/customers/{id}/membership/history [get]
func (s *Server) ListTierChangeLog(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.membershipSvc.ListChangeLog(c.Request.Context(), membershipdomain.ChangeLogRequest{
		CustomerID: strings.TrimSpace(c.Param("id")),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

// @Summary      Assign Tier Manually
// @Description  Override the tier resolver for one customer
// @Tags         memberships
// @Accept       json
// @Produce      json
// @Param        request body membershipdomain.ManualAssignRequest true "Manual Assign Request"
// @Success      200  {object}  membershipdomain.CustomerMembership
// @Router       /v1/memberships/assign [post]
func (s *Server) AssignTierManually(c *gin.Context) {
	var req membershipdomain.ManualAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.TierID = strings.TrimSpace(req.TierID)
	req.AssignedBy = strings.TrimSpace(req.AssignedBy)

	resp, err := s.membershipSvc.AssignManually(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditservice.Entry{
		MerchantID: resp.MerchantID,
		Action:     auditdomain.ActionTierAssigned,
		TargetType: "customer",
		TargetID:   resp.CustomerID.String(),
		Metadata: map[string]any{
			"tier_id":     resp.TierID.String(),
			"assigned_by": req.AssignedBy,
			"reason":      req.Reason,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Evaluate Customer
// @Description  Re-resolve one customer's tier from current spend
// @Tags         memberships
// @Accept       json
// @Produce      json
// @Param        customer_id  path      string  true  "Customer ID"
// @Success      200  {object}  membershipdomain.EvaluationResult
// @Router       /v1/memberships/evaluate/{customer_id} [post]
func (s *Server) EvaluateCustomer(c *gin.Context) {
	customerID, err := parsePathID(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, membershipdomain.ErrInvalidCustomer)
		return
	}

	resp, err := s.membershipSvc.Evaluate(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Evaluate All
// @Description  Re-evaluate every customer of a merchant
// @Tags         memberships
// @Accept       json
// @Produce      json
// @Param        merchant_id  query     string  false  "Merchant ID"
// @Success      200  {object}  membershipdomain.EvaluateAllResult
// @Router       /v1/memberships/evaluate_all [post]
func (s *Server) EvaluateAll(c *gin.Context) {
	merchantRaw, err := s.merchantIDFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	merchantID, err := parsePathID(merchantRaw)
	if err != nil {
		AbortWithError(c, membershipdomain.ErrInvalidCustomer)
		return
	}

	resp, err := s.membershipSvc.EvaluateAll(c.Request.Context(), merchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), auditservice.Entry{
		MerchantID: merchantID,
		Action:     auditdomain.ActionEvaluateAll,
		TargetType: "merchant",
		TargetID:   merchantID.String(),
		Metadata: map[string]any{
			"evaluated": resp.Evaluated,
			"changed":   resp.Changed,
			"errors":    resp.Errors,
		},
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parsePathID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}
