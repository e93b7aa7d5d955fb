package server

import (
	"net/http"
	"strings"

	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"github.com/gin-gonic/gin"
)

// @Summary      Create Tier
// @Description  Create a new loyalty tier
// @Tags         tiers
// @Accept       json
// @Produce      json
// @Param        request body tierdomain.CreateRequest true "Create Tier Request"
// @Success      200  {object}  tierdomain.Tier
// @Router       /v1/tiers [post]
func (s *Server) CreateTier(c *gin.Context) {
	var req tierdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.MerchantID = strings.TrimSpace(req.MerchantID)
	req.Name = strings.TrimSpace(req.Name)

	resp, err := s.tierSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Tiers
// @Description  List a merchant's loyalty tiers
// @Tags         tiers
// @Accept       json
// @Produce      json
// @Param        merchant_id  query     string  true  "Merchant ID"
// @Success      200  {object}  []tierdomain.Tier
// @Router       /v1/tiers [get]
func (s *Server) ListTiers(c *gin.Context) {
	merchantID, err := s.merchantIDFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.tierSvc.List(c.Request.Context(), merchantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Get Tier
// @Description  Get tier by ID
// @Tags         tiers
// @Accept       json
// @Produce      json
// @Param        id           path      string  true  "Tier ID"
// @Param        merchant_id  query     string  true  "Merchant ID"
// @Success      200  {object}  tierdomain.Tier
// @Router       /v1/tiers/{id} [get]
func (s *Server) GetTier(c *gin.Context) {
	merchantID, err := s.merchantIDFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.tierSvc.Get(c.Request.Context(), merchantID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Update Tier
// @Description  Update tier attributes
// @Tags         tiers
// @Accept       json
// @Produce      json
// @Param        id       path  string                 true  "Tier ID"
// @Param        request  body  tierdomain.UpdateRequest  true  "Update Tier Request"
// @Success      200  {object}  tierdomain.Tier
// @Router       /v1/tiers/{id} [patch]
func (s *Server) UpdateTier(c *gin.Context) {
	var req tierdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.MerchantID = strings.TrimSpace(req.MerchantID)
	req.TierID = strings.TrimSpace(c.Param("id"))

	resp, err := s.tierSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      Deactivate Tier
// @Description  Deactivate a tier with no active members
// @Tags         tiers
// @Accept       json
// @Produce      json
// @Param        id           path      string  true  "Tier ID"
// @Param        merchant_id  query     string  true  "Merchant ID"
// @Success      200  {object}  map[string]string
// @Router       /v1/tiers/{id} [delete]
func (s *Server) DeactivateTier(c *gin.Context) {
	merchantID, err := s.merchantIDFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.tierSvc.Deactivate(c.Request.Context(), merchantID, strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// merchantIDFromQuery resolves the merchant_id query param, falling back to
// the default merchant in single-tenant mode.
func (s *Server) merchantIDFromQuery(c *gin.Context) (string, error) {
	merchantID := strings.TrimSpace(c.Query("merchant_id"))
	if merchantID != "" {
		return merchantID, nil
	}
	merchant, err := s.merchantSvc.Default(c.Request.Context())
	if err != nil {
		return "", err
	}
	return merchant.ID.String(), nil
}
