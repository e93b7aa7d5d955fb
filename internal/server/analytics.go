package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// @Summary      Get Customer Analytics
// @Description  Get spend windows and next-tier progress for a customer
// @Tags         analytics
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  analyticsdomain.CustomerAnalytics
// @Router       /v1/customers/{id}/analytics [get]
func (s *Server) GetCustomerAnalytics(c *gin.Context) {
	resp, err := s.analyticsSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
