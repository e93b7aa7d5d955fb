package server

import (
	"net/http"
	"strings"
	"time"

	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

// @Summary      List Customers
// @Description  List a merchant's loyalty customers
// @Tags         customers
// @Accept       json
// @Produce      json
// @Param        merchant_id   query     string  false  "Merchant ID"
// @Param        email         query     string  false  "Email"
// @Param        created_from  query     string  false  "Created From"
// @Param        created_to    query     string  false  "Created To"
// @Param        page_token    query     string  false  "Page Token"
// @Param        page_size     query     int     false  "Page Size"
// @Success      200  {object}  customerdomain.ListResponse
// @Router       /v1/customers [get]
func (s *Server) ListCustomers(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Email       string `form:"email"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID, err := s.merchantIDFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req := customerdomain.ListRequest{
		MerchantID: merchantID,
		Email:      strings.TrimSpace(query.Email),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	}
	if query.CreatedFrom != "" {
		from, err := time.Parse(time.RFC3339, query.CreatedFrom)
		if err != nil {
			AbortWithError(c, newValidationError("created_from", "invalid_time", "invalid created_from time"))
			return
		}
		req.CreatedFrom = &from
	}
	if query.CreatedTo != "" {
		to, err := time.Parse(time.RFC3339, query.CreatedTo)
		if err != nil {
			AbortWithError(c, newValidationError("created_to", "invalid_time", "invalid created_to time"))
			return
		}
		req.CreatedTo = &to
	}

	resp, err := s.customerSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Customers, "page_info": resp.PageInfo})
}

// @Summary      Get Customer
// @Description  Get customer by ID, including the cached credit balance
// @Tags         customers
// @Accept       json
// @Produce      json
// @Param        id   path      string  true  "Customer ID"
// @Success      200  {object}  customerdomain.Customer
// @Router       /v1/customers/{id} [get]
func (s *Server) GetCustomer(c *gin.Context) {
	resp, err := s.customerSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// @Summary      List Customer Ledger
// @Description  Page a customer's store-credit ledger, newest first
// @Tags         customers
// @Accept       json
// @Produce      json
// @Param        id          path      string  true   "Customer ID"
// @Param        page_token  query     string  false  "Page Token"
// @Param        page_size   query     int     false  "Page Size"
// @Success      200  {object}  creditdomain.ListResponse
// @Router       /v1/customers/{id}/ledger [get]
func (s *Server) ListCustomerLedger(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.ListByCustomer(c.Request.Context(), creditdomain.ListRequest{
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

// @Summary      List Customer Cashback
// @Description  Page a customer's cashback transactions, newest first
// @Tags         customers
// @Accept       json
// @Produce      json
// @Param        id          path      string  true   "Customer ID"
// @Param        page_token  query     string  false  "Page Token"
// @Param        page_size   query     int     false  "Page Size"
// @Success      200  {object}  cashbackdomain.ListResponse
// @Router       /v1/customers/{id}/cashback [get]
func (s *Server) ListCustomerCashback(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.cashbackSvc.ListByCustomer(c.Request.Context(), cashbackdomain.ListRequest{
		CustomerID: strings.TrimSpace(c.Param("id")),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

// @Summary      List Merchants
// @Description  List configured merchants
// @Tags         merchants
// @Accept       json
// @Produce      json
// @Success      200  {object}  []merchantdomain.Merchant
// @Router       /v1/merchants [get]
func (s *Server) ListMerchants(c *gin.Context) {
	resp, err := s.merchantSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
