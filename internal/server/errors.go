package server

import (
	"errors"
	"net/http"

	analyticsdomain "github.com/cambridgetcg/rewardspro/internal/analytics/domain"
	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	"github.com/cambridgetcg/rewardspro/internal/commerce"
	creditdomain "github.com/cambridgetcg/rewardspro/internal/creditledger/domain"
	customerdomain "github.com/cambridgetcg/rewardspro/internal/customer/domain"
	membershipdomain "github.com/cambridgetcg/rewardspro/internal/membership/domain"
	merchantdomain "github.com/cambridgetcg/rewardspro/internal/merchant/domain"
	tierdomain "github.com/cambridgetcg/rewardspro/internal/tier/domain"
	"github.com/cambridgetcg/rewardspro/pkg/db/pagination"
	"github.com/gin-gonic/gin"
)

// APIError is the JSON error envelope returned by every handler.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Code }

var (
	ErrNotFound           = &APIError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrTooManyRequests    = &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
	ErrServiceUnavailable = &APIError{Status: http.StatusServiceUnavailable, Code: "service_unavailable", Message: "service unavailable"}
)

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body could not be parsed"}
}

func newValidationError(field, code, message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Field: field, Message: message}
}

// AbortWithError maps a domain error to an HTTP status and writes the JSON
// envelope. Unmapped errors become an opaque 500.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
		return
	}

	status := statusFor(err)
	body := &APIError{Status: status, Code: "internal_error", Message: "internal error"}
	if status != http.StatusInternalServerError {
		body.Code = err.Error()
		body.Message = err.Error()
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func statusFor(err error) int {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest
	case isNotFoundError(err):
		return http.StatusNotFound
	case isConflictError(err):
		return http.StatusConflict
	case errors.Is(err, commerce.ErrExternalRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, commerce.ErrExternalUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, tierdomain.ErrInvalidMerchant),
		errors.Is(err, tierdomain.ErrInvalidTier),
		errors.Is(err, tierdomain.ErrInvalidName),
		errors.Is(err, tierdomain.ErrInvalidCashbackRate),
		errors.Is(err, tierdomain.ErrInvalidMinSpend),
		errors.Is(err, tierdomain.ErrInvalidEvaluationPeriod),
		errors.Is(err, membershipdomain.ErrInvalidCustomer),
		errors.Is(err, membershipdomain.ErrInvalidTier),
		errors.Is(err, membershipdomain.ErrInvalidEndDate),
		errors.Is(err, membershipdomain.ErrInvalidAssigner),
		errors.Is(err, cashbackdomain.ErrInvalidMerchant),
		errors.Is(err, cashbackdomain.ErrInvalidOrder),
		errors.Is(err, cashbackdomain.ErrInvalidCustomerRef),
		errors.Is(err, cashbackdomain.ErrInvalidTransaction),
		errors.Is(err, creditdomain.ErrInvalidCustomer),
		errors.Is(err, creditdomain.ErrInvalidMerchant),
		errors.Is(err, creditdomain.ErrZeroAmount),
		errors.Is(err, creditdomain.ErrInvalidAdjuster),
		errors.Is(err, customerdomain.ErrInvalidCustomer),
		errors.Is(err, customerdomain.ErrInvalidMerchant),
		errors.Is(err, customerdomain.ErrInvalidExternalRef),
		errors.Is(err, analyticsdomain.ErrInvalidCustomer),
		errors.Is(err, merchantdomain.ErrInvalidMerchant):
		return true
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, tierdomain.ErrTierNotFound),
		errors.Is(err, membershipdomain.ErrCustomerNotFound),
		errors.Is(err, membershipdomain.ErrTierNotFound),
		errors.Is(err, membershipdomain.ErrMembershipNotFound),
		errors.Is(err, cashbackdomain.ErrTxnNotFound),
		errors.Is(err, creditdomain.ErrCustomerNotFound),
		errors.Is(err, customerdomain.ErrCustomerNotFound),
		errors.Is(err, analyticsdomain.ErrCustomerNotFound),
		errors.Is(err, merchantdomain.ErrMerchantNotFound):
		return true
	}
	return false
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, tierdomain.ErrDuplicateName),
		errors.Is(err, tierdomain.ErrDuplicateBaseTier),
		errors.Is(err, tierdomain.ErrTierInUse),
		errors.Is(err, membershipdomain.ErrMembershipExists),
		errors.Is(err, membershipdomain.ErrNoTiersConfigured),
		errors.Is(err, cashbackdomain.ErrSyncNotNeeded),
		errors.Is(err, creditdomain.ErrInsufficientBalance):
		return true
	}
	return false
}
