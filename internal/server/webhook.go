package server

import (
	"net/http"
	"strings"
	"time"

	cashbackdomain "github.com/cambridgetcg/rewardspro/internal/cashback/domain"
	"github.com/cambridgetcg/rewardspro/internal/observability/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type orderPaidPayload struct {
	MerchantID    string            `json:"merchant_id"`
	OrderID       string            `json:"order_id"`
	CustomerRef   string            `json:"customer_id"`
	CustomerEmail string            `json:"customer_email"`
	Currency      string            `json:"currency"`
	PaymentLegs   []paymentLegInput `json:"payment_legs"`
}

type paymentLegInput struct {
	TransactionID       string  `json:"transaction_id"`
	Gateway             string  `json:"gateway"`
	Kind                string  `json:"kind"`
	Status              string  `json:"status"`
	AmountCents         int64   `json:"amount_cents"`
	ParentTransactionID *string `json:"parent_transaction_id,omitempty"`
}

// HandleOrderPaid ingests an order-paid notification. Delivery is
// at-least-once, so a duplicate order is acknowledged with 200 exactly like a
// fresh one. Legs with an unrecognized kind or status are dropped at this
// boundary instead of flowing inward.
func (s *Server) HandleOrderPaid(c *gin.Context) {
	start := time.Now()
	defer func() {
		metrics.Engine().ObserveWebhookDuration(time.Since(start))
	}()

	var payload orderPaidPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID := strings.TrimSpace(payload.MerchantID)
	if merchantID == "" {
		merchant, err := s.merchantSvc.Default(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		merchantID = merchant.ID.String()
	}

	event := cashbackdomain.OrderPaidEvent{
		MerchantID:    merchantID,
		OrderID:       strings.TrimSpace(payload.OrderID),
		CustomerRef:   strings.TrimSpace(payload.CustomerRef),
		CustomerEmail: strings.TrimSpace(payload.CustomerEmail),
		Currency:      strings.TrimSpace(payload.Currency),
	}

	for _, leg := range payload.PaymentLegs {
		kind, ok := cashbackdomain.ParseLegKind(leg.Kind)
		if !ok {
			s.log.Warn("dropping payment leg with unknown kind",
				zap.String("order_id", event.OrderID),
				zap.String("kind", leg.Kind),
			)
			continue
		}
		status, ok := cashbackdomain.ParseLegStatus(leg.Status)
		if !ok {
			s.log.Warn("dropping payment leg with unknown status",
				zap.String("order_id", event.OrderID),
				zap.String("status", leg.Status),
			)
			continue
		}
		event.PaymentLegs = append(event.PaymentLegs, cashbackdomain.PaymentLeg{
			TransactionID:       strings.TrimSpace(leg.TransactionID),
			Gateway:             strings.ToLower(strings.TrimSpace(leg.Gateway)),
			Kind:                kind,
			Status:              status,
			AmountCents:         leg.AmountCents,
			ParentTransactionID: leg.ParentTransactionID,
		})
	}

	result, err := s.cashbackSvc.ProcessOrderPaid(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Duplicate and skipped deliveries acknowledge with 200 so the source
	// stops retrying.
	c.JSON(http.StatusOK, gin.H{"data": result})
}
