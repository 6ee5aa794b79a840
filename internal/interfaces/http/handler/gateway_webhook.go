package handler

import (
	"errors"
	"io"
	"net/http"

	billingapp "github.com/billing/backend/internal/application/billing"
	"github.com/billing/backend/internal/domain/billing"
	"github.com/gin-gonic/gin"
)

// defaultWebhookMaxBody caps webhook payloads when no configured limit is
// set. Gateway events are small; anything larger is hostile.
const defaultWebhookMaxBody = 65536

// GatewayWebhookHandler receives payment gateway notifications.
// These endpoints are called by the gateway and authenticate through the
// payload signature instead of a JWT.
type GatewayWebhookHandler struct {
	BaseHandler
	webhookService *billingapp.GatewayWebhookService
	maxBody        int64
}

// NewGatewayWebhookHandler creates a new GatewayWebhookHandler
func NewGatewayWebhookHandler(webhookService *billingapp.GatewayWebhookService, maxBody int64) *GatewayWebhookHandler {
	if maxBody <= 0 {
		maxBody = defaultWebhookMaxBody
	}
	return &GatewayWebhookHandler{
		webhookService: webhookService,
		maxBody:        maxBody,
	}
}

// GatewayWebhookResponse acknowledges a gateway notification
type GatewayWebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleStripeWebhook handles POST /webhooks/stripe.
//
// Status codes follow the retry contract: 4xx tells Stripe the delivery
// is unfixable (bad signature, oversized or unparseable payload), 200
// acknowledges everything else including replays and reconciliation
// mismatches, and 5xx asks Stripe to retry a transient failure.
func (h *GatewayWebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, GatewayWebhookResponse{
			Received: false,
			Message:  "Failed to read request body",
		})
		return
	}

	if int64(len(payload)) > h.maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, GatewayWebhookResponse{
			Received: false,
			Message:  "Payload too large",
		})
		return
	}

	signature := c.GetHeader("Stripe-Signature")

	result, err := h.webhookService.ProcessNotification(
		c.Request.Context(), billing.PaymentGatewayTypeStripe, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrSignatureInvalid):
			c.JSON(http.StatusBadRequest, GatewayWebhookResponse{
				Received: false,
				Message:  "Signature verification failed",
			})
		case errors.Is(err, billing.ErrMalformedNotification):
			c.JSON(http.StatusBadRequest, GatewayWebhookResponse{
				Received: false,
				Message:  "Malformed notification payload",
			})
		default:
			c.JSON(http.StatusInternalServerError, GatewayWebhookResponse{
				Received: false,
				Message:  "Failed to process notification",
			})
		}
		return
	}

	c.JSON(http.StatusOK, GatewayWebhookResponse{
		Received:  true,
		EventID:   result.EventID,
		EventType: result.EventType,
		Message:   result.Message,
	})
}
