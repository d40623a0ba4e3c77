package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/spiritcandles/fulfillment/internal/payments"
	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
	"github.com/spiritcandles/fulfillment/internal/platform/requestctx"
	"github.com/spiritcandles/fulfillment/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// PaymentEventParser verifies a provider delivery and extracts the capture it confirms.
type PaymentEventParser interface {
	Parse(ctx context.Context, payload []byte, signature string) (payments.Capture, error)
}

// PaymentWebhookHandlers receives payment provider callbacks.
type PaymentWebhookHandlers struct {
	stripe      PaymentEventParser
	fulfillment services.FulfillmentService
}

// NewPaymentWebhookHandlers constructs the webhook handlers.
func NewPaymentWebhookHandlers(stripe PaymentEventParser, fulfillment services.FulfillmentService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{stripe: stripe, fulfillment: fulfillment}
}

type webhookAck struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id,omitempty"`
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

// handleStripe acks events that need no action so the provider stops retrying them.
// Transient failures return 5xx or 404 and are redelivered.
func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	if h.stripe == nil || h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment webhook not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := httpx.ReadLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}

	capture, err := h.stripe.Parse(ctx, body, r.Header.Get(stripeSignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.Warn("payments.webhook.signature_rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case errors.Is(err, payments.ErrIgnoredEvent), errors.Is(err, payments.ErrMissingOrder):
		logger.Info("payments.webhook.ignored", zap.Error(err))
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ignored"})
		return
	default:
		logger.Warn("payments.webhook.failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("payment_lookup_failed", "payment could not be verified", http.StatusBadGateway))
		return
	}

	_, err = h.fulfillment.ApplyPayment(ctx, services.PaymentCommand{
		OrderID:  capture.OrderID,
		Provider: capture.Provider,
		EventID:  capture.EventID,
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "applied", OrderID: capture.OrderID})
	case errors.Is(err, services.ErrOrderInvalidState):
		// Redelivery or a late event for an order that moved on.
		logger.Info("payments.webhook.duplicate", zap.String("orderId", capture.OrderID), zap.String("eventId", capture.EventID))
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ignored", OrderID: capture.OrderID})
	default:
		writeOrderError(ctx, w, err)
	}
}
