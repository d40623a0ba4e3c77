package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	eventPaymentIntentSucceeded  = "payment_intent.succeeded"
	eventCheckoutSessionComplete = "checkout.session.completed"
)

// StripeLogger defines the logging contract for Stripe webhook processing.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeWebhookConfig configures the StripeWebhook.
type StripeWebhookConfig struct {
	// WebhookSecret is the endpoint signing secret (whsec_...).
	WebhookSecret string
	// APIKey enables a lookup of the payment intent before a capture is accepted.
	APIKey    string
	AccountID string
	Tolerance time.Duration
	Backends  *stripe.Backends
	Logger    StripeLogger
	Intents   stripePaymentIntentAPI
}

// StripeWebhook verifies Stripe webhook deliveries and extracts payment captures.
type StripeWebhook struct {
	secret    string
	tolerance time.Duration
	account   string
	intents   stripePaymentIntentAPI
	logger    StripeLogger
}

// NewStripeWebhook constructs a verifier for the configured endpoint secret.
func NewStripeWebhook(cfg StripeWebhookConfig) (*StripeWebhook, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	intents := cfg.Intents
	if intents == nil {
		if apiKey := strings.TrimSpace(cfg.APIKey); apiKey != "" {
			intents = client.New(apiKey, cfg.Backends).PaymentIntents
		}
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeWebhook{
		secret:    secret,
		tolerance: tolerance,
		account:   strings.TrimSpace(cfg.AccountID),
		intents:   intents,
		logger:    logger,
	}, nil
}

// Parse verifies the Stripe-Signature header and returns the capture carried by the event.
// Events that do not confirm a payment return ErrIgnoredEvent.
func (w *StripeWebhook) Parse(ctx context.Context, payload []byte, signature string) (Capture, error) {
	if w == nil {
		return Capture{}, errors.New("stripe: webhook is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, w.secret, webhook.ConstructEventOptions{
		Tolerance:                w.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Capture{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return Capture{}, fmt.Errorf("%w: event %s has no data", ErrIgnoredEvent, event.ID)
	}

	var capture Capture
	switch string(event.Type) {
	case eventPaymentIntentSucceeded:
		capture, err = captureFromIntent(event.Data.Raw)
	case eventCheckoutSessionComplete:
		capture, err = captureFromSession(event.Data.Raw)
	default:
		return Capture{}, fmt.Errorf("%w: type %s", ErrIgnoredEvent, event.Type)
	}
	if err != nil {
		return Capture{}, err
	}
	capture.Provider = ProviderStripe
	capture.EventID = event.ID
	capture.Type = string(event.Type)

	if err := w.confirmIntent(ctx, capture.IntentID); err != nil {
		return Capture{}, err
	}

	w.logger(ctx, "payments.stripe.capture.verified", map[string]any{
		"eventId":       capture.EventID,
		"eventType":     capture.Type,
		"orderId":       capture.OrderID,
		"paymentIntent": capture.IntentID,
	})
	return capture, nil
}

func captureFromIntent(raw json.RawMessage) (Capture, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return Capture{}, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	if intent.Status != "" && intent.Status != stripe.PaymentIntentStatusSucceeded {
		return Capture{}, fmt.Errorf("%w: intent %s is %s", ErrIgnoredEvent, intent.ID, intent.Status)
	}
	orderID := orderIDFromMetadata(intent.Metadata, "")
	if orderID == "" {
		return Capture{}, ErrMissingOrder
	}
	return Capture{
		OrderID:  orderID,
		IntentID: intent.ID,
		Amount:   intent.Amount,
		Currency: strings.ToUpper(string(intent.Currency)),
	}, nil
}

func captureFromSession(raw json.RawMessage) (Capture, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return Capture{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return Capture{}, fmt.Errorf("%w: session %s payment status %q", ErrIgnoredEvent, session.ID, session.PaymentStatus)
	}
	orderID := orderIDFromMetadata(session.Metadata, session.ClientReferenceID)
	if orderID == "" {
		return Capture{}, ErrMissingOrder
	}
	capture := Capture{
		OrderID:  orderID,
		Amount:   session.AmountTotal,
		Currency: strings.ToUpper(string(session.Currency)),
	}
	if session.PaymentIntent != nil {
		capture.IntentID = session.PaymentIntent.ID
	}
	return capture, nil
}

// confirmIntent re-reads the intent from Stripe when an API key is configured.
func (w *StripeWebhook) confirmIntent(ctx context.Context, intentID string) error {
	if w.intents == nil || strings.TrimSpace(intentID) == "" {
		return nil
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if w.account != "" {
		params.SetStripeAccount(w.account)
	}
	intent, err := w.intents.Get(intentID, params)
	if err != nil {
		return fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%w: intent %s is %s", ErrIgnoredEvent, intent.ID, intent.Status)
	}
	return nil
}
