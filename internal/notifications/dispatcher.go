// Package notifications hands customer email triggers to the mail worker.
package notifications

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/spiritcandles/fulfillment/internal/platform/jobs"
	"github.com/spiritcandles/fulfillment/internal/platform/requestctx"
)

// Event names understood by the mail worker.
const (
	EventOrderAccepted  = "order-accepted"
	EventOrderCancelled = "order-cancelled"
	EventStatusUpdate   = "status-update"
)

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// Notification is one customer-facing message trigger. Data carries template variables.
type Notification struct {
	Event       string
	OrderID     string
	OrderNumber string
	Email       string
	Locale      string
	Data        map[string]any
}

// Publisher delivers a message to the transport.
type Publisher interface {
	Publish(ctx context.Context, msg jobs.Message) (string, error)
}

// Recorder counts dispatch outcomes.
type Recorder interface {
	Notification(event, outcome string)
}

type message struct {
	Event       string         `json:"event"`
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber,omitempty"`
	Email       string         `json:"email"`
	Locale      string         `json:"locale"`
	Data        map[string]any `json:"data,omitempty"`
	EmittedAt   time.Time      `json:"emittedAt"`
}

// Deps enumerates dispatcher collaborators. A nil Publisher turns the dispatcher into a logger.
type Deps struct {
	Publisher     Publisher
	Recorder      Recorder
	Logger        *zap.Logger
	DefaultLocale string
	Clock         func() time.Time
}

// Dispatcher emits notifications without ever failing the caller.
type Dispatcher struct {
	publisher     Publisher
	recorder      Recorder
	logger        *zap.Logger
	defaultLocale string
	now           func() time.Time
}

// NewDispatcher builds a Dispatcher. An unparsable default locale falls back to Polish.
func NewDispatcher(deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		publisher:     deps.Publisher,
		recorder:      deps.Recorder,
		logger:        logger,
		defaultLocale: CanonicalLocale(deps.DefaultLocale, "pl"),
		now:           func() time.Time { return clock().UTC() },
	}
}

// Dispatch publishes n. Missing recipients and transport failures are logged and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	if d == nil {
		return
	}
	logger := d.logger
	if requestctx.HasLogger(ctx) {
		logger = requestctx.Logger(ctx)
	}
	logger = logger.With(zap.String("event", n.Event), zap.String("orderId", n.OrderID))

	email := strings.TrimSpace(n.Email)
	if email == "" {
		logger.Info("notification skipped: no recipient")
		d.record(n.Event, outcomeSkipped)
		return
	}
	if d.publisher == nil {
		logger.Info("notification skipped: transport not configured")
		d.record(n.Event, outcomeSkipped)
		return
	}

	locale := CanonicalLocale(n.Locale, d.defaultLocale)
	attrs := map[string]string{}
	jobs.SetAttr(attrs, "event", n.Event)
	jobs.SetAttr(attrs, "locale", locale)

	id, err := d.publisher.Publish(ctx, jobs.Message{
		Payload: message{
			Event:       n.Event,
			OrderID:     n.OrderID,
			OrderNumber: n.OrderNumber,
			Email:       email,
			Locale:      locale,
			Data:        n.Data,
			EmittedAt:   d.now(),
		},
		Attributes: attrs,
	})
	if err != nil {
		logger.Warn("notification publish failed", zap.Error(err))
		d.record(n.Event, outcomeFailed)
		return
	}
	logger.Debug("notification published", zap.String("messageId", id), zap.String("locale", locale))
	d.record(n.Event, outcomeSent)
}

func (d *Dispatcher) record(event, outcome string) {
	if d.recorder != nil {
		d.recorder.Notification(event, outcome)
	}
}

// CanonicalLocale reduces raw to its BCP-47 base language ("pl-PL" and "pl_pl" become "pl").
// Empty or unknown values return fallback.
func CanonicalLocale(raw, fallback string) string {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	if raw != "" {
		if tag, err := language.Parse(raw); err == nil {
			if base, confidence := tag.Base(); confidence != language.No && base.String() != "und" {
				return base.String()
			}
		}
	}
	if fallback == "" {
		return "pl"
	}
	return fallback
}
