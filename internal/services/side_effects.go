package services

import (
	"context"
	"strings"
	"time"

	"github.com/spiritcandles/fulfillment/internal/changes"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/notifications"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

type logFunc func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// recipient is the notification target captured from the profile, or from checkout data for guests.
type recipient struct {
	Email  string
	Locale string
}

func resolveRecipient(ctx context.Context, profiles repositories.ProfileRepository, order Order, logger logFunc) recipient {
	r := recipient{Locale: strings.TrimSpace(order.Locale)}
	if profiles != nil && strings.TrimSpace(order.UserID) != "" {
		profile, err := profiles.FindByID(ctx, order.UserID)
		switch {
		case err == nil:
			r.Email = strings.TrimSpace(profile.Email)
			if locale := strings.TrimSpace(profile.Locale); locale != "" {
				r.Locale = locale
			}
		default:
			logger(ctx, "order.recipient.lookup.failed", map[string]any{
				"orderID": order.ID,
				"userID":  order.UserID,
				"error":   err.Error(),
			})
		}
	}
	if r.Email == "" {
		r.Email = strings.TrimSpace(order.GuestEmail)
	}
	if r.Email == "" {
		r.Email = strings.TrimSpace(order.Shipment.Address.Email)
	}
	return r
}

func notificationFor(event string, order Order, to recipient) notifications.Notification {
	data := map[string]any{
		"status":        string(order.Status),
		"shipmentStage": string(order.Stage),
		"total":         order.Financials.Total.Format(domain.CurrencyPLN),
	}
	if order.Shipment.TrackingNumber != "" {
		data["trackingNumber"] = order.Shipment.TrackingNumber
	}
	if order.Shipment.TrackingURL != "" {
		data["trackingUrl"] = order.Shipment.TrackingURL
	}
	if order.Shipment.CarrierName != "" {
		data["carrierName"] = order.Shipment.CarrierName
	}
	if order.CancelReason != nil {
		data["cancelReason"] = *order.CancelReason
	}
	return notifications.Notification{
		Event:       event,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       to.Email,
		Locale:      to.Locale,
		Data:        data,
	}
}

func publishChange(ctx context.Context, publisher ChangePublisher, kind changes.Kind, order Order, fields []string, at time.Time) {
	if publisher == nil {
		return
	}
	publisher.Publish(ctx, changes.NewEvent(kind, order.ID, order.OrderNumber, fields, at))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
