package services

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
)

// Transition guards are pure: they inspect an order and report whether an operation may proceed.
// Callers run them once before any external call and again inside the persisting transaction.

func guardApplyPayment(o Order) error {
	if o.Status != domain.PaymentStatusPending {
		return invalidState("payment requires status pending, order is %s", o.Status)
	}
	return nil
}

func guardMarkCompleted(o Order) error {
	switch o.Status {
	case domain.PaymentStatusCompleted:
		return invalidState("order is already completed")
	case domain.PaymentStatusCancelled:
		return invalidState("order is cancelled")
	}
	return nil
}

func guardCreateShipment(o Order) error {
	if o.IsTrashed() {
		return invalidState("order is in trash")
	}
	if o.Status != domain.PaymentStatusCompleted {
		return invalidState("shipment requires status completed, order is %s", o.Status)
	}
	if o.Shipment.HasExternalShipment() {
		return invalidState("shipment %s already exists", o.Shipment.ExternalShipmentID)
	}
	return nil
}

func guardSyncTracking(o Order) error {
	if !o.Shipment.HasExternalShipment() {
		return invalidState("order has no carrier shipment")
	}
	return nil
}

func guardCancel(o Order) error {
	if o.Status == domain.PaymentStatusCancelled {
		return invalidState("order is already cancelled")
	}
	return nil
}

func guardResetShipment(o Order) error {
	if o.Stage == domain.ShipmentStageDelivered {
		return invalidState("delivered shipments cannot be reset")
	}
	if !o.Shipment.HasExternalShipment() && o.Stage == domain.ShipmentStageNone {
		return invalidState("order has no shipment to reset")
	}
	return nil
}

func guardSoftDelete(o Order) error {
	if o.IsTrashed() {
		return invalidState("order is already in trash")
	}
	return nil
}

func guardRestore(o Order) error {
	if !o.IsTrashed() {
		return invalidState("order is not in trash")
	}
	return nil
}

func guardPurge(o Order) error {
	if !o.IsTrashed() {
		return invalidState("only orders in trash can be purged")
	}
	return nil
}

// trackingChange describes what applyTracking modified.
type trackingChange struct {
	Fields         []string
	FirstTracking  bool
	FirstDelivered bool
}

func (c trackingChange) changed() bool { return len(c.Fields) > 0 }

// applyTracking merges carrier tracking into the order. Empty carrier values never clear stored
// ones and the stage only moves forward.
func applyTracking(o *Order, t carrier.Tracking, now time.Time) trackingChange {
	var change trackingChange
	set := func(field string, dst *string, value string) {
		value = strings.TrimSpace(value)
		if value == "" || value == *dst {
			return
		}
		*dst = value
		change.Fields = append(change.Fields, field)
	}

	hadTracking := strings.TrimSpace(o.Shipment.TrackingNumber) != ""
	set("trackingNumber", &o.Shipment.TrackingNumber, t.TrackingNumber)
	set("trackingUrl", &o.Shipment.TrackingURL, t.TrackingURL)
	set("labelUrl", &o.Shipment.LabelURL, t.LabelURL)
	set("carrierName", &o.Shipment.CarrierName, t.CarrierName)

	if !hadTracking && o.Shipment.TrackingNumber != "" {
		change.FirstTracking = true
		if o.Stage.Before(domain.ShipmentStageTrackingAssigned) {
			o.Stage = domain.ShipmentStageTrackingAssigned
			change.Fields = append(change.Fields, "shipmentStage")
		}
	}

	if t.Delivered && o.Stage.Before(domain.ShipmentStageDelivered) {
		at := now
		if t.DeliveredAt != nil {
			at = t.DeliveredAt.UTC()
		}
		o.Stage = domain.ShipmentStageDelivered
		o.Shipment.DeliveredAt = &at
		change.FirstDelivered = true
		change.Fields = append(change.Fields, "shipmentStage", "deliveredAt")
	}
	return change
}

// clearShipment removes carrier fields for an explicit admin reset. The ship-to address is kept.
func clearShipment(o *Order) {
	o.Shipment = domain.Shipment{Address: o.Shipment.Address}
	o.Stage = domain.ShipmentStageNone
}

// parcelWeight is max(minimum, sum of quantity x unit weight). Products without a readable weight
// use defaultUnit.
func parcelWeight(items []OrderItem, unitWeights map[string]string, defaultUnit, minimum decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		unit := defaultUnit
		if raw, ok := unitWeights[item.ProductID]; ok {
			if parsed, err := decimal.NewFromString(raw); err == nil && parsed.IsPositive() {
				unit = parsed
			}
		}
		total = total.Add(unit.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return floorWeight(total, minimum)
}

func floorWeight(weight, minimum decimal.Decimal) decimal.Decimal {
	if weight.LessThan(minimum) {
		return minimum
	}
	return weight
}

func productIDs(items []OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id := strings.TrimSpace(item.ProductID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func toCarrierAddress(a Address) carrier.Address {
	return carrier.Address{
		Name:       a.Name,
		Street:     a.Street,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      a.Email,
	}
}
