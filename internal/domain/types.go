package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// PaymentStatus is the administrative status axis of an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the order was placed but payment has not been confirmed.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the payment webhook confirmed capture.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusCompleted indicates an operator confirmed the order as fulfillable.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusCancelled is terminal.
	PaymentStatusCancelled PaymentStatus = "cancelled"

	// legacyStatusShipped was stored by older writers that folded shipment progress into status.
	legacyStatusShipped = "shipped"
)

// ParsePaymentStatus normalises stored status values. The legacy "shipped" value is read as completed.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PaymentStatusPending):
		return PaymentStatusPending, true
	case string(PaymentStatusPaid):
		return PaymentStatusPaid, true
	case string(PaymentStatusCompleted), legacyStatusShipped:
		return PaymentStatusCompleted, true
	case string(PaymentStatusCancelled), "canceled":
		return PaymentStatusCancelled, true
	}
	return "", false
}

// IsLegacyShipped reports whether the raw stored status used the folded "shipped" value.
func IsLegacyShipped(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), legacyStatusShipped)
}

// ShipmentStage is the physical fulfillment axis, independent of PaymentStatus.
type ShipmentStage string

const (
	// ShipmentStageNone means no carrier shipment exists.
	ShipmentStageNone ShipmentStage = "none"
	// ShipmentStageCreated means the aggregator accepted the shipment.
	ShipmentStageCreated ShipmentStage = "shipment_created"
	// ShipmentStageTrackingAssigned means the carrier issued a tracking number.
	ShipmentStageTrackingAssigned ShipmentStage = "tracking_assigned"
	// ShipmentStageDelivered means the carrier reported delivery.
	ShipmentStageDelivered ShipmentStage = "delivered"
)

var shipmentStageRank = map[ShipmentStage]int{
	ShipmentStageNone:             0,
	ShipmentStageCreated:          1,
	ShipmentStageTrackingAssigned: 2,
	ShipmentStageDelivered:        3,
}

// ParseShipmentStage normalises stored stage values; unknown or empty values map to none.
func ParseShipmentStage(raw string) ShipmentStage {
	stage := ShipmentStage(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := shipmentStageRank[stage]; ok {
		return stage
	}
	return ShipmentStageNone
}

// Valid reports whether the stage is one of the known values.
func (s ShipmentStage) Valid() bool {
	_, ok := shipmentStageRank[s]
	return ok
}

// Before reports whether s precedes other on the shipment axis.
func (s ShipmentStage) Before(other ShipmentStage) bool {
	return shipmentStageRank[s] < shipmentStageRank[other]
}

// Address is the structured ship-to address captured at checkout.
type Address struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// Financials is the checkout-time snapshot. It is never recomputed from live prices.
type Financials struct {
	Total        Money
	ShippingCost Money
	Discount     *Money
	CouponCode   string
}

// Shipment holds carrier-side fields attached to an order.
type Shipment struct {
	Address            Address
	CarrierID          string
	CarrierName        string
	ServiceID          string
	ExternalShipmentID string
	TrackingNumber     string
	TrackingURL        string
	LabelURL           string
	LabelObject        string
	CreatedAt          *time.Time
	DeliveredAt        *time.Time
}

// HasExternalShipment reports whether the aggregator already accepted a shipment for the order.
func (s Shipment) HasExternalShipment() bool {
	return strings.TrimSpace(s.ExternalShipmentID) != ""
}

// OrderFlags groups the lifecycle flags that are orthogonal to both status axes.
type OrderFlags struct {
	AdminSeen        bool
	ExcludeFromStats bool
}

// Order is the aggregate root of the fulfillment engine.
type Order struct {
	ID           string
	OrderNumber  string
	UserID       string
	GuestEmail   string
	Locale       string
	Status       PaymentStatus
	Stage        ShipmentStage
	Financials   Financials
	Shipment     Shipment
	Flags        OrderFlags
	Items        []OrderItem
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaidAt       *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	DeletedAt    *time.Time
}

// IsTrashed reports whether the order is soft-deleted.
func (o Order) IsTrashed() bool {
	return o.DeletedAt != nil
}

// CountsTowardStats reports whether analytics rollups may include the order.
func (o Order) CountsTowardStats() bool {
	return !o.Flags.ExcludeFromStats && o.DeletedAt == nil
}

// OrderItem is a line of an order. Price fields are immutable snapshots.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Name      string
	Quantity  int
	UnitPrice Money
}

// Profile carries the contact data used for customer notifications.
type Profile struct {
	ID     string
	Email  string
	Locale string
}
