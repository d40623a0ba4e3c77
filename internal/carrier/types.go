package carrier

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Parcel describes the package handed to the carrier.
type Parcel struct {
	LengthCm int
	WidthCm  int
	HeightCm int
	WeightKg decimal.Decimal
}

// Address is the receiver block of a shipment.
type Address struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// QuoteRequest asks the aggregator for available services and prices.
type QuoteRequest struct {
	Receiver Address
	Parcel   Parcel
}

// Rate is one service offered for a quote.
type Rate struct {
	ServiceID    string
	CarrierID    string
	CarrierName  string
	Price        decimal.Decimal
	Currency     string
	DeliveryDays int
}

// ShipmentRequest creates a shipment. Reference is shown on the label, usually the order number.
type ShipmentRequest struct {
	Reference string
	ServiceID string
	Receiver  Address
	Parcel    Parcel
	Contents  string
}

// ShipmentResult is returned when the aggregator accepts a shipment.
type ShipmentResult struct {
	ExternalID  string
	CarrierID   string
	CarrierName string
	LabelURL    string
}

// Tracking is the carrier-side view of an existing shipment.
type Tracking struct {
	ExternalID     string
	TrackingNumber string
	TrackingURL    string
	LabelURL       string
	CarrierName    string
	Status         string
	Delivered      bool
	DeliveredAt    *time.Time
}

type addressPayload struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country_code"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type parcelPayload struct {
	Length int         `json:"length"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
	Weight json.Number `json:"weight"`
}

type quotePayload struct {
	Receiver addressPayload  `json:"receiver"`
	Parcels  []parcelPayload `json:"parcels"`
}

type ratePayload struct {
	ServiceID    string          `json:"service_id"`
	CarrierID    string          `json:"carrier_id"`
	CarrierName  string          `json:"carrier_name"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	DeliveryDays int             `json:"delivery_days"`
}

type quoteResponse struct {
	Rates []ratePayload `json:"rates"`
}

type shipmentPayload struct {
	Reference string          `json:"reference,omitempty"`
	ServiceID string          `json:"service_id"`
	Receiver  addressPayload  `json:"receiver"`
	Parcels   []parcelPayload `json:"parcels"`
	Contents  string          `json:"contents,omitempty"`
}

type shipmentResponse struct {
	PackageID   string `json:"package_id"`
	CarrierID   string `json:"carrier_id"`
	CarrierName string `json:"carrier_name"`
	LabelURL    string `json:"label_url"`
}

type trackingResponse struct {
	PackageID      string     `json:"package_id"`
	TrackingNumber string     `json:"tracking_number"`
	TrackingURL    string     `json:"tracking_url"`
	LabelURL       string     `json:"label_url"`
	CarrierName    string     `json:"carrier_name"`
	Status         string     `json:"status"`
	DeliveredAt    *time.Time `json:"delivered_at"`
}

type errorResponse struct {
	Errors []Violation `json:"errors"`
}

const statusDelivered = "delivered"

func encodeAddress(a Address) addressPayload {
	return addressPayload{
		Name:       strings.TrimSpace(a.Name),
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
		Email:      strings.TrimSpace(a.Email),
	}
}

func encodeParcel(p Parcel) parcelPayload {
	return parcelPayload{
		Length: p.LengthCm,
		Width:  p.WidthCm,
		Height: p.HeightCm,
		Weight: json.Number(p.WeightKg.StringFixed(2)),
	}
}

func (r trackingResponse) toTracking() Tracking {
	status := strings.ToLower(strings.TrimSpace(r.Status))
	t := Tracking{
		ExternalID:     strings.TrimSpace(r.PackageID),
		TrackingNumber: strings.TrimSpace(r.TrackingNumber),
		TrackingURL:    strings.TrimSpace(r.TrackingURL),
		LabelURL:       strings.TrimSpace(r.LabelURL),
		CarrierName:    strings.TrimSpace(r.CarrierName),
		Status:         status,
		Delivered:      status == statusDelivered || r.DeliveredAt != nil,
	}
	if r.DeliveredAt != nil && !r.DeliveredAt.IsZero() {
		at := r.DeliveredAt.UTC()
		t.DeliveredAt = &at
	}
	return t
}
