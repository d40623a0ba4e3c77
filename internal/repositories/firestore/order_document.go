package firestore

import (
	"strings"
	"time"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
)

type moneyDocument struct {
	PLN int64 `firestore:"pln"`
	EUR int64 `firestore:"eur"`
}

type financialsDocument struct {
	Total        moneyDocument  `firestore:"total"`
	ShippingCost moneyDocument  `firestore:"shippingCost"`
	Discount     *moneyDocument `firestore:"discount,omitempty"`
	CouponCode   string         `firestore:"couponCode,omitempty"`
}

type addressDocument struct {
	Name       string `firestore:"name"`
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
	Email      string `firestore:"email,omitempty"`
}

type shippingDocument struct {
	Address            addressDocument `firestore:"address"`
	CarrierID          string          `firestore:"carrierId,omitempty"`
	CarrierName        string          `firestore:"carrierName,omitempty"`
	ServiceID          string          `firestore:"serviceId,omitempty"`
	ExternalShipmentID string          `firestore:"externalShipmentId,omitempty"`
	TrackingNumber     string          `firestore:"trackingNumber,omitempty"`
	TrackingURL        string          `firestore:"trackingUrl,omitempty"`
	LabelURL           string          `firestore:"labelUrl,omitempty"`
	LabelObject        string          `firestore:"labelObject,omitempty"`
	CreatedAt          *time.Time      `firestore:"createdAt,omitempty"`
	DeliveredAt        *time.Time      `firestore:"deliveredAt,omitempty"`
}

// orderDocument mirrors orders/{orderID}. Trashed duplicates deletedAt so list queries can use an
// equality filter; deletedAt stays the source of truth.
type orderDocument struct {
	OrderNumber      string             `firestore:"orderNumber"`
	UserID           string             `firestore:"userId,omitempty"`
	GuestEmail       string             `firestore:"guestEmail,omitempty"`
	Locale           string             `firestore:"locale,omitempty"`
	Status           string             `firestore:"status"`
	ShipmentStage    string             `firestore:"shipmentStage"`
	Financials       financialsDocument `firestore:"financials"`
	Shipping         shippingDocument   `firestore:"shipping"`
	AdminSeen        bool               `firestore:"adminSeen"`
	ExcludeFromStats bool               `firestore:"excludeFromStats"`
	Trashed          bool               `firestore:"trashed"`
	CancelReason     *string            `firestore:"cancelReason,omitempty"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	UpdatedAt        time.Time          `firestore:"updatedAt"`
	PaidAt           *time.Time         `firestore:"paidAt,omitempty"`
	CompletedAt      *time.Time         `firestore:"completedAt,omitempty"`
	CancelledAt      *time.Time         `firestore:"cancelledAt,omitempty"`
	DeletedAt        *time.Time         `firestore:"deletedAt"`
}

type orderItemDocument struct {
	ProductID string        `firestore:"productId"`
	Name      string        `firestore:"name"`
	Quantity  int           `firestore:"quantity"`
	UnitPrice moneyDocument `firestore:"unitPrice"`
}

func encodeMoney(m domain.Money) moneyDocument {
	return moneyDocument{PLN: m.PLN, EUR: m.EUR}
}

func decodeMoney(doc moneyDocument) domain.Money {
	return domain.Money{PLN: doc.PLN, EUR: doc.EUR}
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		GuestEmail:  strings.TrimSpace(order.GuestEmail),
		Locale:      strings.TrimSpace(order.Locale),
		Status:      string(order.Status),
		Financials: financialsDocument{
			Total:        encodeMoney(order.Financials.Total),
			ShippingCost: encodeMoney(order.Financials.ShippingCost),
			CouponCode:   strings.TrimSpace(order.Financials.CouponCode),
		},
		Shipping: shippingDocument{
			Address: addressDocument{
				Name:       order.Shipment.Address.Name,
				Street:     order.Shipment.Address.Street,
				City:       order.Shipment.Address.City,
				PostalCode: order.Shipment.Address.PostalCode,
				Country:    order.Shipment.Address.Country,
				Phone:      order.Shipment.Address.Phone,
				Email:      order.Shipment.Address.Email,
			},
			CarrierID:          order.Shipment.CarrierID,
			CarrierName:        order.Shipment.CarrierName,
			ServiceID:          order.Shipment.ServiceID,
			ExternalShipmentID: order.Shipment.ExternalShipmentID,
			TrackingNumber:     order.Shipment.TrackingNumber,
			TrackingURL:        order.Shipment.TrackingURL,
			LabelURL:           order.Shipment.LabelURL,
			LabelObject:        order.Shipment.LabelObject,
			CreatedAt:          utcPointer(order.Shipment.CreatedAt),
			DeliveredAt:        utcPointer(order.Shipment.DeliveredAt),
		},
		AdminSeen:        order.Flags.AdminSeen,
		ExcludeFromStats: order.Flags.ExcludeFromStats,
		Trashed:          order.DeletedAt != nil,
		CancelReason:     order.CancelReason,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		PaidAt:           utcPointer(order.PaidAt),
		CompletedAt:      utcPointer(order.CompletedAt),
		CancelledAt:      utcPointer(order.CancelledAt),
		DeletedAt:        utcPointer(order.DeletedAt),
	}
	stage := order.Stage
	if !stage.Valid() {
		stage = domain.ShipmentStageNone
	}
	doc.ShipmentStage = string(stage)
	if order.Financials.Discount != nil {
		discount := encodeMoney(*order.Financials.Discount)
		doc.Financials.Discount = &discount
	}
	return doc
}

// decodeOrderDocument tolerates documents written by older checkout code: the folded "shipped"
// status reads as completed with at least a tracking stage.
func decodeOrderDocument(id string, doc orderDocument, createTime, updateTime time.Time) domain.Order {
	status, ok := domain.ParsePaymentStatus(doc.Status)
	if !ok {
		status = domain.PaymentStatusPending
	}
	stage := domain.ParseShipmentStage(doc.ShipmentStage)
	if domain.IsLegacyShipped(doc.Status) && stage.Before(domain.ShipmentStageTrackingAssigned) {
		stage = domain.ShipmentStageTrackingAssigned
	}

	order := domain.Order{
		ID:          strings.TrimSpace(id),
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		GuestEmail:  doc.GuestEmail,
		Locale:      doc.Locale,
		Status:      status,
		Stage:       stage,
		Financials: domain.Financials{
			Total:        decodeMoney(doc.Financials.Total),
			ShippingCost: decodeMoney(doc.Financials.ShippingCost),
			CouponCode:   doc.Financials.CouponCode,
		},
		Shipment: domain.Shipment{
			Address: domain.Address{
				Name:       doc.Shipping.Address.Name,
				Street:     doc.Shipping.Address.Street,
				City:       doc.Shipping.Address.City,
				PostalCode: doc.Shipping.Address.PostalCode,
				Country:    doc.Shipping.Address.Country,
				Phone:      doc.Shipping.Address.Phone,
				Email:      doc.Shipping.Address.Email,
			},
			CarrierID:          doc.Shipping.CarrierID,
			CarrierName:        doc.Shipping.CarrierName,
			ServiceID:          doc.Shipping.ServiceID,
			ExternalShipmentID: doc.Shipping.ExternalShipmentID,
			TrackingNumber:     doc.Shipping.TrackingNumber,
			TrackingURL:        doc.Shipping.TrackingURL,
			LabelURL:           doc.Shipping.LabelURL,
			LabelObject:        doc.Shipping.LabelObject,
			CreatedAt:          utcPointer(doc.Shipping.CreatedAt),
			DeliveredAt:        utcPointer(doc.Shipping.DeliveredAt),
		},
		Flags: domain.OrderFlags{
			AdminSeen:        doc.AdminSeen,
			ExcludeFromStats: doc.ExcludeFromStats,
		},
		CancelReason: doc.CancelReason,
		CreatedAt:    chooseTime(doc.CreatedAt, createTime),
		UpdatedAt:    chooseTime(doc.UpdatedAt, updateTime),
		PaidAt:       utcPointer(doc.PaidAt),
		CompletedAt:  utcPointer(doc.CompletedAt),
		CancelledAt:  utcPointer(doc.CancelledAt),
		DeletedAt:    utcPointer(doc.DeletedAt),
	}
	if doc.Financials.Discount != nil {
		discount := decodeMoney(*doc.Financials.Discount)
		order.Financials.Discount = &discount
	}
	return order
}

func encodeOrderItemDocument(item domain.OrderItem) orderItemDocument {
	return orderItemDocument{
		ProductID: strings.TrimSpace(item.ProductID),
		Name:      item.Name,
		Quantity:  item.Quantity,
		UnitPrice: encodeMoney(item.UnitPrice),
	}
}

func decodeOrderItemDocument(orderID, id string, doc orderItemDocument) domain.OrderItem {
	return domain.OrderItem{
		ID:        id,
		OrderID:   orderID,
		ProductID: doc.ProductID,
		Name:      doc.Name,
		Quantity:  doc.Quantity,
		UnitPrice: decodeMoney(doc.UnitPrice),
	}
}

func utcPointer(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.UTC()
	return &value
}

func chooseTime(primary, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	return fallback.UTC()
}

// statusQueryValues expands a status filter to the stored values, including the legacy folded value.
func statusQueryValues(statuses []domain.PaymentStatus) []string {
	seen := make(map[string]struct{}, len(statuses)+1)
	values := make([]string, 0, len(statuses)+1)
	add := func(value string) {
		if _, ok := seen[value]; ok {
			return
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	for _, status := range statuses {
		if status == "" {
			continue
		}
		add(string(status))
		if status == domain.PaymentStatusCompleted {
			add("shipped")
		}
	}
	return values
}
