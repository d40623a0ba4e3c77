package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/services"
)

// InternalHandlers serves service-to-service endpoints guarded by OIDC.
type InternalHandlers struct {
	fulfillment services.FulfillmentService
	syncBatch   int
}

// NewInternalHandlers constructs the internal handlers. syncBatch bounds one tracking poll.
func NewInternalHandlers(fulfillment services.FulfillmentService, syncBatch int) *InternalHandlers {
	return &InternalHandlers{fulfillment: fulfillment, syncBatch: syncBatch}
}

type internalMoney struct {
	PLN int64 `json:"pln"`
	EUR int64 `json:"eur"`
}

func (m internalMoney) toDomain() domain.Money {
	return domain.Money{PLN: m.PLN, EUR: m.EUR}
}

type createOrderItemRequest struct {
	ProductID string        `json:"product_id"`
	Name      string        `json:"name"`
	Quantity  int           `json:"quantity"`
	UnitPrice internalMoney `json:"unit_price"`
}

type createOrderRequest struct {
	OrderID      string                   `json:"order_id"`
	UserID       string                   `json:"user_id"`
	GuestEmail   string                   `json:"guest_email"`
	Locale       string                   `json:"locale"`
	Total        internalMoney            `json:"total"`
	ShippingCost internalMoney            `json:"shipping_cost"`
	Discount     *internalMoney           `json:"discount"`
	CouponCode   string                   `json:"coupon_code"`
	Address      addressPayload           `json:"address"`
	Items        []createOrderItemRequest `json:"items"`
}

type trackingSyncRequest struct {
	Limit int `json:"limit"`
}

type trackingSyncResponse struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrder)
	r.Post("/tracking:sync", h.syncTracking)
}

func (h *InternalHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	cmd := services.CreateOrderCommand{
		OrderID:    strings.TrimSpace(req.OrderID),
		UserID:     strings.TrimSpace(req.UserID),
		GuestEmail: strings.TrimSpace(req.GuestEmail),
		Locale:     strings.TrimSpace(req.Locale),
		Financials: domain.Financials{
			Total:        req.Total.toDomain(),
			ShippingCost: req.ShippingCost.toDomain(),
			CouponCode:   strings.TrimSpace(req.CouponCode),
		},
		Address: domain.Address{
			Name:       req.Address.Name,
			Street:     req.Address.Street,
			City:       req.Address.City,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
			Phone:      req.Address.Phone,
			Email:      req.Address.Email,
		},
		Items: make([]services.CreateOrderItem, 0, len(req.Items)),
	}
	if req.Discount != nil {
		discount := req.Discount.toDomain()
		cmd.Financials.Discount = &discount
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.toDomain(),
		})
	}

	order, err := h.fulfillment.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) syncTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req trackingSyncRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	limit := h.syncBatch
	if req.Limit > 0 {
		limit = req.Limit
	}
	summary, err := h.fulfillment.SyncAwaitingTracking(ctx, limit)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, trackingSyncResponse{
		Checked: summary.Checked,
		Updated: summary.Updated,
		Failed:  summary.Failed,
	})
}
