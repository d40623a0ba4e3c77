package handlers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
	"github.com/spiritcandles/fulfillment/internal/platform/pagination"
	"github.com/spiritcandles/fulfillment/internal/repositories"
	"github.com/spiritcandles/fulfillment/internal/services"
)

const (
	defaultAdminPageSize = 50
	maxAdminPageSize     = 200
)

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type moneyPayload struct {
	PLN     int64  `json:"pln"`
	EUR     int64  `json:"eur"`
	Display string `json:"display"`
}

type financialsPayload struct {
	Total        moneyPayload  `json:"total"`
	ShippingCost moneyPayload  `json:"shipping_cost"`
	Discount     *moneyPayload `json:"discount,omitempty"`
	CouponCode   string        `json:"coupon_code,omitempty"`
}

type addressPayload struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type shipmentPayload struct {
	Address            addressPayload `json:"address"`
	CarrierID          string         `json:"carrier_id,omitempty"`
	CarrierName        string         `json:"carrier_name,omitempty"`
	ServiceID          string         `json:"service_id,omitempty"`
	ExternalShipmentID string         `json:"external_shipment_id,omitempty"`
	TrackingNumber     string         `json:"tracking_number,omitempty"`
	TrackingURL        string         `json:"tracking_url,omitempty"`
	HasLabel           bool           `json:"has_label"`
	CreatedAt          string         `json:"created_at,omitempty"`
	DeliveredAt        string         `json:"delivered_at,omitempty"`
}

type orderFlagsPayload struct {
	AdminSeen        bool `json:"admin_seen"`
	ExcludeFromStats bool `json:"exclude_from_stats"`
	Trashed          bool `json:"trashed"`
}

type orderItemPayload struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Name      string       `json:"name"`
	Quantity  int          `json:"quantity"`
	UnitPrice moneyPayload `json:"unit_price"`
	Total     moneyPayload `json:"total"`
}

type orderPayload struct {
	ID            string             `json:"id"`
	OrderNumber   string             `json:"order_number"`
	UserID        string             `json:"user_id,omitempty"`
	GuestEmail    string             `json:"guest_email,omitempty"`
	Locale        string             `json:"locale,omitempty"`
	Status        string             `json:"status"`
	ShipmentStage string             `json:"shipment_stage"`
	Financials    financialsPayload  `json:"financials"`
	Shipment      shipmentPayload    `json:"shipment"`
	Flags         orderFlagsPayload  `json:"flags"`
	Items         []orderItemPayload `json:"items,omitempty"`
	CancelReason  *string            `json:"cancel_reason,omitempty"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at,omitempty"`
	PaidAt        string             `json:"paid_at,omitempty"`
	CompletedAt   string             `json:"completed_at,omitempty"`
	CancelledAt   string             `json:"cancelled_at,omitempty"`
	DeletedAt     string             `json:"deleted_at,omitempty"`
}

type createShipmentRequest struct {
	ServiceID  string             `json:"service_id"`
	WeightKg   *decimal.Decimal   `json:"weight_kg"`
	Dimensions *dimensionsPayload `json:"dimensions"`
}

type dimensionsPayload struct {
	LengthCm int `json:"length_cm"`
	WidthCm  int `json:"width_cm"`
	HeightCm int `json:"height_cm"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type statsExclusionRequest struct {
	Excluded *bool `json:"excluded"`
}

type syncTrackingResponse struct {
	Order   orderPayload `json:"order"`
	Changed bool         `json:"changed"`
}

type labelLinkResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	page, err := pagination.Parse(query, pagination.Options{DefaultPageSize: defaultAdminPageSize, MaxPageSize: maxAdminPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Pagination: domain.Pagination{PageSize: page.PageSize, PageToken: page.PageToken},
	}
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status "+raw, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}
	for _, raw := range parseFilterValues(query["stage"]) {
		stage := domain.ShipmentStage(raw)
		if !stage.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown shipment stage "+raw, http.StatusBadRequest))
			return
		}
		filter.Stages = append(filter.Stages, stage)
	}
	switch trashed := strings.ToLower(strings.TrimSpace(query.Get("trashed"))); trashed {
	case "", "false", "active":
		filter.Trash = repositories.TrashFilterActive
	case "true", "only", "trashed":
		filter.Trash = repositories.TrashFilterOnly
	case "all":
		filter.Trash = repositories.TrashFilterAll
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "trashed must be true, false or all", http.StatusBadRequest))
		return
	}
	unseen, err := parseBoolParam(query.Get("unseen"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unseen must be a boolean", http.StatusBadRequest))
		return
	}
	filter.UnseenOnly = unseen

	result, err := h.fulfillment.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.fulfillment.GetOrder(ctx, orderIDParam(r))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.fulfillment.MarkCompleted(ctx, orderIDParam(r))
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) createShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createShipmentRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	cmd := services.CreateShipmentCommand{
		OrderID:   orderIDParam(r),
		ServiceID: strings.TrimSpace(req.ServiceID),
		WeightKg:  req.WeightKg,
	}
	if req.Dimensions != nil {
		cmd.Dimensions = &services.ParcelDimensions{
			LengthCm: req.Dimensions.LengthCm,
			WidthCm:  req.Dimensions.WidthCm,
			HeightCm: req.Dimensions.HeightCm,
		}
	}
	order, err := h.fulfillment.CreateShipment(ctx, cmd)
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) syncTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, changed, err := h.fulfillment.SyncTracking(ctx, orderIDParam(r))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, syncTrackingResponse{Order: buildOrderPayload(order), Changed: changed})
}

func (h *AdminHandlers) markSeen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.fulfillment.SetAdminSeen(ctx, orderIDParam(r))
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) excludeFromStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req statsExclusionRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	excluded := true
	if req.Excluded != nil {
		excluded = *req.Excluded
	}
	order, err := h.fulfillment.SetStatsExclusion(ctx, orderIDParam(r), excluded)
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cancelOrderRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	order, err := h.fulfillment.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderIDParam(r),
		Reason:  req.Reason,
	})
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) resetShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.fulfillment.ResetShipment(ctx, orderIDParam(r))
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) trashOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireTrash(w, r) {
		return
	}
	order, err := h.trash.SoftDelete(ctx, orderIDParam(r))
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) restoreOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireTrash(w, r) {
		return
	}
	order, err := h.trash.Restore(ctx, orderIDParam(r))
	h.writeOrder(w, r, order, err)
}

func (h *AdminHandlers) purgeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireTrash(w, r) {
		return
	}
	if err := h.trash.Purge(ctx, orderIDParam(r)); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) labelURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, err := h.fulfillment.LabelDownloadURL(ctx, orderIDParam(r))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, labelLinkResponse{URL: link.URL, ExpiresAt: formatTime(link.ExpiresAt)})
}

func (h *AdminHandlers) requireTrash(w http.ResponseWriter, r *http.Request) bool {
	if h.trash != nil {
		return true
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("trash_unavailable", "trash service unavailable", http.StatusServiceUnavailable))
	return false
}

func (h *AdminHandlers) writeOrder(w http.ResponseWriter, r *http.Request, order services.Order, err error) {
	if err != nil {
		writeOrderError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func buildMoneyPayload(m domain.Money) moneyPayload {
	return moneyPayload{PLN: m.PLN, EUR: m.EUR, Display: m.Format(domain.CurrencyPLN)}
}

func buildAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Name:       a.Name,
		Street:     a.Street,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      a.Email,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		GuestEmail:    order.GuestEmail,
		Locale:        order.Locale,
		Status:        string(order.Status),
		ShipmentStage: string(order.Stage),
		Financials: financialsPayload{
			Total:        buildMoneyPayload(order.Financials.Total),
			ShippingCost: buildMoneyPayload(order.Financials.ShippingCost),
			CouponCode:   order.Financials.CouponCode,
		},
		Shipment: shipmentPayload{
			Address:            buildAddressPayload(order.Shipment.Address),
			CarrierID:          order.Shipment.CarrierID,
			CarrierName:        order.Shipment.CarrierName,
			ServiceID:          order.Shipment.ServiceID,
			ExternalShipmentID: order.Shipment.ExternalShipmentID,
			TrackingNumber:     order.Shipment.TrackingNumber,
			TrackingURL:        order.Shipment.TrackingURL,
			HasLabel:           order.Shipment.LabelObject != "" || order.Shipment.LabelURL != "",
			CreatedAt:          formatTime(pointerTime(order.Shipment.CreatedAt)),
			DeliveredAt:        formatTime(pointerTime(order.Shipment.DeliveredAt)),
		},
		Flags: orderFlagsPayload{
			AdminSeen:        order.Flags.AdminSeen,
			ExcludeFromStats: order.Flags.ExcludeFromStats,
			Trashed:          order.IsTrashed(),
		},
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		PaidAt:       formatTime(pointerTime(order.PaidAt)),
		CompletedAt:  formatTime(pointerTime(order.CompletedAt)),
		CancelledAt:  formatTime(pointerTime(order.CancelledAt)),
		DeletedAt:    formatTime(pointerTime(order.DeletedAt)),
	}
	if order.Financials.Discount != nil {
		discount := buildMoneyPayload(*order.Financials.Discount)
		payload.Financials.Discount = &discount
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: buildMoneyPayload(item.UnitPrice),
			Total:     buildMoneyPayload(item.UnitPrice.Times(item.Quantity)),
		})
	}
	return payload
}
