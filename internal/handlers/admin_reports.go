package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
	"github.com/spiritcandles/fulfillment/internal/services"
)

type bulkRequest struct {
	Action   string   `json:"action"`
	OrderIDs []string `json:"order_ids"`
}

type bulkResultPayload struct {
	OrderID string `json:"order_id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type bulkResponse struct {
	Succeeded int                 `json:"succeeded"`
	Attempted int                 `json:"attempted"`
	Results   []bulkResultPayload `json:"results"`
}

type statsResponse struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Orders    int            `json:"orders"`
	Excluded  int            `json:"excluded"`
	Revenue   moneyPayload   `json:"revenue"`
	Shipping  moneyPayload   `json:"shipping"`
	Discounts moneyPayload   `json:"discounts"`
	ByStatus  map[string]int `json:"by_status"`
}

type quoteRequest struct {
	OrderID    string             `json:"order_id"`
	Address    *addressPayload    `json:"address"`
	WeightKg   *decimal.Decimal   `json:"weight_kg"`
	Dimensions *dimensionsPayload `json:"dimensions"`
}

type ratePayload struct {
	ServiceID    string `json:"service_id"`
	CarrierID    string `json:"carrier_id,omitempty"`
	CarrierName  string `json:"carrier_name,omitempty"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	DeliveryDays int    `json:"delivery_days,omitempty"`
}

type quoteResponse struct {
	Rates []ratePayload `json:"rates"`
}

func (h *AdminHandlers) applyBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bulk == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bulk_unavailable", "bulk service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req bulkRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	summary, err := h.bulk.Apply(ctx, services.BulkCommand{
		Action:   services.BulkAction(strings.ToLower(strings.TrimSpace(req.Action))),
		OrderIDs: req.OrderIDs,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := bulkResponse{
		Succeeded: summary.Succeeded,
		Attempted: summary.Attempted,
		Results:   make([]bulkResultPayload, 0, len(summary.Results)),
	}
	for _, result := range summary.Results {
		entry := bulkResultPayload{OrderID: result.OrderID, Outcome: "succeeded"}
		switch {
		case result.Skipped:
			entry.Outcome = "skipped"
		case result.Err != nil:
			entry.Outcome = "failed"
		}
		if result.Err != nil {
			entry.Error = result.Err.Error()
		}
		resp.Results = append(resp.Results, entry)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) summarizeStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_unavailable", "stats service unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	from, err := parseTimeParam(query.Get("from"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from "+err.Error(), http.StatusBadRequest))
		return
	}
	to, err := parseTimeParam(query.Get("to"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to "+err.Error(), http.StatusBadRequest))
		return
	}

	summary, err := h.stats.Summarize(ctx, from, to)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	byStatus := make(map[string]int, len(summary.ByStatus))
	for status, count := range summary.ByStatus {
		byStatus[string(status)] = count
	}
	writeJSONResponse(w, http.StatusOK, statsResponse{
		From:      formatTime(summary.From),
		To:        formatTime(summary.To),
		Orders:    summary.Orders,
		Excluded:  summary.Excluded,
		Revenue:   buildMoneyPayload(summary.Revenue),
		Shipping:  buildMoneyPayload(summary.Shipping),
		Discounts: buildMoneyPayload(summary.Discounts),
		ByStatus:  byStatus,
	})
}

func (h *AdminHandlers) quoteShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quoteLimit != nil && !h.quoteLimit.Allow(operatorKey(ctx)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many quote requests; retry shortly", http.StatusTooManyRequests))
		return
	}
	var req quoteRequest
	if !decodeRequest(ctx, w, r, &req) {
		return
	}
	cmd := services.ShippingQuoteCommand{
		OrderID:  strings.TrimSpace(req.OrderID),
		WeightKg: req.WeightKg,
	}
	if req.Address != nil {
		cmd.Address = domain.Address{
			Name:       req.Address.Name,
			Street:     req.Address.Street,
			City:       req.Address.City,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
			Phone:      req.Address.Phone,
			Email:      req.Address.Email,
		}
	}
	if req.Dimensions != nil {
		cmd.Dimensions = &services.ParcelDimensions{
			LengthCm: req.Dimensions.LengthCm,
			WidthCm:  req.Dimensions.WidthCm,
			HeightCm: req.Dimensions.HeightCm,
		}
	}
	if cmd.OrderID == "" && req.Address == nil {
		writeOrderError(ctx, w, errors.Join(services.ErrOrderInvalidInput, errors.New("order_id or address is required")))
		return
	}

	rates, err := h.fulfillment.QuoteShipping(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	sort.SliceStable(rates, func(i, j int) bool { return rates[i].Price.LessThan(rates[j].Price) })
	resp := quoteResponse{Rates: make([]ratePayload, 0, len(rates))}
	for _, rate := range rates {
		resp.Rates = append(resp.Rates, ratePayload{
			ServiceID:    rate.ServiceID,
			CarrierID:    rate.CarrierID,
			CarrierName:  rate.CarrierName,
			Price:        rate.Price.StringFixed(2),
			Currency:     rate.Currency,
			DeliveryDays: rate.DeliveryDays,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
