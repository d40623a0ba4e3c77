package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
	"github.com/spiritcandles/fulfillment/internal/platform/storage"
	"github.com/spiritcandles/fulfillment/internal/services"
)

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		// The client went away; nothing useful can be written.
		return
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShipmentRejected):
		httpx.WriteError(ctx, w, shipmentRejectedError(err))
	case errors.Is(err, services.ErrCarrierUnavailable), errors.Is(err, context.DeadlineExceeded):
		status := http.StatusBadGateway
		if errors.Is(err, carrier.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		httpx.WriteError(ctx, w, httpx.NewError("carrier_unavailable", "shipping carrier is unavailable; retry later", status))
	case errors.Is(err, storage.ErrPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "operator role required", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// shipmentRejectedError lists the carrier's violations, each qualified by its field path, so
// operators can fix the order data. "violations" carries the same entries split into fields.
func shipmentRejectedError(err error) httpx.Error {
	messages := []string{}
	violations := []carrier.Violation{}
	var validation *carrier.ValidationError
	if errors.As(err, &validation) {
		messages = validation.Messages()
		violations = append(violations, validation.Violations...)
	}
	return httpx.NewError("shipment_rejected", "carrier rejected the shipment", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"validation_errors": messages, "violations": violations})
}
