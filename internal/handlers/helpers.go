package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spiritcandles/fulfillment/internal/platform/auth"
	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
)

const maxRequestBodySize = 64 * 1024

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

// parseTimeParam accepts RFC3339 timestamps or plain dates, read as UTC midnight.
func parseTimeParam(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.DateOnly, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be an RFC3339 timestamp or YYYY-MM-DD date")
}

func parseBoolParam(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %q", value)
}

func orderIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "orderID"))
}

// decodeRequest writes the error response itself and reports whether decoding succeeded.
func decodeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	err := httpx.DecodeJSON(r, maxRequestBodySize, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
	return false
}

func operatorKey(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		return strings.TrimSpace(identity.UID)
	}
	return ""
}
