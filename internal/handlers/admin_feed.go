package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
)

type unseenCountResponse struct {
	Count int64 `json:"count"`
}

func (h *AdminHandlers) unseenCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := h.fulfillment.CountUnseen(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, unseenCountResponse{Count: count})
}

// streamChanges relays order change events as server-sent events until the client disconnects.
func (h *AdminHandlers) streamChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.feed == nil {
		httpx.WriteError(ctx, w, httpx.NewError("change_feed_unavailable", "change feed unavailable", http.StatusServiceUnavailable))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "streaming unsupported", http.StatusInternalServerError))
		return
	}

	events, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "retry: 5000\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
