package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := New()
	router := chi.NewRouter()
	router.Use(m.Middleware())
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
		require.Equal(t, http.StatusNotFound, rr.Code)
	}

	require.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/orders/{orderID}", "GET", "404")))
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.ObserveCarrierCall("create_shipment", "rejected", 120*time.Millisecond)
	m.BulkItem("complete", "succeeded")
	m.BulkItem("complete", "skipped")
	m.Notification("order-accepted", "sent")
	m.ChangeSink("kafka", "failed")
	m.ChangeDropped()
	m.RecordVerification(context.Background(), "oidc", false, "issuer_mismatch", time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.carrierCalls.WithLabelValues("create_shipment", "rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.bulkItems.WithLabelValues("complete", "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("order-accepted", "sent")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.changeSinks.WithLabelValues("kafka", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.changesDropped))
	require.Equal(t, 1.0, testutil.ToFloat64(m.tokenVerifyCalls.WithLabelValues("oidc", "rejected", "issuer_mismatch")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.BulkItem("soft-delete", "failed")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `fulfillment_bulk_items_total{action="soft-delete",outcome="failed"} 1`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.BulkItem("complete", "succeeded")
	m.ObserveCarrierCall("quote", "ok", time.Second)
	m.ChangeDropped()

	handler := m.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
}
