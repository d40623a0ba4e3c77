package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
)

type countingBulkRecorder map[string]int

func (c countingBulkRecorder) BulkItem(action, outcome string) {
	c[action+"/"+outcome]++
}

func newBulkHarness(t *testing.T) (*testHarness, BulkService, countingBulkRecorder) {
	t.Helper()
	h := newHarness(t)
	rec := countingBulkRecorder{}
	svc, err := NewBulkService(BulkServiceDeps{Fulfillment: h.fulfillment, Trash: h.trash, Recorder: rec})
	if err != nil {
		t.Fatalf("NewBulkService: %v", err)
	}
	return h, svc, rec
}

func TestBulkCompleteOnlyTouchesPaidOrders(t *testing.T) {
	h, svc, rec := newBulkHarness(t)
	h.store.put(sampleOrder("a", domain.PaymentStatusPaid))
	h.store.put(sampleOrder("b", domain.PaymentStatusPending))
	h.store.put(sampleOrder("c", domain.PaymentStatusPaid))
	h.store.put(sampleOrder("d", domain.PaymentStatusCancelled))
	h.store.put(sampleOrder("e", domain.PaymentStatusPaid))

	summary, err := svc.Apply(context.Background(), BulkCommand{
		Action:   BulkActionComplete,
		OrderIDs: []string{"a", "b", "c", "d", "e"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.Succeeded != 3 || summary.Attempted != 3 {
		t.Fatalf("expected 3 of 3, got %d of %d", summary.Succeeded, summary.Attempted)
	}
	if len(summary.Results) != 5 {
		t.Fatalf("expected a result per order, got %d", len(summary.Results))
	}
	for _, id := range []string{"a", "c", "e"} {
		if got := h.store.get(t, id).Status; got != domain.PaymentStatusCompleted {
			t.Fatalf("%s: expected completed, got %s", id, got)
		}
	}
	if got := h.store.get(t, "b").Status; got != domain.PaymentStatusPending {
		t.Fatalf("b must stay pending, got %s", got)
	}
	if got := h.store.get(t, "d").Status; got != domain.PaymentStatusCancelled {
		t.Fatalf("d must stay cancelled, got %s", got)
	}
	if rec["complete/succeeded"] != 3 || rec["complete/skipped"] != 2 {
		t.Fatalf("unexpected recorder counts %v", rec)
	}
}

func TestBulkIsolatesItemFailures(t *testing.T) {
	h, svc, _ := newBulkHarness(t)
	for _, id := range []string{"a", "b", "c"} {
		order := sampleOrder(id, domain.PaymentStatusCompleted)
		order.Stage = domain.ShipmentStageCreated
		order.Shipment.ExternalShipmentID = "pkg_" + id
		h.store.put(order)
	}
	h.carrier.trackingFn = func(_ context.Context, externalID string) (carrier.Tracking, error) {
		if externalID == "pkg_b" {
			return carrier.Tracking{}, carrier.ErrUnavailable
		}
		return carrier.Tracking{TrackingNumber: "TRK-" + externalID}, nil
	}

	summary, err := svc.Apply(context.Background(), BulkCommand{Action: BulkActionSyncTracking, OrderIDs: []string{"a", "b", "c", "missing"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.Succeeded != 2 || summary.Attempted != 4 {
		t.Fatalf("expected 2 of 4, got %d of %d", summary.Succeeded, summary.Attempted)
	}
	if h.store.get(t, "c").Shipment.TrackingNumber != "TRK-pkg_c" {
		t.Fatalf("items after a failure must still be processed")
	}
	for _, result := range summary.Results {
		if result.OrderID == "b" && !errors.Is(result.Err, ErrCarrierUnavailable) {
			t.Fatalf("expected carrier error for b, got %v", result.Err)
		}
	}
}

func TestBulkToggleStatsExclusion(t *testing.T) {
	h, svc, _ := newBulkHarness(t)
	h.store.put(sampleOrder("a", domain.PaymentStatusPaid))
	excluded := sampleOrder("b", domain.PaymentStatusPaid)
	excluded.Flags.ExcludeFromStats = true
	h.store.put(excluded)

	if _, err := svc.Apply(context.Background(), BulkCommand{Action: BulkActionToggleStatsExclude, OrderIDs: []string{"a", "b"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if !h.store.get(t, id).Flags.ExcludeFromStats {
			t.Fatalf("%s: mixed selection must exclude all", id)
		}
	}

	summary, err := svc.Apply(context.Background(), BulkCommand{Action: BulkActionToggleStatsExclude, OrderIDs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Fatalf("expected 2 succeeded, got %d", summary.Succeeded)
	}
	for _, id := range []string{"a", "b"} {
		if h.store.get(t, id).Flags.ExcludeFromStats {
			t.Fatalf("%s: fully excluded selection must be included again", id)
		}
	}
}

func TestBulkSoftDeleteDeduplicates(t *testing.T) {
	h, svc, _ := newBulkHarness(t)
	h.store.put(sampleOrder("a", domain.PaymentStatusPaid))

	summary, err := svc.Apply(context.Background(), BulkCommand{Action: BulkActionSoftDelete, OrderIDs: []string{"a", " a ", "a"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.Attempted != 1 || summary.Succeeded != 1 {
		t.Fatalf("expected duplicates processed once, got %+v", summary)
	}
	if !h.store.get(t, "a").IsTrashed() {
		t.Fatalf("expected a trashed")
	}
}

func TestBulkRejectsInvalidInput(t *testing.T) {
	_, svc, _ := newBulkHarness(t)
	cases := []BulkCommand{
		{Action: BulkActionComplete},
		{Action: BulkActionComplete, OrderIDs: []string{" ", ""}},
		{Action: "archive", OrderIDs: []string{"a"}},
	}
	tooMany := make([]string, 501)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("o%d", i)
	}
	cases = append(cases, BulkCommand{Action: BulkActionSoftDelete, OrderIDs: tooMany})

	for i, cmd := range cases {
		if _, err := svc.Apply(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}
