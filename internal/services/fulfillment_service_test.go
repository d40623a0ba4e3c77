package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/notifications"
	"github.com/spiritcandles/fulfillment/internal/platform/locks"
	"github.com/spiritcandles/fulfillment/internal/platform/storage"
)

func TestCreateShipmentTwiceStoresOneExternalID(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)

	first, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if err != nil {
		t.Fatalf("first CreateShipment: %v", err)
	}
	if first.Shipment.ExternalShipmentID != "pkg_1" {
		t.Fatalf("expected pkg_1, got %q", first.Shipment.ExternalShipmentID)
	}
	if first.Stage != domain.ShipmentStageCreated {
		t.Fatalf("expected stage shipment_created, got %s", first.Stage)
	}

	_, err = h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state on second call, got %v", err)
	}
	if got := h.carrier.creates(); got != 1 {
		t.Fatalf("expected one carrier call, got %d", got)
	}
	if stored := h.store.get(t, "o1"); stored.Shipment.ExternalShipmentID != "pkg_1" {
		t.Fatalf("expected stored pkg_1, got %q", stored.Shipment.ExternalShipmentID)
	}
	if events := h.notifier.events(); !reflect.DeepEqual(events, []string{notifications.EventOrderAccepted}) {
		t.Fatalf("expected one order-accepted notification, got %v", events)
	}
}

func TestCreateShipmentConcurrentCallerSeesConflict(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.carrier.createFn = func(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
		close(entered)
		<-release
		return carrier.ShipmentResult{ExternalID: "pkg_slow", CarrierName: "InPost"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
		done <- err
	}()
	<-entered

	_, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict while shipment is in flight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first CreateShipment: %v", err)
	}
	if got := h.carrier.creates(); got != 1 {
		t.Fatalf("expected one carrier call, got %d", got)
	}
	if stored := h.store.get(t, "o1"); stored.Shipment.ExternalShipmentID != "pkg_slow" {
		t.Fatalf("expected pkg_slow stored, got %q", stored.Shipment.ExternalShipmentID)
	}
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubArchiver struct {
	archiveFn func(ctx context.Context, orderID, shipmentID, labelURL string) (string, error)
}

func (a stubArchiver) Archive(ctx context.Context, orderID, shipmentID, labelURL string) (string, error) {
	return a.archiveFn(ctx, orderID, shipmentID, labelURL)
}

func (stubArchiver) DownloadURL(context.Context, string) (storage.SignedURLResult, error) {
	return storage.SignedURLResult{}, nil
}

func TestCreateShipmentSlowLabelArchiveCannotReopenGuard(t *testing.T) {
	clock := &steppingClock{now: fixedClock()}
	var svc FulfillmentService
	var retryErr error
	h := newHarness(t, func(deps *FulfillmentServiceDeps) {
		deps.Locker = locks.NewMemoryLocker(clock.Now)
		deps.Options.ShipmentLockTTL = 30 * time.Second
		deps.Labels = stubArchiver{archiveFn: func(ctx context.Context, orderID, shipmentID, _ string) (string, error) {
			// The lease runs out while the label is downloading and a retry arrives.
			clock.Advance(31 * time.Second)
			_, retryErr = svc.CreateShipment(ctx, CreateShipmentCommand{OrderID: orderID})
			return "labels/" + orderID + "/" + shipmentID + ".pdf", nil
		}}
	})
	svc = h.fulfillment
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)

	created, err := svc.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if !errors.Is(retryErr, ErrOrderInvalidState) {
		t.Fatalf("expected retry to see the stored shipment, got %v", retryErr)
	}
	if got := h.carrier.creates(); got != 1 {
		t.Fatalf("expected one carrier shipment, got %d", got)
	}
	stored := h.store.get(t, "o1")
	if stored.Shipment.ExternalShipmentID != "pkg_1" || stored.Shipment.LabelObject != "labels/o1/pkg_1.pdf" {
		t.Fatalf("unexpected stored shipment %+v", stored.Shipment)
	}
	if created.Shipment.LabelObject != stored.Shipment.LabelObject {
		t.Fatalf("expected returned order to carry label object, got %q", created.Shipment.LabelObject)
	}
}

func TestCreateShipmentLabelArchiveFailureKeepsShipment(t *testing.T) {
	h := newHarness(t, func(deps *FulfillmentServiceDeps) {
		deps.Labels = stubArchiver{archiveFn: func(context.Context, string, string, string) (string, error) {
			return "", errors.New("bucket unavailable")
		}}
	})
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)

	created, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if created.Shipment.ExternalShipmentID != "pkg_1" || created.Shipment.LabelObject != "" {
		t.Fatalf("unexpected shipment %+v", created.Shipment)
	}
	if stored := h.store.get(t, "o1"); stored.Shipment.LabelURL != "https://labels.example/label.pdf" {
		t.Fatalf("expected carrier label url to be kept, got %q", stored.Shipment.LabelURL)
	}
}

func TestCreateShipmentBoundsCarrierCallByLease(t *testing.T) {
	var remaining time.Duration
	h := newHarness(t, func(deps *FulfillmentServiceDeps) {
		deps.Options.ShipmentLockTTL = 40 * time.Second
	})
	h.carrier.createFn = func(ctx context.Context, _ carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Errorf("expected carrier call to carry a deadline")
		}
		remaining = time.Until(deadline)
		return carrier.ShipmentResult{ExternalID: "pkg_x"}, nil
	}
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)

	if _, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"}); err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	if remaining <= 0 || remaining > 30*time.Second {
		t.Fatalf("expected carrier deadline inside the lease, got %s", remaining)
	}
}

func TestCreateShipmentValidationErrorLeavesOrderUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"path":"receiver.phone","message":"required"},{"path":"receiver.phone","message":"required"}]}`))
	}))
	defer srv.Close()
	client, err := carrier.NewClient(context.Background(), carrier.Config{BaseURL: srv.URL, APIKey: "key"}, carrier.WithBackoff(0))
	if err != nil {
		t.Fatalf("carrier.NewClient: %v", err)
	}

	h := newHarness(t, func(deps *FulfillmentServiceDeps) { deps.Carrier = client })
	o1 := sampleOrder("o1", domain.PaymentStatusCompleted)
	o1.Shipment.Address.Phone = ""
	h.store.put(o1, sampleItems("o1")...)
	if got := o1.Financials.Total.Format(domain.CurrencyPLN); got != "150.00 PLN" {
		t.Fatalf("fixture total %s", got)
	}
	writesBefore := h.store.writeCount()

	_, err = h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if !errors.Is(err, ErrShipmentRejected) {
		t.Fatalf("expected shipment rejected, got %v", err)
	}
	var validation *carrier.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected carrier validation error in chain, got %v", err)
	}
	if got := validation.Messages(); !reflect.DeepEqual(got, []string{"receiver.phone: required"}) {
		t.Fatalf("expected single deduplicated message, got %v", got)
	}

	stored := h.store.get(t, "o1")
	if stored.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected status completed, got %s", stored.Status)
	}
	if stored.Shipment.HasExternalShipment() || stored.Stage != domain.ShipmentStageNone {
		t.Fatalf("expected no shipment persisted, got %+v", stored.Shipment)
	}
	if h.store.writeCount() != writesBefore {
		t.Fatalf("expected no writes on rejection")
	}
	if len(h.notifier.events()) != 0 {
		t.Fatalf("expected no notification on rejection")
	}
}

func TestCreateShipmentCarrierOutage(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)
	h.carrier.createFn = func(context.Context, carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
		return carrier.ShipmentResult{}, carrier.ErrUnavailable
	}

	_, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if !errors.Is(err, ErrCarrierUnavailable) {
		t.Fatalf("expected carrier unavailable, got %v", err)
	}
	if stored := h.store.get(t, "o1"); stored.Shipment.HasExternalShipment() {
		t.Fatalf("expected order untouched")
	}
}

func TestCreateShipmentRequiresCompletedStatus(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusPaid))
	trashed := sampleOrder("o2", domain.PaymentStatusCompleted)
	trashed.DeletedAt = timePtr(testNow)
	h.store.put(trashed)

	for _, id := range []string{"o1", "o2"} {
		if _, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: id}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("%s: expected invalid state, got %v", id, err)
		}
	}
	if h.carrier.creates() != 0 {
		t.Fatalf("expected no carrier calls")
	}
}

func TestCreateShipmentParcelDefaults(t *testing.T) {
	h := newHarness(t)
	h.store.weights["candle-lavender"] = "0.4"
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)
	h.store.put(sampleOrder("o2", domain.PaymentStatusCompleted), OrderItem{ID: "i", OrderID: "o2", ProductID: "tealight", Quantity: 1})
	h.store.weights["tealight"] = "0.05"

	if _, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"}); err != nil {
		t.Fatalf("CreateShipment o1: %v", err)
	}
	if _, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o2", ServiceID: "express"}); err != nil {
		t.Fatalf("CreateShipment o2: %v", err)
	}

	first := h.carrier.createCalls[0]
	if !first.Parcel.WeightKg.Equal(decimal.RequireFromString("1.3")) {
		t.Fatalf("expected 2x0.4 + 1x0.5 = 1.3kg, got %s", first.Parcel.WeightKg)
	}
	if first.Parcel.LengthCm != 30 || first.Parcel.WidthCm != 20 || first.Parcel.HeightCm != 15 {
		t.Fatalf("expected default 30x20x15 parcel, got %+v", first.Parcel)
	}
	if first.ServiceID != "standard" || first.Reference != "SC-2026-o1" {
		t.Fatalf("unexpected request %+v", first)
	}

	second := h.carrier.createCalls[1]
	if !second.Parcel.WeightKg.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected weight floored to 1kg, got %s", second.Parcel.WeightKg)
	}
	if second.ServiceID != "express" {
		t.Fatalf("expected explicit service id, got %s", second.ServiceID)
	}
}

func TestCreateShipmentExplicitWeightIsFloored(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted), sampleItems("o1")...)
	weight := decimal.RequireFromString("0.3")

	_, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{
		OrderID:    "o1",
		WeightKg:   &weight,
		Dimensions: &ParcelDimensions{LengthCm: 10, WidthCm: 10, HeightCm: 10},
	})
	if err != nil {
		t.Fatalf("CreateShipment: %v", err)
	}
	req := h.carrier.createCalls[0]
	if !req.Parcel.WeightKg.Equal(decimal.NewFromInt(1)) || req.Parcel.LengthCm != 10 {
		t.Fatalf("unexpected parcel %+v", req.Parcel)
	}

	zero := decimal.Zero
	if _, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1", WeightKg: &zero}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for zero weight, got %v", err)
	}
}

func TestCreateShipmentLockUnavailable(t *testing.T) {
	h := newHarness(t, func(deps *FulfillmentServiceDeps) {
		deps.Locker = stubLocker{acquireFn: func(context.Context, string, time.Duration) (locks.Lease, error) {
			return nil, locks.ErrLocked
		}}
	})
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted))

	_, err := h.fulfillment.CreateShipment(context.Background(), CreateShipmentCommand{OrderID: "o1"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if h.carrier.creates() != 0 {
		t.Fatalf("carrier must not be called without the lock")
	}
}

func TestApplyPaymentRequiresPending(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusPending))

	order, err := h.fulfillment.ApplyPayment(context.Background(), PaymentCommand{OrderID: "o1", Provider: "stripe"})
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if order.Status != domain.PaymentStatusPaid || order.PaidAt == nil || !order.PaidAt.Equal(testNow) {
		t.Fatalf("unexpected order %+v", order)
	}

	if _, err := h.fulfillment.ApplyPayment(context.Background(), PaymentCommand{OrderID: "o1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state on replay, got %v", err)
	}
	if _, err := h.fulfillment.ApplyPayment(context.Background(), PaymentCommand{OrderID: "missing"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(h.notifier.events()) != 0 {
		t.Fatalf("payment must not notify")
	}
}

func TestMarkCompletedNotifiesStatusUpdate(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusPaid))
	h.store.profiles["user-o1"] = domain.Profile{ID: "user-o1", Email: "anna@example.com", Locale: "en"}

	order, err := h.fulfillment.MarkCompleted(context.Background(), "o1")
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if order.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", order.Status)
	}
	if h.carrier.creates() != 0 {
		t.Fatalf("completion must not call the carrier")
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(h.notifier.sent))
	}
	sent := h.notifier.sent[0]
	if sent.Event != notifications.EventStatusUpdate || sent.Email != "anna@example.com" || sent.Locale != "en" {
		t.Fatalf("unexpected notification %+v", sent)
	}

	if _, err := h.fulfillment.MarkCompleted(context.Background(), "o1"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state when already completed, got %v", err)
	}
}

func TestSyncTrackingPersistsOnlyChanges(t *testing.T) {
	h := newHarness(t)
	order := sampleOrder("o1", domain.PaymentStatusCompleted)
	order.Stage = domain.ShipmentStageCreated
	order.Shipment.ExternalShipmentID = "pkg_1"
	order.Shipment.CarrierName = "InPost"
	h.store.put(order)
	h.carrier.trackingFn = func(context.Context, string) (carrier.Tracking, error) {
		return carrier.Tracking{TrackingNumber: "TRK1", TrackingURL: "https://track.example/TRK1", CarrierName: "InPost"}, nil
	}

	updated, changed, err := h.fulfillment.SyncTracking(context.Background(), "o1")
	if err != nil {
		t.Fatalf("SyncTracking: %v", err)
	}
	if !changed || updated.Stage != domain.ShipmentStageTrackingAssigned || updated.Shipment.TrackingNumber != "TRK1" {
		t.Fatalf("unexpected sync result changed=%v order=%+v", changed, updated)
	}
	writes := h.store.writeCount()

	_, changed, err = h.fulfillment.SyncTracking(context.Background(), "o1")
	if err != nil {
		t.Fatalf("second SyncTracking: %v", err)
	}
	if changed || h.store.writeCount() != writes {
		t.Fatalf("expected no-op on unchanged tracking")
	}
	if events := h.notifier.events(); !reflect.DeepEqual(events, []string{notifications.EventStatusUpdate}) {
		t.Fatalf("expected a single status-update, got %v", events)
	}
}

func TestSyncTrackingDeliveryAndEmptyValues(t *testing.T) {
	h := newHarness(t)
	order := sampleOrder("o1", domain.PaymentStatusCompleted)
	order.Stage = domain.ShipmentStageTrackingAssigned
	order.Shipment.ExternalShipmentID = "pkg_1"
	order.Shipment.TrackingNumber = "TRK1"
	h.store.put(order)
	deliveredAt := testNow.Add(-2 * time.Hour)
	h.carrier.trackingFn = func(context.Context, string) (carrier.Tracking, error) {
		return carrier.Tracking{Delivered: true, DeliveredAt: &deliveredAt}, nil
	}

	updated, changed, err := h.fulfillment.SyncTracking(context.Background(), "o1")
	if err != nil {
		t.Fatalf("SyncTracking: %v", err)
	}
	if !changed || updated.Stage != domain.ShipmentStageDelivered {
		t.Fatalf("expected delivered, got %s", updated.Stage)
	}
	if updated.Shipment.TrackingNumber != "TRK1" {
		t.Fatalf("empty carrier value must not clear tracking number")
	}
	if updated.Shipment.DeliveredAt == nil || !updated.Shipment.DeliveredAt.Equal(deliveredAt) {
		t.Fatalf("expected carrier delivery time, got %v", updated.Shipment.DeliveredAt)
	}
}

func TestSyncTrackingRequiresShipment(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusCompleted))
	if _, _, err := h.fulfillment.SyncTracking(context.Background(), "o1"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if h.carrier.trackingCalls != 0 {
		t.Fatalf("carrier must not be polled without a shipment")
	}
}

func TestSyncAwaitingTrackingCountsOutcomes(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"a", "b", "c"} {
		order := sampleOrder(id, domain.PaymentStatusCompleted)
		order.Stage = domain.ShipmentStageCreated
		order.Shipment.ExternalShipmentID = "pkg_" + id
		h.store.put(order)
	}
	h.carrier.trackingFn = func(_ context.Context, externalID string) (carrier.Tracking, error) {
		switch externalID {
		case "pkg_a":
			return carrier.Tracking{TrackingNumber: "TRK-A"}, nil
		case "pkg_b":
			return carrier.Tracking{}, carrier.ErrUnavailable
		}
		return carrier.Tracking{}, nil
	}

	summary, err := h.fulfillment.SyncAwaitingTracking(context.Background(), 0)
	if err != nil {
		t.Fatalf("SyncAwaitingTracking: %v", err)
	}
	if summary != (TrackingSyncSummary{Checked: 3, Updated: 1, Failed: 1}) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSetAdminSeenIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.put(sampleOrder("o1", domain.PaymentStatusPending))

	for i := 0; i < 2; i++ {
		order, err := h.fulfillment.SetAdminSeen(context.Background(), "o1")
		if err != nil {
			t.Fatalf("SetAdminSeen: %v", err)
		}
		if !order.Flags.AdminSeen {
			t.Fatalf("expected admin seen")
		}
	}
	if h.store.writeCount() != 1 {
		t.Fatalf("expected a single write, got %d", h.store.writeCount())
	}
	count, err := h.fulfillment.CountUnseen(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("expected zero unseen, got %d (%v)", count, err)
	}
}

func TestCancelNotifiesAndIsTerminal(t *testing.T) {
	h := newHarness(t)
	order := sampleOrder("o1", domain.PaymentStatusPaid)
	order.UserID = ""
	order.GuestEmail = "guest@example.com"
	h.store.put(order)

	cancelled, err := h.fulfillment.Cancel(context.Background(), CancelOrderCommand{OrderID: "o1", Reason: "<b>out of stock</b>"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "out of stock" {
		t.Fatalf("expected sanitized reason, got %v", cancelled.CancelReason)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].Email != "guest@example.com" || h.notifier.sent[0].Event != notifications.EventOrderCancelled {
		t.Fatalf("unexpected notifications %+v", h.notifier.sent)
	}
	if _, err := h.fulfillment.Cancel(context.Background(), CancelOrderCommand{OrderID: "o1"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := h.fulfillment.MarkCompleted(context.Background(), "o1"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("cancelled orders cannot be completed, got %v", err)
	}
}

func TestResetShipmentKeepsAddress(t *testing.T) {
	h := newHarness(t)
	order := sampleOrder("o1", domain.PaymentStatusCompleted)
	order.Stage = domain.ShipmentStageTrackingAssigned
	order.Shipment.ExternalShipmentID = "pkg_1"
	order.Shipment.TrackingNumber = "TRK1"
	h.store.put(order)

	reset, err := h.fulfillment.ResetShipment(context.Background(), "o1")
	if err != nil {
		t.Fatalf("ResetShipment: %v", err)
	}
	if reset.Stage != domain.ShipmentStageNone || reset.Shipment.TrackingNumber != "" || reset.Shipment.HasExternalShipment() {
		t.Fatalf("expected cleared shipment, got %+v", reset.Shipment)
	}
	if reset.Shipment.Address != order.Shipment.Address {
		t.Fatalf("address must survive a reset")
	}

	delivered := sampleOrder("o2", domain.PaymentStatusCompleted)
	delivered.Stage = domain.ShipmentStageDelivered
	delivered.Shipment.ExternalShipmentID = "pkg_2"
	h.store.put(delivered)
	if _, err := h.fulfillment.ResetShipment(context.Background(), "o2"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected delivered reset rejected, got %v", err)
	}
}

func TestCreateOrderAssignsNumberAndItems(t *testing.T) {
	h := newHarness(t, func(deps *FulfillmentServiceDeps) {
		deps.IDGenerator = func() string { return "01HZX" }
	})

	order, err := h.fulfillment.CreateOrder(context.Background(), CreateOrderCommand{
		OrderID:    "chk_1",
		GuestEmail: "guest@example.com",
		Locale:     "de_DE",
		Financials: domain.Financials{Total: domain.Money{PLN: 15000, EUR: 3500}},
		Items:      []CreateOrderItem{{ProductID: "candle-cedar", Name: "Cedar", Quantity: 1, UnitPrice: domain.Money{PLN: 15000}}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderNumber != "SC-2026-000001" || order.Status != domain.PaymentStatusPending || order.Locale != "de" {
		t.Fatalf("unexpected order %+v", order)
	}
	got, err := h.fulfillment.GetOrder(context.Background(), "chk_1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].ID != "itm_01hzx" {
		t.Fatalf("unexpected items %+v", got.Items)
	}

	if _, err := h.fulfillment.CreateOrder(context.Background(), CreateOrderCommand{OrderID: "chk_1", GuestEmail: "x@y.z", Items: []CreateOrderItem{{ProductID: "p", Quantity: 1}}}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected duplicate insert conflict, got %v", err)
	}
	if _, err := h.fulfillment.CreateOrder(context.Background(), CreateOrderCommand{GuestEmail: "x@y.z"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for empty items, got %v", err)
	}
	if len(h.changes.events) != 1 {
		t.Fatalf("expected one insert event, got %d", len(h.changes.events))
	}
}
