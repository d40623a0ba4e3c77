package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	"github.com/spiritcandles/fulfillment/internal/changes"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/notifications"
	"github.com/spiritcandles/fulfillment/internal/platform/locks"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*stubRepoError)(nil)

// memoryStore backs the order, item, profile and product stubs with one map set.
type memoryStore struct {
	mu       sync.Mutex
	orders   map[string]Order
	items    map[string][]OrderItem
	profiles map[string]domain.Profile
	weights  map[string]string
	writes   int
	purged   []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:   map[string]Order{},
		items:    map[string][]OrderItem{},
		profiles: map[string]domain.Profile{},
		weights:  map[string]string{},
	}
}

func (s *memoryStore) put(order Order, items ...OrderItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.Items = nil
	s.orders[order.ID] = order
	if len(items) > 0 {
		s.items[order.ID] = append([]OrderItem(nil), items...)
	}
}

func (s *memoryStore) get(t *testing.T, id string) Order {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		t.Fatalf("order %s not stored", id)
	}
	return order
}

func (s *memoryStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func notFound(id string) error {
	return &stubRepoError{msg: fmt.Sprintf("order %s not found", id), notFound: true}
}

type memoryOrders struct{ s *memoryStore }

func (r memoryOrders) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[order.ID]; ok {
		return &stubRepoError{msg: "already exists", conflict: true}
	}
	r.s.items[order.ID] = append([]OrderItem(nil), order.Items...)
	order.Items = nil
	r.s.orders[order.ID] = order
	r.s.writes++
	return nil
}

func (r memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound(orderID)
	}
	return order, nil
}

func (r memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []Order
	for _, order := range r.s.orders {
		switch filter.Trash {
		case repositories.TrashFilterOnly:
			if !order.IsTrashed() {
				continue
			}
		case repositories.TrashFilterAll:
		default:
			if order.IsTrashed() {
				continue
			}
		}
		if filter.UnseenOnly && order.Flags.AdminSeen {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (r memoryOrders) Mutate(_ context.Context, orderID string, fn repositories.OrderChangeFunc) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound(orderID)
	}
	if err := fn(&order); err != nil {
		return domain.Order{}, err
	}
	r.s.orders[orderID] = order
	r.s.writes++
	return order, nil
}

func (r memoryOrders) Purge(_ context.Context, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return notFound(orderID)
	}
	if !order.IsTrashed() {
		return &stubRepoError{msg: "order is not in trash", conflict: true}
	}
	delete(r.s.items, orderID)
	delete(r.s.orders, orderID)
	r.s.purged = append(r.s.purged, orderID)
	return nil
}

func (r memoryOrders) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []Order
	for _, order := range r.s.orders {
		if !order.CreatedAt.Before(from) && order.CreatedAt.Before(to) {
			out = append(out, order)
		}
	}
	return out, nil
}

func (r memoryOrders) ListAwaitingTracking(_ context.Context, limit int) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []Order
	for _, order := range r.s.orders {
		if order.IsTrashed() {
			continue
		}
		if order.Stage == domain.ShipmentStageCreated || order.Stage == domain.ShipmentStageTrackingAssigned {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryOrders) CountUnseen(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, order := range r.s.orders {
		if !order.IsTrashed() && !order.Flags.AdminSeen {
			n++
		}
	}
	return n, nil
}

type memoryItems struct{ s *memoryStore }

func (r memoryItems) List(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]OrderItem(nil), r.s.items[orderID]...), nil
}

type memoryProfiles struct{ s *memoryStore }

func (r memoryProfiles) FindByID(_ context.Context, profileID string) (domain.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profile, ok := r.s.profiles[profileID]
	if !ok {
		return domain.Profile{}, &stubRepoError{msg: "profile not found", notFound: true}
	}
	return profile, nil
}

type memoryProducts struct{ s *memoryStore }

func (r memoryProducts) UnitWeights(_ context.Context, ids []string) (map[string]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if w, ok := r.s.weights[id]; ok {
			out[id] = w
		}
	}
	return out, nil
}

type stubCarrier struct {
	mu            sync.Mutex
	quoteFn       func(context.Context, carrier.QuoteRequest) ([]carrier.Rate, error)
	createFn      func(context.Context, carrier.ShipmentRequest) (carrier.ShipmentResult, error)
	trackingFn    func(context.Context, string) (carrier.Tracking, error)
	createCalls   []carrier.ShipmentRequest
	trackingCalls int
}

func (c *stubCarrier) Quote(ctx context.Context, req carrier.QuoteRequest) ([]carrier.Rate, error) {
	if c.quoteFn != nil {
		return c.quoteFn(ctx, req)
	}
	return nil, nil
}

func (c *stubCarrier) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	c.mu.Lock()
	c.createCalls = append(c.createCalls, req)
	n := len(c.createCalls)
	c.mu.Unlock()
	if c.createFn != nil {
		return c.createFn(ctx, req)
	}
	return carrier.ShipmentResult{
		ExternalID:  fmt.Sprintf("pkg_%d", n),
		CarrierID:   "inpost",
		CarrierName: "InPost",
		LabelURL:    "https://labels.example/label.pdf",
	}, nil
}

func (c *stubCarrier) GetTracking(ctx context.Context, externalID string) (carrier.Tracking, error) {
	c.mu.Lock()
	c.trackingCalls++
	c.mu.Unlock()
	if c.trackingFn != nil {
		return c.trackingFn(ctx, externalID)
	}
	return carrier.Tracking{ExternalID: externalID}, nil
}

func (c *stubCarrier) creates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.createCalls)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifications.Notification
}

func (n *recordingNotifier) Dispatch(_ context.Context, msg notifications.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Event)
	}
	return out
}

type recordingChanges struct {
	mu     sync.Mutex
	events []changes.ChangeEvent
}

func (r *recordingChanges) Publish(_ context.Context, event changes.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type sequenceCounter struct {
	mu  sync.Mutex
	seq int64
}

func (c *sequenceCounter) Next(context.Context, string, string, CounterGenerationOptions) (CounterValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return CounterValue{Value: c.seq}, nil
}

func (c *sequenceCounter) NextOrderNumber(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("SC-2026-%06d", c.seq), nil
}

type stubLocker struct {
	acquireFn func(ctx context.Context, key string, ttl time.Duration) (locks.Lease, error)
}

func (l stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (locks.Lease, error) {
	return l.acquireFn(ctx, key, ttl)
}

type testHarness struct {
	store       *memoryStore
	carrier     *stubCarrier
	notifier    *recordingNotifier
	changes     *recordingChanges
	fulfillment FulfillmentService
	trash       TrashService
}

func newHarness(t *testing.T, mutate ...func(*FulfillmentServiceDeps)) *testHarness {
	t.Helper()
	h := &testHarness{
		store:    newMemoryStore(),
		carrier:  &stubCarrier{},
		notifier: &recordingNotifier{},
		changes:  &recordingChanges{},
	}
	deps := FulfillmentServiceDeps{
		Orders:   memoryOrders{h.store},
		Items:    memoryItems{h.store},
		Profiles: memoryProfiles{h.store},
		Products: memoryProducts{h.store},
		Counters: &sequenceCounter{},
		Carrier:  h.carrier,
		Notifier: h.notifier,
		Changes:  h.changes,
		Clock:    fixedClock,
		Options: FulfillmentOptions{
			DefaultServiceID:    "standard",
			DefaultItemWeightKg: decimal.RequireFromString("0.5"),
			MinParcelWeightKg:   decimal.NewFromInt(1),
		},
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewFulfillmentService(deps)
	if err != nil {
		t.Fatalf("NewFulfillmentService: %v", err)
	}
	trash, err := NewTrashService(TrashServiceDeps{
		Orders:   memoryOrders{h.store},
		Profiles: memoryProfiles{h.store},
		Notifier: h.notifier,
		Changes:  h.changes,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewTrashService: %v", err)
	}
	h.fulfillment = svc
	h.trash = trash
	return h
}

func sampleOrder(id string, status domain.PaymentStatus) Order {
	return Order{
		ID:          id,
		OrderNumber: "SC-2026-" + id,
		UserID:      "user-" + id,
		Locale:      "pl",
		Status:      status,
		Stage:       domain.ShipmentStageNone,
		Financials: domain.Financials{
			Total:        domain.Money{PLN: 15000, EUR: 3500},
			ShippingCost: domain.Money{PLN: 1499, EUR: 350},
		},
		Shipment: domain.Shipment{Address: domain.Address{
			Name:       "Anna Nowak",
			Street:     "Prosta 1",
			City:       "Warszawa",
			PostalCode: "00-001",
			Country:    "PL",
			Phone:      "+48500100200",
		}},
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}

func sampleItems(orderID string) []OrderItem {
	return []OrderItem{
		{ID: orderID + "-1", OrderID: orderID, ProductID: "candle-lavender", Name: "Lavender", Quantity: 2, UnitPrice: domain.Money{PLN: 6000, EUR: 1400}},
		{ID: orderID + "-2", OrderID: orderID, ProductID: "candle-cedar", Name: "Cedar", Quantity: 1, UnitPrice: domain.Money{PLN: 3000, EUR: 700}},
	}
}
