package handlers

import (
	"context"
	"time"

	"github.com/spiritcandles/fulfillment/internal/changes"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/services"
)

var handlerNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// stubFulfillment implements only what a test sets; other calls panic through the nil embed.
type stubFulfillment struct {
	services.FulfillmentService

	listFn     func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn      func(ctx context.Context, orderID string) (services.Order, error)
	completeFn func(ctx context.Context, orderID string) (services.Order, error)
	shipFn     func(ctx context.Context, cmd services.CreateShipmentCommand) (services.Order, error)
	paymentFn  func(ctx context.Context, cmd services.PaymentCommand) (services.Order, error)
	createFn   func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	syncAllFn  func(ctx context.Context, limit int) (services.TrackingSyncSummary, error)
	quoteFn    func(ctx context.Context, cmd services.ShippingQuoteCommand) ([]services.ShippingRate, error)
	unseen     int64
}

func (s *stubFulfillment) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return s.listFn(ctx, filter)
}

func (s *stubFulfillment) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFn(ctx, orderID)
}

func (s *stubFulfillment) MarkCompleted(ctx context.Context, orderID string) (services.Order, error) {
	return s.completeFn(ctx, orderID)
}

func (s *stubFulfillment) CreateShipment(ctx context.Context, cmd services.CreateShipmentCommand) (services.Order, error) {
	return s.shipFn(ctx, cmd)
}

func (s *stubFulfillment) ApplyPayment(ctx context.Context, cmd services.PaymentCommand) (services.Order, error) {
	return s.paymentFn(ctx, cmd)
}

func (s *stubFulfillment) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubFulfillment) SyncAwaitingTracking(ctx context.Context, limit int) (services.TrackingSyncSummary, error) {
	return s.syncAllFn(ctx, limit)
}

func (s *stubFulfillment) QuoteShipping(ctx context.Context, cmd services.ShippingQuoteCommand) ([]services.ShippingRate, error) {
	return s.quoteFn(ctx, cmd)
}

func (s *stubFulfillment) CountUnseen(context.Context) (int64, error) {
	return s.unseen, nil
}

type stubTrash struct {
	purged []string
	err    error
}

func (s *stubTrash) SoftDelete(_ context.Context, orderID string) (services.Order, error) {
	order := testOrder(orderID)
	order.DeletedAt = &handlerNow
	return order, s.err
}

func (s *stubTrash) Restore(_ context.Context, orderID string) (services.Order, error) {
	return testOrder(orderID), s.err
}

func (s *stubTrash) Purge(_ context.Context, orderID string) error {
	if s.err != nil {
		return s.err
	}
	s.purged = append(s.purged, orderID)
	return nil
}

type stubBulk struct {
	got     services.BulkCommand
	summary services.BulkSummary
	err     error
}

func (s *stubBulk) Apply(_ context.Context, cmd services.BulkCommand) (services.BulkSummary, error) {
	s.got = cmd
	return s.summary, s.err
}

type stubStats struct {
	from, to time.Time
	summary  services.StatsSummary
}

func (s *stubStats) Summarize(_ context.Context, from, to time.Time) (services.StatsSummary, error) {
	s.from, s.to = from, to
	return s.summary, nil
}

// closedFeed replays its events and then ends the stream.
type closedFeed struct {
	events       []changes.ChangeEvent
	unsubscribed bool
}

func (f *closedFeed) Subscribe() (<-chan changes.ChangeEvent, func()) {
	ch := make(chan changes.ChangeEvent, len(f.events))
	for _, event := range f.events {
		ch <- event
	}
	close(ch)
	return ch, func() { f.unsubscribed = true }
}

func testOrder(id string) services.Order {
	return services.Order{
		ID:          id,
		OrderNumber: "SC-2026-000042",
		Status:      domain.PaymentStatusPaid,
		Stage:       domain.ShipmentStageNone,
		Financials: domain.Financials{
			Total:        domain.Money{PLN: 15000, EUR: 3450},
			ShippingCost: domain.Money{PLN: 1500, EUR: 345},
		},
		Items: []domain.OrderItem{
			{ID: "itm_1", ProductID: "candle-amber", Name: "Amber", Quantity: 2, UnitPrice: domain.Money{PLN: 6750, EUR: 1550}},
		},
		CreatedAt: handlerNow,
	}
}
