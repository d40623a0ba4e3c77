package di

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spiritcandles/fulfillment/internal/platform/config"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

type stubOrders struct{ repositories.OrderRepository }
type stubItems struct{ repositories.OrderItemRepository }
type stubProfiles struct{ repositories.ProfileRepository }
type stubProducts struct{ repositories.ProductRepository }
type stubCounters struct{ repositories.CounterRepository }
type stubHealth struct{ repositories.HealthRepository }

type stubRegistry struct {
	counters repositories.CounterRepository
	health   repositories.HealthRepository
	closed   bool
}

func (r *stubRegistry) Close(context.Context) error                  { r.closed = true; return nil }
func (r *stubRegistry) Orders() repositories.OrderRepository         { return stubOrders{} }
func (r *stubRegistry) OrderItems() repositories.OrderItemRepository { return stubItems{} }
func (r *stubRegistry) Profiles() repositories.ProfileRepository     { return stubProfiles{} }
func (r *stubRegistry) Products() repositories.ProductRepository     { return stubProducts{} }
func (r *stubRegistry) Counters() repositories.CounterRepository     { return r.counters }
func (r *stubRegistry) Health() repositories.HealthRepository        { return r.health }

func testConfig() config.Config {
	return config.Config{
		Fulfillment: config.FulfillmentConfig{
			DefaultItemWeightKg: decimal.RequireFromString("0.5"),
			MinParcelWeightKg:   decimal.NewFromInt(1),
			ParcelLengthCm:      30,
			ParcelWidthCm:       20,
			ParcelHeightCm:      15,
			ShipmentLockTTL:     30 * time.Second,
			BulkLimit:           500,
			TrackingSyncBatch:   100,
			OrderNumberPrefix:   "SC",
		},
		Changes: config.ChangeFeedConfig{SubscriberBuffer: 8},
	}
}

func TestNewContainerWiresServices(t *testing.T) {
	reg := &stubRegistry{counters: stubCounters{}, health: stubHealth{}}
	container, err := NewContainer(context.Background(), testConfig(), reg, Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	svc := container.Services
	if svc.Fulfillment == nil || svc.Trash == nil || svc.Bulk == nil || svc.Stats == nil || svc.Counters == nil {
		t.Fatalf("expected every order service to be wired, got %+v", svc)
	}
	if svc.System == nil {
		t.Fatalf("expected system service when a health repository is present")
	}
	if container.Changes == nil {
		t.Fatalf("expected change hub")
	}

	events, cancel := container.Changes.Subscribe()
	defer cancel()
	if events == nil || container.Changes.Subscribers() != 1 {
		t.Fatalf("expected hub subscription to register")
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry to be closed")
	}
}

func TestNewContainerWithoutHealthSkipsSystemService(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), &stubRegistry{counters: stubCounters{}}, Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.System != nil {
		t.Fatalf("expected no system service without health repository")
	}
}

func TestNewContainerValidatesDependencies(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), nil, Infrastructure{}); err == nil {
		t.Fatalf("expected error for nil registry")
	}
	if _, err := NewContainer(context.Background(), testConfig(), &stubRegistry{}, Infrastructure{}); err == nil {
		t.Fatalf("expected error when counters repository is missing")
	}
}
