package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

// Registry wires every Firestore repository over a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	items    *OrderItemRepository
	profiles *ProfileRepository
	products *ProductRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. health may be nil when readiness probes are not needed.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry: firestore provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	items, err := NewOrderItemRepository(provider)
	if err != nil {
		return nil, err
	}
	profiles, err := NewProfileRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		items:    items,
		profiles: profiles,
		products: products,
		counters: counters,
		health:   health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) OrderItems() repositories.OrderItemRepository { return r.items }
func (r *Registry) Profiles() repositories.ProfileRepository     { return r.profiles }
func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Counters() repositories.CounterRepository     { return r.counters }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
