package repositories

import (
	"context"
	"time"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Profiles() ProfileRepository
	Products() ProductRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TrashFilter selects active, trashed or all orders.
type TrashFilter string

const (
	// TrashFilterActive selects orders without a deletion timestamp. It is the default.
	TrashFilterActive TrashFilter = "active"
	// TrashFilterOnly selects soft-deleted orders.
	TrashFilterOnly TrashFilter = "trashed"
	// TrashFilterAll disables the deletion filter.
	TrashFilterAll TrashFilter = "all"
)

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status     []domain.PaymentStatus
	Stages     []domain.ShipmentStage
	Trash      TrashFilter
	UnseenOnly bool
	Pagination domain.Pagination
}

// OrderChangeFunc mutates a freshly read order inside a transaction. Returning an error aborts the write.
type OrderChangeFunc func(order *domain.Order) error

// OrderRepository persists order aggregates. Items are managed through OrderItemRepository.
type OrderRepository interface {
	// Insert writes a new order together with its items atomically.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Mutate reads the order, applies fn and writes the result in one transaction.
	Mutate(ctx context.Context, orderID string, fn OrderChangeFunc) (domain.Order, error)
	// Purge deletes the order's items in batches and then the order. Only trashed orders qualify.
	Purge(ctx context.Context, orderID string) error
	// ListCreatedBetween returns every order created in [from, to), trashed and excluded ones included.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error)
	// ListAwaitingTracking returns active orders whose shipment has not reached delivery.
	ListAwaitingTracking(ctx context.Context, limit int) ([]domain.Order, error)
	CountUnseen(ctx context.Context) (int64, error)
}

// OrderItemRepository reads order line items.
type OrderItemRepository interface {
	List(ctx context.Context, orderID string) ([]domain.OrderItem, error)
}

// ProfileRepository reads customer profiles.
type ProfileRepository interface {
	FindByID(ctx context.Context, profileID string) (domain.Profile, error)
}

// ProductRepository reads catalog attributes needed for fulfillment.
type ProductRepository interface {
	// UnitWeights returns the weight in kilograms per product id. Products without weight are omitted.
	UnitWeights(ctx context.Context, productIDs []string) (map[string]string, error)
}

// CounterRepository provides atomic sequence generation for human facing identifiers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig configures sequence behaviour.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
