package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spiritcandles/fulfillment/internal/changes"
	"github.com/spiritcandles/fulfillment/internal/notifications"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

// TrashServiceDeps bundles collaborators required to construct the trash service.
type TrashServiceDeps struct {
	Orders   repositories.OrderRepository
	Profiles repositories.ProfileRepository
	Notifier Notifier
	Changes  ChangePublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type trashService struct {
	orders   repositories.OrderRepository
	profiles repositories.ProfileRepository
	notifier Notifier
	changes  ChangePublisher
	now      func() time.Time
	logger   logFunc
}

var _ TrashService = (*trashService)(nil)

// NewTrashService constructs the soft-delete lifecycle manager.
func NewTrashService(deps TrashServiceDeps) (TrashService, error) {
	if deps.Orders == nil {
		return nil, errors.New("trash service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &trashService{
		orders:   deps.Orders,
		profiles: deps.Profiles,
		notifier: deps.Notifier,
		changes:  deps.Changes,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *trashService) SoftDelete(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if err := guardSoftDelete(*o); err != nil {
			return err
		}
		o.DeletedAt = timePtr(now)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"deletedAt"}, now)
	return updated, nil
}

func (s *trashService) Restore(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if err := guardRestore(*o); err != nil {
			return err
		}
		o.DeletedAt = nil
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"deletedAt"}, now)
	return updated, nil
}

// Purge permanently removes a trashed order. The recipient is resolved before anything is deleted
// because the profile join is no longer meaningful afterwards.
func (s *trashService) Purge(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return invalidInput("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return mapRepositoryError(err)
	}
	if err := guardPurge(order); err != nil {
		return err
	}

	var to recipient
	notifyCancel := s.notifier != nil && strings.TrimSpace(order.Shipment.TrackingNumber) == ""
	if notifyCancel {
		to = resolveRecipient(ctx, s.profiles, order, s.logger)
	}

	if err := s.orders.Purge(ctx, orderID); err != nil {
		return mapRepositoryError(err)
	}

	now := s.now()
	s.logger(ctx, "order.purged", map[string]any{
		"orderID":     orderID,
		"orderNumber": order.OrderNumber,
		"status":      string(order.Status),
	})
	publishChange(ctx, s.changes, changes.KindDelete, order, nil, now)

	if notifyCancel {
		s.notifier.Dispatch(ctx, notificationFor(notifications.EventOrderCancelled, order, to))
	}
	return nil
}
