package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	"github.com/spiritcandles/fulfillment/internal/changes"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/notifications"
	"github.com/spiritcandles/fulfillment/internal/platform/locks"
	"github.com/spiritcandles/fulfillment/internal/platform/storage"
	"github.com/spiritcandles/fulfillment/internal/platform/textutil"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	itemIDPrefix         = "itm_"
	shipmentLockPrefix   = "shipment:"
	maxCancelReasonRunes = 500
	maxContentsRunes     = 100
	maxParcelSideCm      = 300
	maxTrackingSyncBatch = 500
)

// FulfillmentOptions carries the configurable shipment defaults.
type FulfillmentOptions struct {
	DefaultServiceID    string
	DefaultItemWeightKg decimal.Decimal
	MinParcelWeightKg   decimal.Decimal
	Parcel              ParcelDimensions
	ShipmentLockTTL     time.Duration
	TrackingSyncBatch   int
}

func (o FulfillmentOptions) withDefaults() FulfillmentOptions {
	if !o.DefaultItemWeightKg.IsPositive() {
		o.DefaultItemWeightKg = decimal.RequireFromString("0.5")
	}
	if !o.MinParcelWeightKg.IsPositive() {
		o.MinParcelWeightKg = decimal.NewFromInt(1)
	}
	if o.Parcel.LengthCm <= 0 || o.Parcel.WidthCm <= 0 || o.Parcel.HeightCm <= 0 {
		o.Parcel = ParcelDimensions{LengthCm: 30, WidthCm: 20, HeightCm: 15}
	}
	if o.ShipmentLockTTL <= 0 {
		o.ShipmentLockTTL = 60 * time.Second
	}
	if o.TrackingSyncBatch <= 0 {
		o.TrackingSyncBatch = 100
	}
	o.DefaultServiceID = strings.TrimSpace(o.DefaultServiceID)
	return o
}

// FulfillmentServiceDeps bundles collaborators required to construct the fulfillment service.
type FulfillmentServiceDeps struct {
	Orders      repositories.OrderRepository
	Items       repositories.OrderItemRepository
	Profiles    repositories.ProfileRepository
	Products    repositories.ProductRepository
	Counters    CounterService
	Carrier     Carrier
	Locker      locks.Locker
	Labels      LabelArchiver
	Notifier    Notifier
	Changes     ChangePublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Options     FulfillmentOptions
}

type fulfillmentService struct {
	orders   repositories.OrderRepository
	items    repositories.OrderItemRepository
	profiles repositories.ProfileRepository
	products repositories.ProductRepository
	counters CounterService
	carrier  Carrier
	locker   locks.Locker
	labels   LabelArchiver
	notifier Notifier
	changes  ChangePublisher
	now      func() time.Time
	newID    func() string
	logger   logFunc
	opts     FulfillmentOptions
}

var _ FulfillmentService = (*fulfillmentService)(nil)

// NewFulfillmentService wires the order state machine to its store and side-effect collaborators.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Items == nil {
		return nil, errors.New("fulfillment service: order item repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("fulfillment service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	locker := deps.Locker
	if locker == nil {
		locker = locks.NewMemoryLocker(clock)
	}

	return &fulfillmentService{
		orders:   deps.Orders,
		items:    deps.Items,
		profiles: deps.Profiles,
		products: deps.Products,
		counters: deps.Counters,
		carrier:  deps.Carrier,
		locker:   locker,
		labels:   deps.Labels,
		notifier: deps.Notifier,
		changes:  deps.Changes,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
		opts:   deps.Options.withDefaults(),
	}, nil
}

func (s *fulfillmentService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if len(cmd.Items) == 0 {
		return Order{}, invalidInput("at least one item is required")
	}
	guestEmail := strings.TrimSpace(cmd.GuestEmail)
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" && guestEmail == "" {
		return Order{}, invalidInput("user id or guest email is required")
	}
	if cmd.Financials.Total.PLN < 0 || cmd.Financials.Total.EUR < 0 {
		return Order{}, invalidInput("total must not be negative")
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = orderIDPrefix + strings.ToLower(s.newID())
	}

	items := make([]OrderItem, 0, len(cmd.Items))
	for i, line := range cmd.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			return Order{}, invalidInput("items[%d].productId is required", i)
		}
		if line.Quantity <= 0 {
			return Order{}, invalidInput("items[%d].quantity must be positive", i)
		}
		if line.UnitPrice.PLN < 0 || line.UnitPrice.EUR < 0 {
			return Order{}, invalidInput("items[%d].unitPrice must not be negative", i)
		}
		items = append(items, OrderItem{
			ID:        itemIDPrefix + strings.ToLower(s.newID()),
			OrderID:   orderID,
			ProductID: strings.TrimSpace(line.ProductID),
			Name:      textutil.PlainText(line.Name),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: allocate order number: %w", err)
	}

	locale := ""
	if strings.TrimSpace(cmd.Locale) != "" {
		locale = notifications.CanonicalLocale(cmd.Locale, "")
	}

	now := s.now()
	order := Order{
		ID:          orderID,
		OrderNumber: number,
		UserID:      userID,
		GuestEmail:  guestEmail,
		Locale:      locale,
		Status:      domain.PaymentStatusPending,
		Stage:       domain.ShipmentStageNone,
		Financials:  cmd.Financials,
		Shipment:    domain.Shipment{Address: cmd.Address},
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err)
	}

	publishChange(ctx, s.changes, changes.KindInsert, order, nil, now)
	return order, nil
}

func (s *fulfillmentService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	items, err := s.items.List(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	order.Items = items
	return order, nil
}

func (s *fulfillmentService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if _, ok := domain.ParsePaymentStatus(string(status)); !ok {
			return domain.CursorPage[Order]{}, invalidInput("unknown status %q", status)
		}
	}
	for _, stage := range filter.Stages {
		if !stage.Valid() {
			return domain.CursorPage[Order]{}, invalidInput("unknown shipment stage %q", stage)
		}
	}
	switch filter.Trash {
	case "", repositories.TrashFilterActive, repositories.TrashFilterOnly, repositories.TrashFilterAll:
	default:
		return domain.CursorPage[Order]{}, invalidInput("unknown trash filter %q", filter.Trash)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *fulfillmentService) CountUnseen(ctx context.Context) (int64, error) {
	count, err := s.orders.CountUnseen(ctx)
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	return count, nil
}

func (s *fulfillmentService) ApplyPayment(ctx context.Context, cmd PaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if err := guardApplyPayment(*o); err != nil {
			return err
		}
		o.Status = domain.PaymentStatusPaid
		o.PaidAt = timePtr(now)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order.payment.applied", map[string]any{
		"orderID":  orderID,
		"provider": cmd.Provider,
		"eventID":  cmd.EventID,
	})
	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"status", "paidAt"}, now)
	return updated, nil
}

func (s *fulfillmentService) MarkCompleted(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if err := guardMarkCompleted(*o); err != nil {
			return err
		}
		o.Status = domain.PaymentStatusCompleted
		o.CompletedAt = timePtr(now)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"status", "completedAt"}, now)
	s.notify(ctx, notifications.EventStatusUpdate, updated)
	return updated, nil
}

func (s *fulfillmentService) CreateShipment(ctx context.Context, cmd CreateShipmentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	if err := validateParcelOverrides(cmd.Dimensions, cmd.WeightKg); err != nil {
		return Order{}, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if err := guardCreateShipment(order); err != nil {
		return Order{}, err
	}
	if s.carrier == nil {
		return Order{}, fmt.Errorf("%w: carrier is not configured", ErrCarrierUnavailable)
	}

	lease, err := s.locker.Acquire(ctx, shipmentLockPrefix+orderID, s.opts.ShipmentLockTTL)
	if err != nil {
		if errors.Is(err, locks.ErrLocked) {
			return Order{}, fmt.Errorf("%w: shipment creation already in progress", ErrOrderConflict)
		}
		return Order{}, fmt.Errorf("order: acquire shipment lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx, "order.shipment.unlock.failed", map[string]any{"orderID": orderID, "error": err.Error()})
		}
	}()

	// Another request may have finished between the first read and the lock.
	order, err = s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if err := guardCreateShipment(order); err != nil {
		return Order{}, err
	}

	items, err := s.items.List(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	req, err := s.shipmentRequest(ctx, order, items, cmd)
	if err != nil {
		return Order{}, err
	}

	// The carrier call has to finish early enough to persist its id while the lease still holds.
	carrierCtx, cancelCarrier := context.WithTimeout(ctx, s.opts.ShipmentLockTTL-s.opts.ShipmentLockTTL/4)
	result, err := s.carrier.CreateShipment(carrierCtx, req)
	cancelCarrier()
	if err != nil {
		s.logger(ctx, "order.shipment.create.failed", map[string]any{
			"orderID": orderID,
			"outcome": carrier.Outcome(err),
			"error":   err.Error(),
		})
		return Order{}, carrierError(err)
	}
	externalID := strings.TrimSpace(result.ExternalID)
	if externalID == "" {
		return Order{}, fmt.Errorf("%w: carrier returned no shipment id", ErrCarrierUnavailable)
	}

	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if o.Shipment.HasExternalShipment() {
			return fmt.Errorf("%w: shipment %s stored concurrently", ErrOrderConflict, o.Shipment.ExternalShipmentID)
		}
		if err := guardCreateShipment(*o); err != nil {
			return err
		}
		o.Shipment.ExternalShipmentID = externalID
		o.Shipment.CarrierID = strings.TrimSpace(result.CarrierID)
		o.Shipment.CarrierName = strings.TrimSpace(result.CarrierName)
		o.Shipment.ServiceID = req.ServiceID
		o.Shipment.LabelURL = strings.TrimSpace(result.LabelURL)
		o.Shipment.CreatedAt = timePtr(now)
		if o.Stage.Before(domain.ShipmentStageCreated) {
			o.Stage = domain.ShipmentStageCreated
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		// The carrier already holds a shipment; an operator has to reconcile it by external id.
		s.logger(ctx, "order.shipment.persist.failed", map[string]any{
			"orderID":            orderID,
			"externalShipmentID": externalID,
			"error":              err.Error(),
		})
		return Order{}, mapRepositoryError(err)
	}

	// The shipment id is durable from here on, so a slow label download cannot reopen the guard.
	if labelObject := s.archiveLabel(ctx, orderID, externalID, result.LabelURL); labelObject != "" {
		withLabel, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
			if o.Shipment.ExternalShipmentID != externalID {
				return fmt.Errorf("%w: shipment changed to %s", ErrOrderConflict, o.Shipment.ExternalShipmentID)
			}
			o.Shipment.LabelObject = labelObject
			return nil
		})
		if err != nil {
			s.logger(ctx, "order.label.persist.failed", map[string]any{
				"orderID":            orderID,
				"externalShipmentID": externalID,
				"labelObject":        labelObject,
				"error":              err.Error(),
			})
		} else {
			updated = withLabel
		}
	}
	updated.Items = items

	s.logger(ctx, "order.shipment.created", map[string]any{
		"orderID":            orderID,
		"externalShipmentID": externalID,
		"serviceID":          req.ServiceID,
		"weightKg":           req.Parcel.WeightKg.String(),
	})
	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"shipment", "shipmentStage"}, now)
	s.notify(ctx, notifications.EventOrderAccepted, updated)
	return updated, nil
}

func (s *fulfillmentService) SyncTracking(ctx context.Context, orderID string) (Order, bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, false, invalidInput("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, false, mapRepositoryError(err)
	}
	if err := guardSyncTracking(order); err != nil {
		return Order{}, false, err
	}
	if s.carrier == nil {
		return Order{}, false, fmt.Errorf("%w: carrier is not configured", ErrCarrierUnavailable)
	}

	externalID := order.Shipment.ExternalShipmentID
	tracking, err := s.carrier.GetTracking(ctx, externalID)
	if err != nil {
		if errors.Is(err, carrier.ErrNotFound) {
			return Order{}, false, fmt.Errorf("%w: carrier has no shipment %s", ErrOrderConflict, externalID)
		}
		return Order{}, false, carrierError(err)
	}

	now := s.now()
	var change trackingChange
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if o.Shipment.ExternalShipmentID != externalID {
			return fmt.Errorf("%w: shipment changed during tracking sync", ErrOrderConflict)
		}
		change = applyTracking(o, tracking, now)
		if !change.changed() {
			return errNoChange
		}
		o.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNoChange) {
		return order, false, nil
	}
	if err != nil {
		return Order{}, false, mapRepositoryError(err)
	}

	publishChange(ctx, s.changes, changes.KindUpdate, updated, change.Fields, now)
	if change.FirstTracking || change.FirstDelivered {
		s.notify(ctx, notifications.EventStatusUpdate, updated)
	}
	return updated, true, nil
}

func (s *fulfillmentService) SyncAwaitingTracking(ctx context.Context, limit int) (TrackingSyncSummary, error) {
	if limit <= 0 {
		limit = s.opts.TrackingSyncBatch
	}
	if limit > maxTrackingSyncBatch {
		limit = maxTrackingSyncBatch
	}
	orders, err := s.orders.ListAwaitingTracking(ctx, limit)
	if err != nil {
		return TrackingSyncSummary{}, mapRepositoryError(err)
	}

	var summary TrackingSyncSummary
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		_, changed, err := s.SyncTracking(ctx, order.ID)
		switch {
		case err != nil:
			summary.Failed++
			s.logger(ctx, "order.tracking.sync.failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		case changed:
			summary.Updated++
		}
	}
	return summary, nil
}

func (s *fulfillmentService) SetAdminSeen(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if current.Flags.AdminSeen {
		return current, nil
	}

	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if o.Flags.AdminSeen {
			return errNoChange
		}
		o.Flags.AdminSeen = true
		o.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNoChange) {
		current.Flags.AdminSeen = true
		return current, nil
	}
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"adminSeen"}, now)
	return updated, nil
}

func (s *fulfillmentService) SetStatsExclusion(ctx context.Context, orderID string, excluded bool) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	now := s.now()
	var unchanged Order
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if o.Flags.ExcludeFromStats == excluded {
			unchanged = *o
			return errNoChange
		}
		o.Flags.ExcludeFromStats = excluded
		o.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNoChange) {
		return unchanged, nil
	}
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"excludeFromStats"}, now)
	return updated, nil
}

func (s *fulfillmentService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	reason := truncateRunes(textutil.PlainText(cmd.Reason), maxCancelReasonRunes)

	now := s.now()
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if err := guardCancel(*o); err != nil {
			return err
		}
		o.Status = domain.PaymentStatusCancelled
		o.CancelledAt = timePtr(now)
		if reason != "" {
			o.CancelReason = &reason
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"status", "cancelledAt"}, now)
	s.notify(ctx, notifications.EventOrderCancelled, updated)
	return updated, nil
}

func (s *fulfillmentService) ResetShipment(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	now := s.now()
	var previous domain.Shipment
	updated, err := s.orders.Mutate(ctx, orderID, func(o *Order) error {
		if err := guardResetShipment(*o); err != nil {
			return err
		}
		previous = o.Shipment
		clearShipment(o)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.logger(ctx, "order.shipment.reset", map[string]any{
		"orderID":            orderID,
		"externalShipmentID": previous.ExternalShipmentID,
		"trackingNumber":     previous.TrackingNumber,
	})
	publishChange(ctx, s.changes, changes.KindUpdate, updated, []string{"shipment", "shipmentStage"}, now)
	return updated, nil
}

func (s *fulfillmentService) QuoteShipping(ctx context.Context, cmd ShippingQuoteCommand) ([]ShippingRate, error) {
	if err := validateParcelOverrides(cmd.Dimensions, cmd.WeightKg); err != nil {
		return nil, err
	}
	if s.carrier == nil {
		return nil, fmt.Errorf("%w: carrier is not configured", ErrCarrierUnavailable)
	}

	address := cmd.Address
	var items []OrderItem
	if orderID := strings.TrimSpace(cmd.OrderID); orderID != "" {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, mapRepositoryError(err)
		}
		items, err = s.items.List(ctx, orderID)
		if err != nil {
			return nil, mapRepositoryError(err)
		}
		address = order.Shipment.Address
	} else if strings.TrimSpace(address.Country) == "" || strings.TrimSpace(address.PostalCode) == "" {
		return nil, invalidInput("order id or destination country and postal code are required")
	}

	parcel := s.parcel(ctx, items, cmd.Dimensions, cmd.WeightKg)
	rates, err := s.carrier.Quote(ctx, carrier.QuoteRequest{Receiver: toCarrierAddress(address), Parcel: parcel})
	if err != nil {
		return nil, carrierError(err)
	}

	out := make([]ShippingRate, 0, len(rates))
	for _, rate := range rates {
		out = append(out, ShippingRate{
			ServiceID:    rate.ServiceID,
			CarrierID:    rate.CarrierID,
			CarrierName:  rate.CarrierName,
			Price:        rate.Price,
			Currency:     rate.Currency,
			DeliveryDays: rate.DeliveryDays,
		})
	}
	return out, nil
}

func (s *fulfillmentService) LabelDownloadURL(ctx context.Context, orderID string) (LabelLink, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return LabelLink{}, err
	}
	if order.Shipment.LabelObject != "" && s.labels != nil {
		signed, err := s.labels.DownloadURL(ctx, order.Shipment.LabelObject)
		switch {
		case err == nil:
			return LabelLink{URL: signed.URL, ExpiresAt: signed.ExpiresAt}, nil
		case errors.Is(err, storage.ErrSigningUnavailable) && order.Shipment.LabelURL != "":
			s.logger(ctx, "order.label.sign.unavailable", map[string]any{"orderID": order.ID})
		default:
			return LabelLink{}, err
		}
	}
	if order.Shipment.LabelURL == "" {
		return LabelLink{}, invalidState("order has no shipping label")
	}
	return LabelLink{URL: order.Shipment.LabelURL}, nil
}

func (s *fulfillmentService) shipmentRequest(ctx context.Context, order Order, items []OrderItem, cmd CreateShipmentCommand) (carrier.ShipmentRequest, error) {
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if serviceID == "" {
		serviceID = strings.TrimSpace(order.Shipment.ServiceID)
	}
	if serviceID == "" {
		serviceID = s.opts.DefaultServiceID
	}
	if serviceID == "" {
		return carrier.ShipmentRequest{}, invalidInput("carrier service id is required")
	}

	reference := order.OrderNumber
	if reference == "" {
		reference = order.ID
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if name := strings.TrimSpace(item.Name); name != "" {
			names = append(names, name)
		}
	}

	return carrier.ShipmentRequest{
		Reference: reference,
		ServiceID: serviceID,
		Receiver:  toCarrierAddress(order.Shipment.Address),
		Parcel:    s.parcel(ctx, items, cmd.Dimensions, cmd.WeightKg),
		Contents:  truncateRunes(strings.Join(names, ", "), maxContentsRunes),
	}, nil
}

func (s *fulfillmentService) parcel(ctx context.Context, items []OrderItem, dims *ParcelDimensions, weight *decimal.Decimal) carrier.Parcel {
	size := s.opts.Parcel
	if dims != nil {
		size = *dims
	}
	parcel := carrier.Parcel{LengthCm: size.LengthCm, WidthCm: size.WidthCm, HeightCm: size.HeightCm}

	if weight != nil {
		parcel.WeightKg = floorWeight(*weight, s.opts.MinParcelWeightKg)
		return parcel
	}

	var unitWeights map[string]string
	if s.products != nil && len(items) > 0 {
		var err error
		unitWeights, err = s.products.UnitWeights(ctx, productIDs(items))
		if err != nil {
			s.logger(ctx, "order.parcel.weights.failed", map[string]any{"error": err.Error()})
		}
	}
	parcel.WeightKg = parcelWeight(items, unitWeights, s.opts.DefaultItemWeightKg, s.opts.MinParcelWeightKg)
	return parcel
}

func (s *fulfillmentService) archiveLabel(ctx context.Context, orderID, shipmentID, labelURL string) string {
	if s.labels == nil || strings.TrimSpace(labelURL) == "" {
		return ""
	}
	object, err := s.labels.Archive(ctx, orderID, shipmentID, labelURL)
	if err != nil {
		s.logger(ctx, "order.label.archive.failed", map[string]any{
			"orderID":            orderID,
			"externalShipmentID": shipmentID,
			"error":              err.Error(),
		})
		return ""
	}
	return object
}

func (s *fulfillmentService) notify(ctx context.Context, event string, order Order) {
	if s.notifier == nil {
		return
	}
	to := resolveRecipient(ctx, s.profiles, order, s.logger)
	s.notifier.Dispatch(ctx, notificationFor(event, order, to))
}

func carrierError(err error) error {
	var validation *carrier.ValidationError
	if errors.As(err, &validation) {
		return fmt.Errorf("%w: %w", ErrShipmentRejected, validation)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCarrierUnavailable, err)
}

func validateParcelOverrides(dims *ParcelDimensions, weight *decimal.Decimal) error {
	if dims != nil {
		for name, v := range map[string]int{"length": dims.LengthCm, "width": dims.WidthCm, "height": dims.HeightCm} {
			if v <= 0 || v > maxParcelSideCm {
				return invalidInput("parcel %s must be between 1 and %d cm", name, maxParcelSideCm)
			}
		}
	}
	if weight != nil && !weight.IsPositive() {
		return invalidInput("parcel weight must be positive")
	}
	return nil
}

func truncateRunes(value string, limit int) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
