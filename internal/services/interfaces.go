package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	"github.com/spiritcandles/fulfillment/internal/changes"
	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/notifications"
	"github.com/spiritcandles/fulfillment/internal/platform/storage"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	Money              = domain.Money
	Address            = domain.Address
	Financials         = domain.Financials
	PaymentStatus      = domain.PaymentStatus
	ShipmentStage      = domain.ShipmentStage
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// FulfillmentService drives an order through payment, confirmation, shipment and tracking.
type FulfillmentService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	CountUnseen(ctx context.Context) (int64, error)

	ApplyPayment(ctx context.Context, cmd PaymentCommand) (Order, error)
	MarkCompleted(ctx context.Context, orderID string) (Order, error)
	CreateShipment(ctx context.Context, cmd CreateShipmentCommand) (Order, error)
	// SyncTracking reports whether anything was persisted.
	SyncTracking(ctx context.Context, orderID string) (Order, bool, error)
	SyncAwaitingTracking(ctx context.Context, limit int) (TrackingSyncSummary, error)
	SetAdminSeen(ctx context.Context, orderID string) (Order, error)
	SetStatsExclusion(ctx context.Context, orderID string, excluded bool) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	ResetShipment(ctx context.Context, orderID string) (Order, error)

	QuoteShipping(ctx context.Context, cmd ShippingQuoteCommand) ([]ShippingRate, error)
	LabelDownloadURL(ctx context.Context, orderID string) (LabelLink, error)
}

// TrashService manages the soft-delete lifecycle that is orthogonal to order status.
type TrashService interface {
	SoftDelete(ctx context.Context, orderID string) (Order, error)
	Restore(ctx context.Context, orderID string) (Order, error)
	Purge(ctx context.Context, orderID string) error
}

// BulkService applies one action to a selection of orders, isolating per-item failures.
type BulkService interface {
	Apply(ctx context.Context, cmd BulkCommand) (BulkSummary, error)
}

// StatsService recomputes revenue rollups from stored orders.
type StatsService interface {
	Summarize(ctx context.Context, from, to time.Time) (StatsSummary, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	Ready(ctx context.Context) (SystemHealthReport, bool, error)
}

// CounterService issues sequential human facing identifiers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// Carrier is the subset of the shipping aggregator client used by the engine.
type Carrier interface {
	Quote(ctx context.Context, req carrier.QuoteRequest) ([]carrier.Rate, error)
	CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error)
	GetTracking(ctx context.Context, externalID string) (carrier.Tracking, error)
}

// Notifier triggers customer emails. Implementations never report failures to the caller.
type Notifier interface {
	Dispatch(ctx context.Context, n notifications.Notification)
}

// ChangePublisher receives an event after every persisted mutation.
type ChangePublisher interface {
	Publish(ctx context.Context, event changes.ChangeEvent)
}

// LabelArchiver keeps a durable copy of carrier labels.
type LabelArchiver interface {
	Archive(ctx context.Context, orderID, shipmentID, labelURL string) (string, error)
	DownloadURL(ctx context.Context, object string) (storage.SignedURLResult, error)
}

// BulkRecorder counts bulk item outcomes.
type BulkRecorder interface {
	BulkItem(action, outcome string)
}

// CreateOrderCommand is the checkout hand-off.
type CreateOrderCommand struct {
	OrderID    string
	UserID     string
	GuestEmail string
	Locale     string
	Financials Financials
	Address    Address
	Items      []CreateOrderItem
}

// CreateOrderItem is a checkout line with its price snapshot.
type CreateOrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice Money
}

// PaymentCommand records a verified capture from the payment provider.
type PaymentCommand struct {
	OrderID  string
	Provider string
	EventID  string
}

// ParcelDimensions overrides the default parcel size in centimetres.
type ParcelDimensions struct {
	LengthCm int
	WidthCm  int
	HeightCm int
}

// CreateShipmentCommand asks the carrier for a shipment. Zero values fall back to defaults.
type CreateShipmentCommand struct {
	OrderID    string
	Dimensions *ParcelDimensions
	WeightKg   *decimal.Decimal
	ServiceID  string
}

// CancelOrderCommand cancels an order with an optional operator reason.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
}

// ShippingQuoteCommand prices a parcel either for a stored order or for an ad-hoc address.
type ShippingQuoteCommand struct {
	OrderID    string
	Address    Address
	Dimensions *ParcelDimensions
	WeightKg   *decimal.Decimal
}

// ShippingRate is one priced carrier service.
type ShippingRate struct {
	ServiceID    string
	CarrierID    string
	CarrierName  string
	Price        decimal.Decimal
	Currency     string
	DeliveryDays int
}

// LabelLink is a short-lived download link for an archived label.
type LabelLink struct {
	URL       string
	ExpiresAt time.Time
}

// TrackingSyncSummary reports one polling pass over shipped orders.
type TrackingSyncSummary struct {
	Checked int
	Updated int
	Failed  int
}

// BulkAction names an operation supported by BulkService.
type BulkAction string

const (
	BulkActionComplete           BulkAction = "complete"
	BulkActionSyncTracking       BulkAction = "sync-tracking"
	BulkActionSoftDelete         BulkAction = "soft-delete"
	BulkActionToggleStatsExclude BulkAction = "toggle-stats-exclusion"
)

// BulkCommand selects orders for a bulk action.
type BulkCommand struct {
	Action   BulkAction
	OrderIDs []string
}

// BulkResult is the outcome for one order. Skipped items were ineligible and never attempted.
type BulkResult struct {
	OrderID string
	Err     error
	Skipped bool
}

// BulkSummary is the aggregate contract returned to callers.
type BulkSummary struct {
	Succeeded int
	Attempted int
	Results   []BulkResult
}

// StatsSummary aggregates orders created in a range.
type StatsSummary struct {
	From      time.Time
	To        time.Time
	Orders    int
	Revenue   Money
	Shipping  Money
	Discounts Money
	ByStatus  map[PaymentStatus]int
	Excluded  int
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(time.Time, int64) string
}

// CounterValue carries the raw and formatted counter result.
type CounterValue struct {
	Value     int64
	Formatted string
}
