package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/spiritcandles/fulfillment/internal/changes"
	"github.com/spiritcandles/fulfillment/internal/platform/auth"
	"github.com/spiritcandles/fulfillment/internal/services"
)

const (
	defaultAdminTimeout   = 60 * time.Second
	defaultHeartbeat      = 25 * time.Second
	defaultQuoteRateLimit = 30
	defaultQuoteWindow    = time.Minute
)

// ChangeFeed hands out subscriptions to the live order change stream.
type ChangeFeed interface {
	Subscribe() (<-chan changes.ChangeEvent, func())
}

// AdminHandlers exposes the operator panel API.
type AdminHandlers struct {
	authn       *auth.Authenticator
	roles       []string
	fulfillment services.FulfillmentService
	trash       services.TrashService
	bulk        services.BulkService
	stats       services.StatsService
	feed        ChangeFeed
	mutating    []func(http.Handler) http.Handler
	timeout     time.Duration
	heartbeat   time.Duration
	quoteLimit  rateLimiter
	clock       func() time.Time
}

// AdminOption customises AdminHandlers.
type AdminOption func(*AdminHandlers)

// NewAdminHandlers constructs the admin handlers. Operators must hold one of the admin roles.
func NewAdminHandlers(authn *auth.Authenticator, fulfillment services.FulfillmentService, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{
		authn:       authn,
		roles:       []string{auth.RoleAdmin, auth.RoleStaff},
		fulfillment: fulfillment,
		timeout:     defaultAdminTimeout,
		heartbeat:   defaultHeartbeat,
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.quoteLimit == nil {
		h.quoteLimit = newWindowRateLimiter(defaultQuoteRateLimit, defaultQuoteWindow, h.clock)
	}
	return h
}

// WithAdminRoles overrides the roles admitted to the admin API.
func WithAdminRoles(roles ...string) AdminOption {
	return func(h *AdminHandlers) {
		if len(roles) > 0 {
			h.roles = append([]string(nil), roles...)
		}
	}
}

// WithAdminTrash wires the soft-delete lifecycle endpoints.
func WithAdminTrash(trash services.TrashService) AdminOption {
	return func(h *AdminHandlers) { h.trash = trash }
}

// WithAdminBulk wires POST /orders:bulk.
func WithAdminBulk(bulk services.BulkService) AdminOption {
	return func(h *AdminHandlers) { h.bulk = bulk }
}

// WithAdminStats wires GET /stats.
func WithAdminStats(stats services.StatsService) AdminOption {
	return func(h *AdminHandlers) { h.stats = stats }
}

// WithAdminChangeFeed wires the server-sent change stream.
func WithAdminChangeFeed(feed ChangeFeed) AdminOption {
	return func(h *AdminHandlers) { h.feed = feed }
}

// WithAdminMutationMiddlewares wraps every mutating admin route, e.g. with idempotency replay.
func WithAdminMutationMiddlewares(mw ...func(http.Handler) http.Handler) AdminOption {
	return func(h *AdminHandlers) { h.mutating = append(h.mutating, mw...) }
}

// WithAdminTimeout bounds non-streaming admin requests.
func WithAdminTimeout(timeout time.Duration) AdminOption {
	return func(h *AdminHandlers) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithAdminHeartbeat sets the keep-alive interval of the change stream.
func WithAdminHeartbeat(interval time.Duration) AdminOption {
	return func(h *AdminHandlers) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// WithAdminQuoteRateLimit caps shipping quotes per operator and window.
func WithAdminQuoteRateLimit(limit int, window time.Duration) AdminOption {
	return func(h *AdminHandlers) {
		h.quoteLimit = newWindowRateLimiter(limit, window, h.clock)
	}
}

// WithAdminClock overrides the clock used for rate limiting.
func WithAdminClock(clock func() time.Time) AdminOption {
	return func(h *AdminHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireOperator(h.roles...))
	}

	// The change stream outlives the request timeout.
	r.Get("/orders/changes", h.streamChanges)

	r.Group(func(api chi.Router) {
		api.Use(middleware.Timeout(h.timeout))

		api.Get("/orders", h.listOrders)
		api.Get("/orders/unseen-count", h.unseenCount)
		api.Get("/orders/{orderID}", h.getOrder)
		api.Get("/orders/{orderID}/label", h.labelURL)
		api.Get("/stats", h.summarizeStats)

		api.Group(func(mut chi.Router) {
			for _, mw := range h.mutating {
				if mw != nil {
					mut.Use(mw)
				}
			}
			mut.Post("/orders:bulk", h.applyBulk)
			mut.Post("/orders/{orderID}:complete", h.completeOrder)
			mut.Post("/orders/{orderID}:create-shipment", h.createShipment)
			mut.Post("/orders/{orderID}:sync-tracking", h.syncTracking)
			mut.Post("/orders/{orderID}:mark-seen", h.markSeen)
			mut.Post("/orders/{orderID}:exclude-from-stats", h.excludeFromStats)
			mut.Post("/orders/{orderID}:cancel", h.cancelOrder)
			mut.Post("/orders/{orderID}:reset-shipment", h.resetShipment)
			mut.Post("/orders/{orderID}:trash", h.trashOrder)
			mut.Post("/orders/{orderID}:restore", h.restoreOrder)
			mut.Delete("/orders/{orderID}", h.purgeOrder)
			mut.Post("/shipping:quote", h.quoteShipping)
		})
	})
}
