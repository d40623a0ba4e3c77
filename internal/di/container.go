package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spiritcandles/fulfillment/internal/changes"
	"github.com/spiritcandles/fulfillment/internal/platform/config"
	"github.com/spiritcandles/fulfillment/internal/platform/locks"
	"github.com/spiritcandles/fulfillment/internal/platform/observability"
	"github.com/spiritcandles/fulfillment/internal/repositories"
	"github.com/spiritcandles/fulfillment/internal/services"

	"go.uber.org/zap"
)

const readinessCacheTTL = 2 * time.Second

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Fulfillment services.FulfillmentService
	Trash       services.TrashService
	Bulk        services.BulkService
	Stats       services.StatsService
	Counters    services.CounterService
	System      services.SystemService
}

// Infrastructure carries the external collaborators built by the caller. Nil members disable the
// corresponding side effect.
type Infrastructure struct {
	Carrier  services.Carrier
	Locker   locks.Locker
	Labels   services.LabelArchiver
	Notifier services.Notifier
	Sinks    []changes.Sink
	Recorder Recorder
	Logger   *zap.Logger
	Build    services.BuildInfo
	Clock    func() time.Time
}

// Recorder is the metrics surface shared by the hub and bulk service.
type Recorder interface {
	changes.Recorder
	services.BulkRecorder
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Changes      *changes.Hub
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore
// repositories, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	hubOpts := changes.HubOptions{
		SubscriberBuffer: cfg.Changes.SubscriberBuffer,
		SinkBacklog:      cfg.Changes.SinkBacklog,
		RetryInitial:     cfg.Changes.RetryInitial,
		RetryMax:         cfg.Changes.RetryMax,
		Sinks:            infra.Sinks,
		Logger:           infra.Logger.Named("changes"),
	}
	if infra.Recorder != nil {
		hubOpts.Recorder = infra.Recorder
	}
	hub := changes.NewHub(hubOpts)

	svc, err := buildServices(ctx, reg, cfg, infra, hub)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Changes:      hub,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure, hub *changes.Hub) (Services, error) {
	var svc Services
	logFn := observability.NewEventLogger(infra.Logger.Named("services"))

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository:        reg.Counters(),
		Clock:             infra.Clock,
		OrderNumberPrefix: cfg.Fulfillment.OrderNumberPrefix,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            infra.Clock,
			Build:            infra.Build,
			CacheTTL:         readinessCacheTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:   reg.Orders(),
		Items:    reg.OrderItems(),
		Profiles: reg.Profiles(),
		Products: reg.Products(),
		Counters: counterSvc,
		Carrier:  infra.Carrier,
		Locker:   infra.Locker,
		Labels:   infra.Labels,
		Notifier: infra.Notifier,
		Changes:  hub,
		Clock:    infra.Clock,
		Logger:   logFn,
		Options: services.FulfillmentOptions{
			DefaultServiceID:    cfg.Carrier.DefaultServiceID,
			DefaultItemWeightKg: cfg.Fulfillment.DefaultItemWeightKg,
			MinParcelWeightKg:   cfg.Fulfillment.MinParcelWeightKg,
			Parcel: services.ParcelDimensions{
				LengthCm: cfg.Fulfillment.ParcelLengthCm,
				WidthCm:  cfg.Fulfillment.ParcelWidthCm,
				HeightCm: cfg.Fulfillment.ParcelHeightCm,
			},
			ShipmentLockTTL:   cfg.Fulfillment.ShipmentLockTTL,
			TrackingSyncBatch: cfg.Fulfillment.TrackingSyncBatch,
		},
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	trashSvc, err := services.NewTrashService(services.TrashServiceDeps{
		Orders:   reg.Orders(),
		Profiles: reg.Profiles(),
		Notifier: infra.Notifier,
		Changes:  hub,
		Clock:    infra.Clock,
		Logger:   logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build trash service: %w", err)
	}
	svc.Trash = trashSvc

	bulkDeps := services.BulkServiceDeps{
		Fulfillment: fulfillmentSvc,
		Trash:       trashSvc,
		Limit:       cfg.Fulfillment.BulkLimit,
		Logger:      logFn,
	}
	if infra.Recorder != nil {
		bulkDeps.Recorder = infra.Recorder
	}
	bulkSvc, err := services.NewBulkService(bulkDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build bulk service: %w", err)
	}
	svc.Bulk = bulkSvc

	statsSvc, err := services.NewStatsService(services.StatsServiceDeps{Orders: reg.Orders()})
	if err != nil {
		return Services{}, fmt.Errorf("build stats service: %w", err)
	}
	svc.Stats = statsSvc

	return svc, nil
}
