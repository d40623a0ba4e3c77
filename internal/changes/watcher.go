package changes

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
)

const (
	watchCollection    = "orders"
	watchRestartDelay  = 2 * time.Second
	watchRestartWindow = time.Minute
)

// EventPublisher accepts change events.
type EventPublisher interface {
	Publish(ctx context.Context, event ChangeEvent)
}

// Watcher listens to the orders collection and republishes documents created after it started,
// covering inserts that bypass the service layer.
type Watcher struct {
	provider *pfirestore.Provider
	hub      EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewWatcher builds a watcher publishing into hub.
func NewWatcher(provider *pfirestore.Provider, hub EventPublisher, logger *zap.Logger) (*Watcher, error) {
	if provider == nil {
		return nil, errors.New("change watcher: firestore provider is required")
	}
	if hub == nil {
		return nil, errors.New("change watcher: publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{provider: provider, hub: hub, logger: logger, now: time.Now}, nil
}

// Run blocks until ctx is cancelled. Listener failures restart the listener from slightly before
// the failure so no insert is missed.
func (w *Watcher) Run(ctx context.Context) error {
	since := w.now().UTC()
	for {
		lastSeen, err := w.listen(ctx, since)
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("order watcher restarting", zap.Error(err))
		since = lastSeen.Add(-watchRestartWindow)

		timer := time.NewTimer(watchRestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (w *Watcher) listen(ctx context.Context, since time.Time) (time.Time, error) {
	client, err := w.provider.Client(ctx)
	if err != nil {
		return since, err
	}
	iter := client.Collection(watchCollection).Where("createdAt", ">=", since).Snapshots(ctx)
	defer iter.Stop()

	lastSeen := since
	for {
		snapshot, err := iter.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				return lastSeen, nil
			}
			return lastSeen, pfirestore.WrapError("orders.watch", err)
		}
		for _, change := range snapshot.Changes {
			if change.Kind != firestore.DocumentAdded || change.Doc == nil {
				continue
			}
			if err := backfillQueryFields(ctx, client, change.Doc.Ref); err != nil {
				w.logger.Warn("order watcher backfill failed",
					zap.String("orderID", change.Doc.Ref.ID),
					zap.Error(err),
				)
			}
			event := eventFromSnapshot(change.Doc, w.now())
			w.hub.Publish(ctx, event)
			if event.OccurredAt.After(lastSeen) {
				lastSeen = event.OccurredAt
			}
		}
	}
}

func eventFromSnapshot(doc *firestore.DocumentSnapshot, fallback time.Time) ChangeEvent {
	orderNumber, _ := doc.DataAt("orderNumber")
	number, _ := orderNumber.(string)
	createdAt, _ := doc.DataAt("createdAt")
	at, _ := createdAt.(time.Time)
	if at.IsZero() {
		at = doc.CreateTime
	}
	if at.IsZero() {
		at = fallback
	}
	event := NewEvent(KindInsert, doc.Ref.ID, number, nil, at)
	event.Source = SourceWatcher
	return event
}

// backfillQueryFields writes the flags active-order queries filter on when an insert did not set
// them. Equality filters skip documents that lack the field entirely.
func backfillQueryFields(ctx context.Context, client *firestore.Client, ref *firestore.DocumentRef) error {
	return client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		updates := missingQueryFields(snapshot.Data())
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(ref, updates)
	})
}

func missingQueryFields(data map[string]any) []firestore.Update {
	var updates []firestore.Update
	if _, ok := data["trashed"]; !ok {
		deletedAt, _ := data["deletedAt"].(time.Time)
		updates = append(updates, firestore.Update{Path: "trashed", Value: !deletedAt.IsZero()})
	}
	if _, ok := data["adminSeen"]; !ok {
		updates = append(updates, firestore.Update{Path: "adminSeen", Value: false})
	}
	if _, ok := data["excludeFromStats"]; !ok {
		updates = append(updates, firestore.Update{Path: "excludeFromStats", Value: false})
	}
	if _, ok := data["shipmentStage"]; !ok {
		stage := domain.ShipmentStageNone
		if raw, _ := data["status"].(string); domain.IsLegacyShipped(raw) {
			stage = domain.ShipmentStageTrackingAssigned
		}
		updates = append(updates, firestore.Update{Path: "shipmentStage", Value: string(stage)})
	}
	if _, ok := data["deletedAt"]; !ok {
		updates = append(updates, firestore.Update{Path: "deletedAt", Value: nil})
	}
	return updates
}
