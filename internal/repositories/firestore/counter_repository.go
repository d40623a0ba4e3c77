package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out monotonically increasing sequence values. Values are never
// decremented, so a number issued for a purged order is never issued again.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository: firestore provider is required")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next increments the counter inside a transaction and returns the new value. A step of zero
// reuses the stored step, defaulting to one for fresh counters.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return 0, err
	}

	now := r.now()
	var issued int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := counterDocument{}
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
		case codes.NotFound:
		default:
			return err
		}

		increment := step
		if increment == 0 {
			increment = doc.Step
		}
		if increment <= 0 {
			increment = 1
		}

		next := doc.CurrentValue + increment
		if doc.MaxValue != nil && next > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("exceeded max value %d", *doc.MaxValue), nil).WithCounter(id)
		}

		doc.CurrentValue = next
		doc.Step = increment
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		issued = next
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr.WithCounter(id)
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return issued, nil
}

// Configure merges step, max value or a starting value into the counter document.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if cfg.InitialValue != nil && *cfg.InitialValue < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "initial value must not be negative", nil)
	}

	payload := map[string]any{"updatedAt": r.now()}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
