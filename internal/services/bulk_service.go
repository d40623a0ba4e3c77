package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
)

const defaultBulkLimit = 500

// Bulk item outcomes reported to the recorder.
const (
	bulkOutcomeSucceeded = "succeeded"
	bulkOutcomeFailed    = "failed"
	bulkOutcomeSkipped   = "skipped"
)

// BulkServiceDeps bundles collaborators required to construct the bulk operator.
type BulkServiceDeps struct {
	Fulfillment FulfillmentService
	Trash       TrashService
	Recorder    BulkRecorder
	Limit       int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type bulkService struct {
	fulfillment FulfillmentService
	trash       TrashService
	recorder    BulkRecorder
	limit       int
	logger      logFunc
}

var _ BulkService = (*bulkService)(nil)

// NewBulkService constructs the bulk operator on top of the single-order services.
func NewBulkService(deps BulkServiceDeps) (BulkService, error) {
	if deps.Fulfillment == nil {
		return nil, errors.New("bulk service: fulfillment service is required")
	}
	if deps.Trash == nil {
		return nil, errors.New("bulk service: trash service is required")
	}
	limit := deps.Limit
	if limit <= 0 || limit > defaultBulkLimit {
		limit = defaultBulkLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &bulkService{
		fulfillment: deps.Fulfillment,
		trash:       deps.Trash,
		recorder:    deps.Recorder,
		limit:       limit,
		logger:      logger,
	}, nil
}

// Apply processes the selection sequentially. Per-item failures are logged and counted, never returned.
func (s *bulkService) Apply(ctx context.Context, cmd BulkCommand) (BulkSummary, error) {
	ids := dedupeIDs(cmd.OrderIDs)
	if len(ids) == 0 {
		return BulkSummary{}, invalidInput("at least one order id is required")
	}
	if len(ids) > s.limit {
		return BulkSummary{}, invalidInput("at most %d orders per bulk action", s.limit)
	}

	var apply func(ctx context.Context, orderID string) (skipped bool, err error)
	switch cmd.Action {
	case BulkActionComplete:
		apply = s.complete
	case BulkActionSyncTracking:
		apply = func(ctx context.Context, orderID string) (bool, error) {
			_, _, err := s.fulfillment.SyncTracking(ctx, orderID)
			return false, err
		}
	case BulkActionSoftDelete:
		apply = func(ctx context.Context, orderID string) (bool, error) {
			_, err := s.trash.SoftDelete(ctx, orderID)
			return false, err
		}
	case BulkActionToggleStatsExclude:
		exclude, err := s.exclusionTarget(ctx, ids)
		if err != nil {
			return BulkSummary{}, err
		}
		apply = func(ctx context.Context, orderID string) (bool, error) {
			_, err := s.fulfillment.SetStatsExclusion(ctx, orderID, exclude)
			return false, err
		}
	default:
		return BulkSummary{}, invalidInput("unknown bulk action %q", cmd.Action)
	}

	summary := BulkSummary{Results: make([]BulkResult, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		skipped, err := apply(ctx, id)
		result := BulkResult{OrderID: id, Err: err, Skipped: skipped}
		summary.Results = append(summary.Results, result)

		switch {
		case skipped:
			s.record(cmd.Action, bulkOutcomeSkipped)
			continue
		case err != nil:
			s.record(cmd.Action, bulkOutcomeFailed)
			s.logger(ctx, "order.bulk.item.failed", map[string]any{
				"action":  string(cmd.Action),
				"orderID": id,
				"error":   err.Error(),
			})
		default:
			s.record(cmd.Action, bulkOutcomeSucceeded)
			summary.Succeeded++
		}
		summary.Attempted++
	}

	s.logger(ctx, "order.bulk.applied", map[string]any{
		"action":    string(cmd.Action),
		"succeeded": summary.Succeeded,
		"attempted": summary.Attempted,
		"selected":  len(ids),
	})
	return summary, nil
}

// complete only touches paid orders. Anything else is skipped without calling the state machine.
func (s *bulkService) complete(ctx context.Context, orderID string) (bool, error) {
	order, err := s.fulfillment.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return true, err
		}
		return false, err
	}
	if order.Status != domain.PaymentStatusPaid {
		return true, nil
	}
	_, err = s.fulfillment.MarkCompleted(ctx, orderID)
	return false, err
}

// exclusionTarget is true unless every found order is already excluded.
func (s *bulkService) exclusionTarget(ctx context.Context, ids []string) (bool, error) {
	found := 0
	for _, id := range ids {
		order, err := s.fulfillment.GetOrder(ctx, id)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				continue
			}
			return false, err
		}
		found++
		if !order.Flags.ExcludeFromStats {
			return true, nil
		}
	}
	return found == 0, nil
}

func (s *bulkService) record(action BulkAction, outcome string) {
	if s.recorder != nil {
		s.recorder.BulkItem(string(action), outcome)
	}
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
