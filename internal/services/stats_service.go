package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

const maxStatsRange = 366 * 24 * time.Hour

// StatsServiceDeps bundles collaborators required to construct the stats aggregator.
type StatsServiceDeps struct {
	Orders repositories.OrderRepository
}

type statsService struct {
	orders repositories.OrderRepository
}

var _ StatsService = (*statsService)(nil)

// NewStatsService constructs the read-only stats aggregator.
func NewStatsService(deps StatsServiceDeps) (StatsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("stats service: order repository is required")
	}
	return &statsService{orders: deps.Orders}, nil
}

// Summarize recomputes totals for orders created in [from, to). Orders excluded from stats or in
// trash only increase Excluded.
func (s *statsService) Summarize(ctx context.Context, from, to time.Time) (StatsSummary, error) {
	if from.IsZero() || to.IsZero() {
		return StatsSummary{}, invalidInput("from and to are required")
	}
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return StatsSummary{}, invalidInput("from must be before to")
	}
	if to.Sub(from) > maxStatsRange {
		return StatsSummary{}, invalidInput("range must not exceed 366 days")
	}

	orders, err := s.orders.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return StatsSummary{}, mapRepositoryError(err)
	}

	summary := StatsSummary{
		From:     from,
		To:       to,
		ByStatus: make(map[domain.PaymentStatus]int),
	}
	for _, order := range orders {
		if !order.CountsTowardStats() {
			summary.Excluded++
			continue
		}
		summary.Orders++
		summary.ByStatus[order.Status]++
		summary.Revenue = summary.Revenue.Add(order.Financials.Total)
		summary.Shipping = summary.Shipping.Add(order.Financials.ShippingCost)
		if order.Financials.Discount != nil {
			summary.Discounts = summary.Discounts.Add(*order.Financials.Discount)
		}
	}
	return summary, nil
}
