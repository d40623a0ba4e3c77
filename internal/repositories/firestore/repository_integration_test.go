//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
	"github.com/spiritcandles/fulfillment/internal/platform/firestore/firestoretest"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

func newEmulatorRegistry(t *testing.T, projectID string) *Registry {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := pfirestore.NewProvider(firestoretest.StartEmulator(t, projectID))
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	reg, err := NewRegistry(provider, nil)
	require.NoError(t, err)
	return reg
}

func sampleOrder(id string, createdAt time.Time, items int) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: fmt.Sprintf("SC-2026-%06d", createdAt.Nanosecond()%1000000),
		GuestEmail:  "guest@example.com",
		Locale:      "pl",
		Status:      domain.PaymentStatusPaid,
		Stage:       domain.ShipmentStageNone,
		Financials: domain.Financials{
			Total:        domain.Money{PLN: 15000, EUR: 3500},
			ShippingCost: domain.Money{PLN: 1500, EUR: 350},
		},
		Shipment: domain.Shipment{Address: domain.Address{
			Name: "Jan Kowalski", Street: "Prosta 1", City: "Warszawa", PostalCode: "00-001", Country: "PL",
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	for i := 0; i < items; i++ {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        fmt.Sprintf("itm_%d", i),
			OrderID:   id,
			ProductID: fmt.Sprintf("candle-%d", i),
			Name:      "Candle",
			Quantity:  1,
			UnitPrice: domain.Money{PLN: 4500, EUR: 1000},
		})
	}
	return order
}

func TestCounterRepositoryIntegration(t *testing.T) {
	reg := newEmulatorRegistry(t, "counter-test")
	repo := reg.counters

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders:2026", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		require.Equal(t, int64(i+1), val)
	}

	max := int64(2)
	start := int64(0)
	require.NoError(t, repo.Configure(ctx, "bounded", repositories.CounterConfig{Step: 1, MaxValue: &max, InitialValue: &start}))
	for i := int64(1); i <= max; i++ {
		value, err := repo.Next(ctx, "bounded", 0)
		require.NoError(t, err)
		require.Equal(t, i, value)
	}
	_, err := repo.Next(ctx, "bounded", 0)
	var counterErr *repositories.CounterError
	require.True(t, errors.As(err, &counterErr))
	require.Equal(t, repositories.CounterErrorExhausted, counterErr.Code)
}

func TestOrderRepositoryLifecycleIntegration(t *testing.T) {
	reg := newEmulatorRegistry(t, "orders-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := sampleOrder("ord_a", base, 2)
	require.NoError(t, reg.Orders().Insert(ctx, order))

	err := reg.Orders().Insert(ctx, order)
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	require.True(t, repoErr.IsConflict())

	items, err := reg.OrderItems().List(ctx, "ord_a")
	require.NoError(t, err)
	require.Len(t, items, 2)

	unseen, err := reg.Orders().CountUnseen(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), unseen)

	sentinel := errors.New("refused")
	_, err = reg.Orders().Mutate(ctx, "ord_a", func(o *domain.Order) error { return sentinel })
	require.ErrorIs(t, err, sentinel)

	err = reg.Orders().Purge(ctx, "ord_a")
	require.True(t, errors.As(err, &repoErr))
	require.True(t, repoErr.IsConflict(), "live orders cannot be purged")

	deletedAt := base.Add(time.Hour)
	updated, err := reg.Orders().Mutate(ctx, "ord_a", func(o *domain.Order) error {
		o.DeletedAt = &deletedAt
		o.Flags.AdminSeen = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, updated.IsTrashed())

	active, err := reg.Orders().List(ctx, repositories.OrderListFilter{})
	require.NoError(t, err)
	require.Empty(t, active.Items)

	trashed, err := reg.Orders().List(ctx, repositories.OrderListFilter{Trash: repositories.TrashFilterOnly})
	require.NoError(t, err)
	require.Len(t, trashed.Items, 1)

	require.NoError(t, reg.Orders().Purge(ctx, "ord_a"))

	_, err = reg.Orders().FindByID(ctx, "ord_a")
	require.True(t, errors.As(err, &repoErr))
	require.True(t, repoErr.IsNotFound())

	items, err = reg.OrderItems().List(ctx, "ord_a")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestOrderRepositoryListPagingIntegration(t *testing.T) {
	reg := newEmulatorRegistry(t, "orders-paging")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, reg.Orders().Insert(ctx, sampleOrder(fmt.Sprintf("ord_%d", i), base.Add(time.Duration(i)*time.Minute), 0)))
	}

	var seen []string
	token := ""
	for {
		page, err := reg.Orders().List(ctx, repositories.OrderListFilter{
			Status:     []domain.PaymentStatus{domain.PaymentStatusPaid},
			Pagination: domain.Pagination{PageSize: 2, PageToken: token},
		})
		require.NoError(t, err)
		for _, o := range page.Items {
			seen = append(seen, o.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	require.Equal(t, []string{"ord_4", "ord_3", "ord_2", "ord_1", "ord_0"}, seen)

	window, err := reg.Orders().ListCreatedBetween(ctx, base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)
}

func TestOrderRepositoryPurgeBeyondTransactionLimitIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	provider := pfirestore.NewProvider(firestoretest.StartEmulator(t, "orders-purge-large"))
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	reg, err := NewRegistry(provider, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	created := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	order := sampleOrder("ord_big", created, 0)
	deletedAt := created.Add(time.Hour)
	order.DeletedAt = &deletedAt
	require.NoError(t, reg.Orders().Insert(ctx, order))

	client, err := provider.Client(ctx)
	require.NoError(t, err)
	items := client.Collection(ordersCollection).Doc("ord_big").Collection(orderItemsCollection)
	writer := client.BulkWriter(ctx)
	for i := 0; i < 520; i++ {
		_, err := writer.Set(items.Doc(fmt.Sprintf("itm_%03d", i)), map[string]any{"productId": "candle", "quantity": 1})
		require.NoError(t, err)
	}
	writer.End()

	require.NoError(t, reg.Orders().Purge(ctx, "ord_big"))

	var repoErr repositories.RepositoryError
	_, err = reg.Orders().FindByID(ctx, "ord_big")
	require.True(t, errors.As(err, &repoErr))
	require.True(t, repoErr.IsNotFound())
	left, err := items.Documents(ctx).GetAll()
	require.NoError(t, err)
	require.Empty(t, left)
}
