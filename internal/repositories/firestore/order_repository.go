package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
	"github.com/spiritcandles/fulfillment/internal/platform/pagination"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

const (
	ordersCollection     = "orders"
	orderItemsCollection = "items"
	// Firestore "in" filters accept at most 30 values; the enums here are far smaller.
	maxInFilterValues = 30
	purgeItemBatch    = 400
)

// OrderRepository persists orders and their item subcollection.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Insert creates the order document and every item document in one transaction. An existing
// order id yields a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(ref, doc); err != nil {
			return err
		}
		items := ref.Collection(orderItemsCollection)
		for _, item := range order.Items {
			itemID := strings.TrimSpace(item.ID)
			if itemID == "" {
				return fmt.Errorf("order repository: item id is required for order %s", orderID)
			}
			if err := tx.Create(items.Doc(itemID), encodeOrderItemDocument(item)); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("orders.insert", err)
}

// FindByID returns the order regardless of its trash state. Items are not loaded.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders newest first, paged with an opaque (createdAt, id) cursor.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: %w", err)
	}

	statuses := statusQueryValues(filter.Status)
	stages := make([]string, 0, len(filter.Stages))
	for _, stage := range filter.Stages {
		if stage.Valid() {
			stages = append(stages, string(stage))
		}
	}
	if len(statuses) > maxInFilterValues {
		statuses = statuses[:maxInFilterValues]
	}
	if len(stages) > maxInFilterValues {
		stages = stages[:maxInFilterValues]
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		switch filter.Trash {
		case repositories.TrashFilterAll:
		case repositories.TrashFilterOnly:
			q = q.Where("trashed", "==", true)
		default:
			q = q.Where("trashed", "==", false)
		}
		if filter.UnseenOnly {
			q = q.Where("adminSeen", "==", false)
		}
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		switch len(stages) {
		case 0:
		case 1:
			q = q.Where("shipmentStage", "==", stages[0])
		default:
			q = q.Where("shipmentStage", "in", stages)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		nextToken = pagination.EncodeToken(pagination.Cursor{
			CreatedAt: chooseTime(last.Data.CreatedAt, last.CreateTime),
			ID:        last.ID,
		})
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// Mutate reads the order inside a transaction, lets fn change it and writes the result back. Errors
// returned by fn abort the transaction and stay reachable through errors.Is.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderChangeFunc) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order repository: change function is required")
	}
	orderID = strings.TrimSpace(orderID)
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(snapshot)
		if err != nil {
			return err
		}
		order := decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime)
		if err := fn(&order); err != nil {
			return err
		}
		order.ID = doc.ID
		if err := tx.Set(ref, encodeOrderDocument(order)); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.mutate", err)
	}
	return result, nil
}

// Purge deletes the items of a trashed order in batches and then the order itself in a
// transaction that re-checks the trash flag. A purge interrupted between the two steps leaves a
// trashed order with fewer or no items, which can be purged again. A concurrent restore surfaces
// as a conflict.
func (r *OrderRepository) Purge(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	snapshot, err := ref.Get(ctx)
	if err != nil {
		return pfirestore.WrapError("orders.purge", err)
	}
	if err := requireTrashed(snapshot, orderID); err != nil {
		return pfirestore.WrapError("orders.purge", err)
	}
	if err := deleteItems(ctx, client, ref.Collection(orderItemsCollection)); err != nil {
		return pfirestore.WrapError("orders.purge", err)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if err := requireTrashed(snapshot, orderID); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	return pfirestore.WrapError("orders.purge", err)
}

func requireTrashed(snapshot *firestore.DocumentSnapshot, orderID string) error {
	var doc orderDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return fmt.Errorf("decode order %s: %w", orderID, err)
	}
	if doc.DeletedAt == nil {
		return pfirestore.Conflict("orders.purge", "order is not in trash")
	}
	return nil
}

// deleteItems removes the subcollection page by page through a BulkWriter, staying clear of the
// per-transaction write limit.
func deleteItems(ctx context.Context, client *firestore.Client, items *firestore.CollectionRef) error {
	for {
		docs, err := items.Limit(purgeItemBatch).Documents(ctx).GetAll()
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		writer := client.BulkWriter(ctx)
		jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
		for _, doc := range docs {
			job, err := writer.Delete(doc.Ref)
			if err != nil {
				writer.End()
				return err
			}
			jobs = append(jobs, job)
		}
		writer.End()
		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				return err
			}
		}
		if len(docs) < purgeItemBatch {
			return nil
		}
	}
}

// ListCreatedBetween returns every order created in [from, to), including trashed and excluded
// ones. Callers apply their own inclusion rules.
func (r *OrderRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", ">=", from.UTC()).
			Where("createdAt", "<", to.UTC()).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return orders, nil
}

// ListAwaitingTracking returns active orders with a shipment that has not been delivered yet,
// oldest first.
func (r *OrderRepository) ListAwaitingTracking(ctx context.Context, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("trashed", "==", false).
			Where("shipmentStage", "in", []string{
				string(domain.ShipmentStageCreated),
				string(domain.ShipmentStageTrackingAssigned),
			}).
			OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return orders, nil
}

// CountUnseen counts active orders an operator has not opened yet using a server-side aggregation.
func (r *OrderRepository) CountUnseen(ctx context.Context) (int64, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("order repository not initialised")
	}
	coll, err := r.base.Collection(ctx)
	if err != nil {
		return 0, err
	}
	const alias = "unseen"
	query := coll.Where("trashed", "==", false).Where("adminSeen", "==", false)
	result, err := query.NewAggregationQuery().WithCount(alias).Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.count_unseen", err)
	}
	value, ok := result[alias].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("orders.count_unseen: unexpected aggregation result %T", result[alias])
	}
	return value.GetIntegerValue(), nil
}

// OrderItemRepository reads orders/{orderID}/items.
type OrderItemRepository struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderItemRepository = (*OrderItemRepository)(nil)

// NewOrderItemRepository constructs the item reader.
func NewOrderItemRepository(provider *pfirestore.Provider) (*OrderItemRepository, error) {
	if provider == nil {
		return nil, errors.New("order item repository: firestore provider is required")
	}
	return &OrderItemRepository{
		orders: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// List returns the items of an order sorted by document id. A missing order yields an empty list.
func (r *OrderItemRepository) List(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order item repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	ref, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return nil, err
	}
	iter := ref.Collection(orderItemsCollection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var items []domain.OrderItem
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return items, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError("order_items.list", err)
		}
		var doc orderItemDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order item %s: %w", snapshot.Ref.ID, err)
		}
		items = append(items, decodeOrderItemDocument(orderID, snapshot.Ref.ID, doc))
	}
}
