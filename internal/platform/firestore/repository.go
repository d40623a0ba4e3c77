package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed read helpers over a single collection.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection. A nil decoder uses DataTo.
func NewBaseRepository[T any](provider *Provider, collection string, decode Decoder[T]) *BaseRepository[T] {
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		decode:     decode,
	}
}

// Get fetches the document by ID and decodes it.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.decodeDocument(snapshot)
}

// GetAll fetches documents by ID in one round trip. Missing documents are skipped.
func (r *BaseRepository[T]) GetAll(ctx context.Context, ids []string) ([]Document[T], error) {
	coll, err := r.Collection(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			refs = append(refs, coll.Doc(id))
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snapshots, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError(r.op("get_all"), err)
	}
	docs := make([]Document[T], 0, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot == nil || !snapshot.Exists() {
			continue
		}
		doc, err := r.decodeDocument(snapshot)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.Collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	return DecodeAll(query.Documents(ctx), r.decode, r.op("query"))
}

// Collection returns the underlying collection reference.
func (r *BaseRepository[T]) Collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

// DocumentRef exposes the document reference for transactional access.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.Collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Decode converts a snapshot with the repository decoder.
func (r *BaseRepository[T]) Decode(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	return r.decodeDocument(snapshot)
}

func (r *BaseRepository[T]) decodeDocument(snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	return decodeSnapshot(snapshot, r.decode)
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// DecodeAll drains iter and decodes every snapshot. The iterator is always stopped.
func DecodeAll[T any](iter *firestore.DocumentIterator, decode Decoder[T], op string) ([]Document[T], error) {
	defer iter.Stop()
	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		doc, err := decodeSnapshot(snapshot, decode)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

func decodeSnapshot[T any](snapshot *firestore.DocumentSnapshot, decode Decoder[T]) (Document[T], error) {
	entity, err := decode(snapshot)
	if err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		err := snap.DataTo(&target)
		return target, err
	}
}
