package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
)

const (
	defaultCollection   = "idempotency_keys"
	defaultCleanupLimit = 100
)

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore implements Store on Firestore. Reservations run in a transaction so two replicas
// cannot both claim a key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a store on the shared provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		reservation, write, err := reserveDecision(existing, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		result = reservation
		if !write {
			return nil
		}
		return tx.Set(ref, fromRecord(reservation.Record))
	})
	return result, err
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readRecord(tx, ref)
		if err != nil {
			return err
		}
		record := Record{Key: key, Fingerprint: fingerprint}
		if existing != nil {
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = *existing
		}
		return tx.Set(ref, fromRecord(completeRecord(record, resp, now.UTC(), ttl)))
	})
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := readRecord(tx, ref)
		if err != nil || existing == nil || existing.Fingerprint != fingerprint {
			return err
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes up to limit expired records.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expires_at", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.cleanup", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	writer.End()
	return len(docs), nil
}

func readRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Record, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	var doc firestoreRecord
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	record := doc.toRecord()
	return &record, nil
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
