//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
	"github.com/spiritcandles/fulfillment/internal/platform/firestore/firestoretest"
)

type parcel struct {
	Label  string `firestore:"label"`
	Pieces int    `firestore:"pieces"`
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	cfg := firestoretest.StartEmulator(t, "test-project")
	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("expected firestore client, got error: %v", err)
	}
	if _, err := client.Collection("parcels").Doc("p-1").Set(ctx, parcel{Label: "alpha", Pieces: 1}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := client.Collection("parcels").Doc("p-2").Set(ctx, parcel{Label: "beta", Pieces: 4}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	repo := pfirestore.NewBaseRepository[parcel](provider, "parcels", nil)

	doc, err := repo.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "p-1" || doc.Data.Label != "alpha" {
		t.Fatalf("unexpected document: %#v", doc)
	}

	docs, err := repo.GetAll(ctx, []string{"p-1", "missing", "p-2"})
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	docs, err = repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("pieces", ">", 2)
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "p-2" {
		t.Fatalf("unexpected query result %#v", docs)
	}

	_, err = repo.Get(ctx, "missing")
	type classifier interface{ IsNotFound() bool }
	var cls classifier
	if !errors.As(err, &cls) || !cls.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "p-1")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var entity parcel
		if err := snap.DataTo(&entity); err != nil {
			return err
		}
		entity.Pieces++
		return tx.Set(ref, entity)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return pfirestore.Conflict("parcels.guard", "already sealed")
	})
	var conflict interface{ IsConflict() bool }
	if !errors.As(err, &conflict) || !conflict.IsConflict() {
		t.Fatalf("expected conflict to survive transaction, got %v", err)
	}

	if err := provider.Ping(ctx, "parcels"); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}
