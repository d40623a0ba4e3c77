package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/spiritcandles/fulfillment/internal/domain"
	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
	"github.com/spiritcandles/fulfillment/internal/repositories"
)

const (
	profilesCollection = "profiles"
	productsCollection = "products"
)

type profileDocument struct {
	Email  string `firestore:"email"`
	Locale string `firestore:"locale"`
}

// ProfileRepository reads customer profiles for notification recipients.
type ProfileRepository struct {
	base *pfirestore.BaseRepository[profileDocument]
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a read-only profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository: firestore provider is required")
	}
	return &ProfileRepository{
		base: pfirestore.NewBaseRepository[profileDocument](provider, profilesCollection, nil),
	}, nil
}

// FindByID loads a profile.
func (r *ProfileRepository) FindByID(ctx context.Context, profileID string) (domain.Profile, error) {
	if r == nil || r.base == nil {
		return domain.Profile{}, errors.New("profile repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(profileID))
	if err != nil {
		return domain.Profile{}, err
	}
	return domain.Profile{
		ID:     doc.ID,
		Email:  strings.TrimSpace(doc.Data.Email),
		Locale: strings.TrimSpace(doc.Data.Locale),
	}, nil
}

// ProductRepository reads shipping attributes from the catalog. It never writes.
type ProductRepository struct {
	base *pfirestore.BaseRepository[decimal.Decimal]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs the catalog weight reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[decimal.Decimal](provider, productsCollection, decodeProductWeight),
	}, nil
}

// UnitWeights fetches weightKg for the given products in one round trip. Products that are missing
// or carry no positive weight are left out of the result.
func (r *ProductRepository) UnitWeights(ctx context.Context, productIDs []string) (map[string]string, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}
	unique := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	docs, err := r.base.GetAll(ctx, unique)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]string, len(docs))
	for _, doc := range docs {
		if doc.Data.IsPositive() {
			weights[doc.ID] = doc.Data.String()
		}
	}
	return weights, nil
}

// decodeProductWeight accepts weightKg stored as a number or a decimal string. Unreadable values
// decode to zero so the caller falls back to its default weight.
func decodeProductWeight(snapshot *firestore.DocumentSnapshot) (decimal.Decimal, error) {
	raw, err := snapshot.DataAt("weightKg")
	if err != nil {
		return decimal.Zero, nil
	}
	switch value := raw.(type) {
	case nil:
		return decimal.Zero, nil
	case int64:
		return decimal.NewFromInt(value), nil
	case float64:
		return decimal.NewFromFloat(value), nil
	case string:
		trimmed := strings.TrimSpace(strings.ReplaceAll(value, ",", "."))
		if trimmed == "" {
			return decimal.Zero, nil
		}
		parsed, err := decimal.NewFromString(trimmed)
		if err != nil {
			return decimal.Zero, nil
		}
		return parsed, nil
	default:
		return decimal.Zero, nil
	}
}
