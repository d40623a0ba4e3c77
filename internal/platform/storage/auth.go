package storage

import (
	"context"
	"errors"

	"github.com/spiritcandles/fulfillment/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller lacks permission to read an archived label.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeLabelDownload allows operators only. Labels carry customer addresses.
func AuthorizeLabelDownload(identity *auth.Identity) error {
	if identity == nil {
		return ErrPermissionDenied
	}
	if identity.HasRole(auth.RoleStaff) || identity.HasRole(auth.RoleAdmin) {
		return nil
	}
	return ErrPermissionDenied
}

// AuthorizeLabelDownloadFromContext reads the operator identity from ctx.
func AuthorizeLabelDownloadFromContext(ctx context.Context) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, ErrPermissionDenied
	}
	if err := AuthorizeLabelDownload(identity); err != nil {
		return nil, err
	}
	return identity, nil
}
