package services

import (
	"errors"
	"fmt"

	"github.com/spiritcandles/fulfillment/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the transition is not allowed from the current state.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderConflict indicates a concurrent update, a duplicate or a held shipment lock.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrShipmentRejected wraps the carrier's field validation errors.
	ErrShipmentRejected = errors.New("order: shipment rejected by carrier")
	// ErrCarrierUnavailable indicates the carrier could not be reached or refused service.
	ErrCarrierUnavailable = errors.New("order: carrier unavailable")
)

var serviceErrors = []error{
	ErrOrderInvalidInput,
	ErrOrderNotFound,
	ErrOrderInvalidState,
	ErrOrderConflict,
	ErrShipmentRejected,
	ErrCarrierUnavailable,
}

// errNoChange aborts a transactional mutation that would not modify the order.
var errNoChange = errors.New("order: no change")

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range serviceErrors {
		if errors.Is(err, known) {
			return err
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOrderInvalidInput, fmt.Sprintf(format, args...))
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrOrderInvalidState, fmt.Sprintf(format, args...))
}
