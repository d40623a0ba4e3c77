// Package changes fans order change events out to admin observers and external sinks.
package changes

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a change.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event sources. Duplicates across sources are expected; observers re-derive state.
const (
	SourceService = "service"
	SourceWatcher = "firestore"
)

// ChangeEvent announces that an order changed. Fields lists the logical fields touched by an update.
type ChangeEvent struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	Fields      []string  `json:"fields,omitempty"`
	Source      string    `json:"source"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NewEvent stamps a fresh event id.
func NewEvent(kind Kind, orderID, orderNumber string, fields []string, at time.Time) ChangeEvent {
	return ChangeEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Fields:      append([]string(nil), fields...),
		Source:      SourceService,
		OccurredAt:  at.UTC(),
	}
}
