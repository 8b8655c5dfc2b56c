package staging

import (
	"context"
	"time"
)

// Store persists staging records and their order bindings. Records are
// written once and never updated in place.
type Store interface {
	// Create fails with ErrExists when the staging id is already taken.
	Create(ctx context.Context, reg *PendingRegistration) error
	// Load returns ErrNotFound for unknown or removed ids.
	Load(ctx context.Context, stagingID string) (*PendingRegistration, error)
	// Remove deletes the record and its order bindings. Removing a missing
	// record is not an error.
	Remove(ctx context.Context, stagingID string) error
	// ListOlderThan returns ids of records created more than age ago.
	ListOlderThan(ctx context.Context, age time.Duration) ([]string, error)

	// BindOrder stores the order correlation key. Rebinding an order to a
	// different staging id fails with ErrOrderConflict.
	BindOrder(ctx context.Context, binding OrderBinding) error
	// LookupOrder returns ErrNotFound when the order is not bound.
	LookupOrder(ctx context.Context, orderID string) (*OrderBinding, error)
	// OrdersFor lists all bindings created for a staging id.
	OrdersFor(ctx context.Context, stagingID string) ([]OrderBinding, error)
}
