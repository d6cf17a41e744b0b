// Package queue defines the messages published to the notification broker.
package queue

import "time"

// Event types carried on the seat.lock.events queue.
const (
	TypeLocked   = "seat_locked"
	TypeReleased = "seat_released"
	TypePromoted = "locator_promoted"
)

// LockEvent is published when a lease changes state. It carries enough for
// the notification center to message the shopper without querying the lease
// store.
type LockEvent struct {
	Type       string    `json:"type"`
	TenantID   string    `json:"tenant_id"`
	FunctionID int64     `json:"function_id"`
	SeatIDs    []string  `json:"seat_ids"`
	Holder     string    `json:"holder,omitempty"`
	Locator    string    `json:"locator,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
