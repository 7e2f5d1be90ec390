package alerting

import (
	"context"
	"errors"

	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// Package alerting owns the alert lifecycle.
//
// Alerts move through a fixed state machine:
//
//	open -> investigating -> dismissed
//	open | investigating -> resolved
//
// dismissed and resolved are terminal. Dismissal records who dismissed and
// requires the alert to have been investigated first; resolution stamps
// resolved_at. Every transition is written to the audit trail with the actor.

// ErrInvalidTransition is returned for a transition the state machine does
// not allow.
var ErrInvalidTransition = errors.New("invalid alert status transition")

// ErrAlertNotFound is returned when the alert ID does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// ErrActorRequired is returned when a transition that records responsibility
// is attempted without an actor.
var ErrActorRequired = errors.New("actor is required for this transition")

// Manager drives alert lifecycle transitions.
type Manager interface {
	// Get returns one alert by ID.
	Get(ctx context.Context, id string) (*store.AlertRecord, error)

	// List returns alerts matching the query, newest first.
	List(ctx context.Context, q store.AlertQuery) ([]*store.AlertRecord, error)

	// Investigate moves an open alert to investigating, attaching notes.
	Investigate(ctx context.Context, id, notes, actor string) (*store.AlertRecord, error)

	// Dismiss moves an investigating alert to dismissed. The dismissing
	// actor is mandatory and recorded on the alert.
	Dismiss(ctx context.Context, id, actor string) (*store.AlertRecord, error)

	// Resolve moves an open or investigating alert to resolved and stamps
	// the resolution time.
	Resolve(ctx context.Context, id, actor string) (*store.AlertRecord, error)

	// CountsByStatus returns alert counts grouped by status.
	CountsByStatus(ctx context.Context) (map[string]int, error)
}
