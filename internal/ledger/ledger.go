// Package ledger is the durable per-user pushup counter store.
//
// Policy (fixed project-wide):
//   - Increment on an unregistered user fails with ErrUnknownUser; nothing
//     auto-registers on a write.
//   - Total for an unregistered user returns 0 and does not create a record.
package ledger

import (
	"context"
	"errors"
)

// ErrUnknownUser is returned by Increment when the user was never
// registered.
var ErrUnknownUser = errors.New("ledger: unknown user")

// Ledger owns all counter state. Implementations must commit every
// mutation before returning.
type Ledger interface {
	// Register inserts a zero-count record if absent. Re-registration is a
	// no-op, never an error, and never resets an existing count.
	Register(ctx context.Context, userID int64) error

	// Increment adds amount to the user's total and returns the new total.
	// amount must be non-negative; membership in the allowed menu is the
	// caller's policy, not the ledger's.
	Increment(ctx context.Context, userID int64, amount int) (int64, error)

	// Total returns the user's running total, 0 for unknown users.
	Total(ctx context.Context, userID int64) (int64, error)

	// AllUsers returns every registered user id, in no particular order.
	// Used to rehydrate schedules after a restart.
	AllUsers(ctx context.Context) ([]int64, error)

	Close() error
}
