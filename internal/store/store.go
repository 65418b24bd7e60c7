// Package store defines the ledger persistence interface for the simulation
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/fincademy/sim-engine/internal/model"
)

// ErrNotFound is returned when a portfolio, commitment, or event does not
// exist. Any other store error is transient (StoreUnavailable class) and must
// surface to the caller, never be swallowed.
var ErrNotFound = errors.New("store: not found")

// Store is the ledger persistence interface. PostgreSQL is the source of
// truth; Redis provides a read-through cache layer for portfolio snapshots.
//
// All balance mutation is a read-modify-write over one portfolio row, so
// every mutating operation goes through UpdateUser, which serializes
// concurrent mutations for the same user while letting unrelated users
// proceed in parallel.
type Store interface {
	// GetPortfolio returns a snapshot of the user's portfolio without
	// taking the mutation lock. Returns ErrNotFound if it was never created.
	GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error)

	// UpdateUser runs fn inside a single atomic transaction holding an
	// exclusive lock on the user's portfolio row. The portfolio is created
	// lazily with the store's starting balance before fn runs, so fn always
	// observes a portfolio. Every write made through the Tx commits
	// atomically when fn returns nil; if fn returns an error nothing is
	// applied and the error is returned unchanged.
	UpdateUser(ctx context.Context, userID string, fn func(tx Tx) error) error

	// GetCommitment retrieves a commitment by ID without locking.
	GetCommitment(ctx context.Context, id string) (*model.Commitment, error)

	// ListCommitmentsByUser returns all commitments owned by a user.
	ListCommitmentsByUser(ctx context.Context, userID string) ([]model.Commitment, error)

	// ListEventsByUser returns the user's append-only event log in
	// chronological order.
	ListEventsByUser(ctx context.Context, userID string) ([]model.SimulationEvent, error)
}

// Tx is the handle passed to UpdateUser callbacks. All methods operate inside
// the enclosing transaction; none of them are valid after the callback
// returns.
type Tx interface {
	// Portfolio returns the row-locked portfolio for the transaction's user.
	Portfolio() (*model.Portfolio, error)

	// SavePortfolio stages the new balance/assets for the user's portfolio.
	SavePortfolio(p *model.Portfolio) error

	// Commitment retrieves a commitment by ID under the transaction.
	// Returns ErrNotFound if absent.
	Commitment(id string) (*model.Commitment, error)

	// InsertCommitment stages a new commitment row.
	InsertCommitment(c *model.Commitment) error

	// UpdateCommitment stages a state transition on an existing commitment.
	UpdateCommitment(c *model.Commitment) error

	// AppendEvent stages an immutable simulation event.
	AppendEvent(e *model.SimulationEvent) error
}
