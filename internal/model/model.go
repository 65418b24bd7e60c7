// Package model defines the core domain types shared across the simulation
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade directions.
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// CommitmentState is the lifecycle state of a locked savings commitment.
// ACTIVE is the only non-terminal state; a commitment transitions exactly
// once, to one of the two withdrawn states.
type CommitmentState string

const (
	CommitmentActive          CommitmentState = "ACTIVE"
	CommitmentWithdrawnEarly  CommitmentState = "WITHDRAWN_EARLY"
	CommitmentWithdrawnOnTime CommitmentState = "WITHDRAWN_ON_TIME"
)

// Terminal reports whether no further state transitions are permitted.
func (s CommitmentState) Terminal() bool {
	return s == CommitmentWithdrawnEarly || s == CommitmentWithdrawnOnTime
}

// SimulationEvent kinds.
const (
	EventTradeExecuted             = "TRADE_EXECUTED"
	EventCommitmentCreated         = "COMMITMENT_CREATED"
	EventCommitmentWithdrawnEarly  = "COMMITMENT_WITHDRAWN_EARLY"
	EventCommitmentWithdrawnOnTime = "COMMITMENT_WITHDRAWN_ON_TIME"
	EventStressTestRun             = "STRESS_TEST_RUN"
	EventImpactProjected           = "IMPACT_PROJECTED"
	EventBudgetEvaluated           = "BUDGET_EVALUATED"
)

// Portfolio is a user's simulated brokerage account: spendable balance plus
// held asset quantities. One portfolio per user, created lazily with a fixed
// starting balance. Invariants: balance >= 0 and every holding >= 0, always.
type Portfolio struct {
	UserID    string                     `json:"user_id" db:"user_id"`
	Balance   decimal.Decimal            `json:"balance" db:"balance"`
	Assets    map[string]decimal.Decimal `json:"assets" db:"assets"`
	CreatedAt time.Time                  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at" db:"updated_at"`
}

// NewPortfolio creates a portfolio with the given starting balance.
func NewPortfolio(userID string, startingBalance decimal.Decimal, now time.Time) *Portfolio {
	return &Portfolio{
		UserID:    userID,
		Balance:   startingBalance,
		Assets:    make(map[string]decimal.Decimal),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Holding returns the held quantity for an asset symbol (zero if none).
func (p *Portfolio) Holding(symbol string) decimal.Decimal {
	return p.Assets[symbol]
}

// SetHolding records a new quantity for an asset symbol. Zero quantities are
// kept in the map so sold-out positions remain visible in snapshots.
func (p *Portfolio) SetHolding(symbol string, qty decimal.Decimal) {
	if p.Assets == nil {
		p.Assets = make(map[string]decimal.Decimal)
	}
	p.Assets[symbol] = qty
}

// Clone returns a deep copy. Store implementations hand out clones so callers
// can never mutate persisted state outside a transaction.
func (p *Portfolio) Clone() *Portfolio {
	cp := *p
	cp.Assets = make(map[string]decimal.Decimal, len(p.Assets))
	for sym, qty := range p.Assets {
		cp.Assets[sym] = qty
	}
	return &cp
}

// Commitment is a time-locked escrow of simulated funds tied to a savings
// goal. The locked amount is deducted from the owning portfolio's balance at
// creation and is credited back — in full or penalized — exactly once at
// withdrawal.
type Commitment struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	GoalName     string          `json:"goal_name" db:"goal_name"`
	TargetAmount decimal.Decimal `json:"target_amount" db:"target_amount"`
	LockedAmount decimal.Decimal `json:"locked_amount" db:"locked_amount"`
	PenaltyRate  decimal.Decimal `json:"penalty_rate" db:"penalty_rate"` // 0–1
	UnlockDate   time.Time       `json:"unlock_date" db:"unlock_date"`
	State        CommitmentState `json:"state" db:"state"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	WithdrawnAt  *time.Time      `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
}

// WithdrawalResult reports the outcome of a commitment withdrawal.
type WithdrawalResult struct {
	CommitmentID    string          `json:"commitment_id"`
	WithdrawnAmount decimal.Decimal `json:"withdrawn_amount"`
	Early           bool            `json:"early"`
}

// SimulationEvent is an immutable append-only audit/behavior record. Once
// written it is never modified or deleted; the product's behavior-analytics
// collaborator consumes the stream.
type SimulationEvent struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Kind      string         `json:"kind" db:"kind"`
	Payload   map[string]any `json:"payload" db:"payload"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
}
