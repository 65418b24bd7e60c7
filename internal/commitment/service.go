// Package commitment implements the locked-funds state machine: creating a
// savings commitment escrows part of the portfolio balance, and withdrawal
// releases it exactly once — in full on or after the unlock date, penalized
// before it.
package commitment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fincademy/sim-engine/internal/api"
	"github.com/fincademy/sim-engine/internal/events"
	"github.com/fincademy/sim-engine/internal/metrics"
	"github.com/fincademy/sim-engine/internal/model"
	"github.com/fincademy/sim-engine/internal/portfolio"
	"github.com/fincademy/sim-engine/internal/store"
)

var (
	// ErrNotFound is returned when the commitment does not exist.
	ErrNotFound = errors.New("commitment: not found")

	// ErrForbidden is returned when the caller does not own the commitment.
	ErrForbidden = errors.New("commitment: not owned by user")

	// ErrAlreadyWithdrawn is returned when the commitment is already in a
	// terminal state. Terminal states permit no further transitions.
	ErrAlreadyWithdrawn = errors.New("commitment: already withdrawn")
)

// Service owns the commitment lifecycle. It mutates the same portfolio
// balance as the portfolio engine, so every operation runs under the same
// per-user lock and commits the balance change, the state transition, and
// the audit event in one atomic step.
type Service struct {
	store       store.Store
	hub         *events.Hub
	penaltyRate decimal.Decimal // applied to early withdrawals, 0–1

	// now is the clock; overridable in tests.
	now func() time.Time
}

// NewService creates a new commitment service. penaltyRate is the early
// withdrawal penalty applied to commitments created through this service.
func NewService(st store.Store, hub *events.Hub, penaltyRate decimal.Decimal) *Service {
	return &Service{
		store:       st,
		hub:         hub,
		penaltyRate: penaltyRate,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest is the JSON body for POST /commitments.
type CreateRequest struct {
	UserID       string          `json:"user_id"`
	GoalName     string          `json:"goal_name"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
	Months       int             `json:"months"`
}

// Create escrows lockedAmount from the user's balance and persists the
// commitment in ACTIVE state. Fails with portfolio.ErrInsufficientBalance if
// the spendable balance is below lockedAmount; nothing is applied on failure.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Commitment, error) {
	var created model.Commitment
	var event model.SimulationEvent

	err := s.store.UpdateUser(ctx, req.UserID, func(tx store.Tx) error {
		p, err := tx.Portfolio()
		if err != nil {
			return err
		}

		if p.Balance.LessThan(req.LockedAmount) {
			return portfolio.ErrInsufficientBalance
		}

		now := s.now()
		p.Balance = p.Balance.Sub(req.LockedAmount)
		p.UpdatedAt = now
		if err := tx.SavePortfolio(p); err != nil {
			return err
		}

		created = model.Commitment{
			ID:           uuid.New().String(),
			UserID:       req.UserID,
			GoalName:     req.GoalName,
			TargetAmount: req.TargetAmount,
			LockedAmount: req.LockedAmount,
			PenaltyRate:  s.penaltyRate,
			UnlockDate:   now.AddDate(0, req.Months, 0),
			State:        model.CommitmentActive,
			CreatedAt:    now,
		}
		if err := tx.InsertCommitment(&created); err != nil {
			return err
		}

		event = model.SimulationEvent{
			ID:     uuid.New().String(),
			UserID: req.UserID,
			Kind:   model.EventCommitmentCreated,
			Payload: map[string]any{
				"commitment_id": created.ID,
				"goal_name":     created.GoalName,
				"locked_amount": created.LockedAmount.String(),
				"unlock_date":   created.UnlockDate,
			},
			Timestamp: now,
		}
		return tx.AppendEvent(&event)
	})
	if err != nil {
		return nil, err
	}

	metrics.CommitmentsCreated.Inc()
	s.hub.Broadcast(event)

	slog.Info("commitment created",
		"id", created.ID,
		"user", req.UserID,
		"goal", req.GoalName,
		"locked", req.LockedAmount.String(),
		"unlock_date", created.UnlockDate,
	)
	return &created, nil
}

// Withdraw releases a commitment's escrowed funds back into the owning
// portfolio. Before the unlock date the refund is lockedAmount×(1−penaltyRate)
// and the commitment transitions to WITHDRAWN_EARLY; on or after the unlock
// date the refund is the full lockedAmount and the state becomes
// WITHDRAWN_ON_TIME. Withdrawing exactly on the unlock date counts as
// on-time. The credit and the state transition commit atomically; a second
// attempt fails with ErrAlreadyWithdrawn.
func (s *Service) Withdraw(ctx context.Context, userID, commitmentID string) (*model.WithdrawalResult, error) {
	var result model.WithdrawalResult
	var event model.SimulationEvent

	err := s.store.UpdateUser(ctx, userID, func(tx store.Tx) error {
		c, err := tx.Commitment(commitmentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if c.UserID != userID {
			return ErrForbidden
		}
		if c.State != model.CommitmentActive {
			return ErrAlreadyWithdrawn
		}

		now := s.now()
		early := now.Before(c.UnlockDate)

		amount := c.LockedAmount
		kind := model.EventCommitmentWithdrawnOnTime
		c.State = model.CommitmentWithdrawnOnTime
		if early {
			amount = c.LockedAmount.Mul(decimal.NewFromInt(1).Sub(c.PenaltyRate))
			kind = model.EventCommitmentWithdrawnEarly
			c.State = model.CommitmentWithdrawnEarly
		}
		c.WithdrawnAt = &now

		p, err := tx.Portfolio()
		if err != nil {
			return err
		}
		p.Balance = p.Balance.Add(amount)
		p.UpdatedAt = now
		if err := tx.SavePortfolio(p); err != nil {
			return err
		}
		if err := tx.UpdateCommitment(c); err != nil {
			return err
		}

		event = model.SimulationEvent{
			ID:     uuid.New().String(),
			UserID: userID,
			Kind:   kind,
			Payload: map[string]any{
				"commitment_id":    c.ID,
				"goal_name":        c.GoalName,
				"locked_amount":    c.LockedAmount.String(),
				"withdrawn_amount": amount.String(),
				"penalty_rate":     c.PenaltyRate.String(),
				"early":            early,
			},
			Timestamp: now,
		}
		if err := tx.AppendEvent(&event); err != nil {
			return err
		}

		result = model.WithdrawalResult{
			CommitmentID:    c.ID,
			WithdrawnAmount: amount,
			Early:           early,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "on_time"
	if result.Early {
		outcome = "early"
	}
	metrics.CommitmentWithdrawals.WithLabelValues(outcome).Inc()
	s.hub.Broadcast(event)

	slog.Info("commitment withdrawn",
		"id", commitmentID,
		"user", userID,
		"amount", result.WithdrawnAmount.String(),
		"early", result.Early,
	)
	return &result, nil
}

// --- HTTP Handlers ---

// HandleCreate handles POST /api/v1/commitments
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		api.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.GoalName == "" {
		api.WriteError(w, "goal_name is required", http.StatusBadRequest)
		return
	}
	if req.LockedAmount.LessThanOrEqual(decimal.Zero) {
		api.WriteError(w, "locked_amount must be positive", http.StatusBadRequest)
		return
	}
	if req.Months <= 0 {
		api.WriteError(w, "months must be positive", http.StatusBadRequest)
		return
	}

	c, err := s.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, portfolio.ErrInsufficientBalance) {
			api.WriteError(w, "insufficient balance", http.StatusConflict)
			return
		}
		api.WriteError(w, "failed to create commitment", http.StatusServiceUnavailable)
		return
	}

	api.WriteJSON(w, http.StatusCreated, c)
}

// withdrawRequest is the JSON body for POST /commitments/{commitmentID}/withdraw.
type withdrawRequest struct {
	UserID string `json:"user_id"`
}

// HandleWithdraw handles POST /api/v1/commitments/{commitmentID}/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	commitmentID := chi.URLParam(r, "commitmentID")

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		api.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.Withdraw(r.Context(), req.UserID, commitmentID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			api.WriteError(w, "commitment not found", http.StatusNotFound)
		case errors.Is(err, ErrForbidden):
			api.WriteError(w, "commitment not owned by user", http.StatusForbidden)
		case errors.Is(err, ErrAlreadyWithdrawn):
			api.WriteError(w, "commitment already withdrawn", http.StatusConflict)
		default:
			api.WriteError(w, "failed to withdraw commitment", http.StatusServiceUnavailable)
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, result)
}

// HandleList handles GET /api/v1/commitments/{userID}
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	commitments, err := s.store.ListCommitmentsByUser(r.Context(), userID)
	if err != nil {
		api.WriteError(w, "failed to list commitments", http.StatusServiceUnavailable)
		return
	}
	if commitments == nil {
		commitments = []model.Commitment{}
	}

	api.WriteJSON(w, http.StatusOK, commitments)
}
