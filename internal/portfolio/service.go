// Package portfolio implements the portfolio engine: lazy portfolio creation
// and atomic trade execution against the ledger store.
//
// All monetary values use shopspring/decimal — never float64 for money.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fincademy/sim-engine/internal/api"
	"github.com/fincademy/sim-engine/internal/events"
	"github.com/fincademy/sim-engine/internal/metrics"
	"github.com/fincademy/sim-engine/internal/model"
	"github.com/fincademy/sim-engine/internal/store"
)

var (
	// ErrInsufficientBalance is returned when a BUY (or a commitment lock)
	// exceeds the spendable balance.
	ErrInsufficientBalance = errors.New("portfolio: insufficient balance")

	// ErrInsufficientHoldings is returned when a SELL exceeds the held
	// quantity of the asset.
	ErrInsufficientHoldings = errors.New("portfolio: insufficient holdings")
)

// symbolRegex matches asset symbols: 1–12 uppercase letters or digits,
// optionally with one internal dash (e.g. "BTC", "SP500", "BRK-B").
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,12}(-[A-Z0-9]{1,4})?$`)

// Service owns balance/asset mutation. Every trade executes as one atomic
// read-modify-write under the store's per-user lock, so concurrent trades
// for the same user serialize while different users proceed in parallel.
type Service struct {
	store store.Store
	hub   *events.Hub // optional event feed for real-time broadcasts

	// now is the clock; overridable in tests.
	now func() time.Time
}

// NewService creates a new portfolio service. Pass nil for hub if event
// broadcasting is not needed.
func NewService(st store.Store, hub *events.Hub) *Service {
	return &Service{
		store: st,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// --- Request types ---

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID    string          `json:"user_id"`
	Asset     string          `json:"asset"`
	Quantity  decimal.Decimal `json:"quantity"`
	Direction string          `json:"direction"` // "BUY" or "SELL"
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// --- Engine operations ---

// GetOrCreate returns the user's portfolio, creating it with the configured
// starting balance if none exists. Idempotent under the per-user lock.
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*model.Portfolio, error) {
	p, err := s.store.GetPortfolio(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// First access: create under the mutation guard so two concurrent
	// first accesses cannot both seed the row.
	var created *model.Portfolio
	err = s.store.UpdateUser(ctx, userID, func(tx store.Tx) error {
		p, err := tx.Portfolio()
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ExecuteTrade executes a BUY or SELL atomically and returns the updated
// portfolio snapshot. BUY fails with ErrInsufficientBalance if the cost
// exceeds the spendable balance; SELL fails with ErrInsufficientHoldings if
// the held quantity is insufficient. Both sides are validated before any
// mutation is applied.
func (s *Service) ExecuteTrade(ctx context.Context, req TradeRequest) (*model.Portfolio, error) {
	cost := req.Quantity.Mul(req.UnitPrice)

	var snapshot *model.Portfolio
	var event model.SimulationEvent

	err := s.store.UpdateUser(ctx, req.UserID, func(tx store.Tx) error {
		p, err := tx.Portfolio()
		if err != nil {
			return err
		}

		switch req.Direction {
		case model.DirectionBuy:
			if p.Balance.LessThan(cost) {
				return ErrInsufficientBalance
			}
			p.Balance = p.Balance.Sub(cost)
			p.SetHolding(req.Asset, p.Holding(req.Asset).Add(req.Quantity))

		case model.DirectionSell:
			held := p.Holding(req.Asset)
			if held.LessThan(req.Quantity) {
				return ErrInsufficientHoldings
			}
			p.SetHolding(req.Asset, held.Sub(req.Quantity))
			p.Balance = p.Balance.Add(cost)
		}

		now := s.now()
		p.UpdatedAt = now
		if err := tx.SavePortfolio(p); err != nil {
			return err
		}

		event = model.SimulationEvent{
			ID:     uuid.New().String(),
			UserID: req.UserID,
			Kind:   model.EventTradeExecuted,
			Payload: map[string]any{
				"asset":         req.Asset,
				"direction":     req.Direction,
				"quantity":      req.Quantity.String(),
				"unit_price":    req.UnitPrice.String(),
				"cost":          cost.String(),
				"balance_after": p.Balance.String(),
			},
			Timestamp: now,
		}
		if err := tx.AppendEvent(&event); err != nil {
			return err
		}

		snapshot = p
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			metrics.TradeRejections.WithLabelValues("insufficient_balance").Inc()
		case errors.Is(err, ErrInsufficientHoldings):
			metrics.TradeRejections.WithLabelValues("insufficient_holdings").Inc()
		}
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(req.Direction).Inc()
	s.hub.Broadcast(event)

	slog.Info("trade executed",
		"user", req.UserID,
		"asset", req.Asset,
		"direction", req.Direction,
		"qty", req.Quantity.String(),
		"unit_price", req.UnitPrice.String(),
		"balance_after", snapshot.Balance.String(),
	)
	return snapshot, nil
}

// --- HTTP Handlers ---

// HandleGetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns the portfolio, creating it lazily on first access.
func (s *Service) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		api.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	p, err := s.GetOrCreate(r.Context(), userID)
	if err != nil {
		api.WriteError(w, "failed to load portfolio", http.StatusServiceUnavailable)
		return
	}

	api.WriteJSON(w, http.StatusOK, p)
}

// HandleTrade handles POST /api/v1/trade
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		api.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !symbolRegex.MatchString(req.Asset) {
		api.WriteError(w, "asset must be an uppercase symbol", http.StatusBadRequest)
		return
	}
	if req.Direction != model.DirectionBuy && req.Direction != model.DirectionSell {
		api.WriteError(w, "direction must be BUY or SELL", http.StatusBadRequest)
		return
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		api.WriteError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}
	if req.UnitPrice.LessThanOrEqual(decimal.Zero) {
		api.WriteError(w, "unit_price must be positive", http.StatusBadRequest)
		return
	}

	p, err := s.ExecuteTrade(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			api.WriteError(w, "insufficient balance", http.StatusConflict)
		case errors.Is(err, ErrInsufficientHoldings):
			api.WriteError(w, "insufficient holdings", http.StatusConflict)
		default:
			api.WriteError(w, "failed to execute trade", http.StatusServiceUnavailable)
		}
		return
	}

	api.WriteJSON(w, http.StatusOK, p)
}

// HandleListEvents handles GET /api/v1/events/{userID}
// Returns the user's append-only simulation event log.
func (s *Service) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	evts, err := s.store.ListEventsByUser(r.Context(), userID)
	if err != nil {
		api.WriteError(w, "failed to load events", http.StatusServiceUnavailable)
		return
	}
	if evts == nil {
		evts = []model.SimulationEvent{}
	}

	api.WriteJSON(w, http.StatusOK, evts)
}
