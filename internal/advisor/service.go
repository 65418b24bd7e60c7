package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fincademy/sim-engine/internal/api"
	"github.com/fincademy/sim-engine/internal/metrics"
	"github.com/fincademy/sim-engine/internal/model"
	"github.com/fincademy/sim-engine/internal/nudge"
	"github.com/fincademy/sim-engine/internal/store"
)

// Service exposes the advisory calculators over HTTP. It appends audit
// events to the ledger and hands advisory outcomes to the nudge sink.
// Nudge-emission failures are logged and discarded — they never fail the
// request and never touch committed state.
type Service struct {
	store store.Store
	sink  nudge.Sink

	// annualRate is the assumed long-run average annual return used by the
	// impact projector. Configurable; see config.Simulation.
	annualRate float64

	// defaultYears is the projection horizon used when the request omits one.
	defaultYears int

	now func() time.Time
}

// NewService creates a new advisory service.
func NewService(st store.Store, sink nudge.Sink, annualRate float64, defaultYears int) *Service {
	return &Service{
		store:        st,
		sink:         sink,
		annualRate:   annualRate,
		defaultYears: defaultYears,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// emit hands a nudge to the sink, logging and discarding failures.
func (s *Service) emit(ctx context.Context, n nudge.Nudge) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(ctx, n); err != nil {
		slog.Warn("nudge emission failed", "user", n.UserID, "context", n.Context, "err", err)
		return
	}
	metrics.NudgesEmitted.WithLabelValues(n.Context).Inc()
}

// appendEvent records an advisory audit event. Advisory failures are not
// financial-invariant violations, so a store error here is logged rather
// than failing the already-computed response.
func (s *Service) appendEvent(ctx context.Context, userID, kind string, payload map[string]any) {
	err := s.store.UpdateUser(ctx, userID, func(tx store.Tx) error {
		return tx.AppendEvent(&model.SimulationEvent{
			ID:        uuid.New().String(),
			UserID:    userID,
			Kind:      kind,
			Payload:   payload,
			Timestamp: s.now(),
		})
	})
	if err != nil {
		slog.Warn("advisory event append failed", "user", userID, "kind", kind, "err", err)
	}
}

// --- Budget decision ---

type budgetRequest struct {
	UserID string `json:"user_id"`
	Allocation
}

type budgetResponse struct {
	Success  bool   `json:"success"`
	Feedback string `json:"feedback"`
}

// HandleBudget handles POST /api/v1/advice/budget
func (s *Service) HandleBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		api.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	feedback, err := EvaluateBudget(req.Allocation)
	if err != nil {
		if errors.Is(err, ErrInvalidAllocation) {
			api.WriteError(w, err.Error(), http.StatusBadRequest)
			return
		}
		api.WriteError(w, "failed to evaluate budget", http.StatusInternalServerError)
		return
	}

	metrics.AdvisoryRuns.WithLabelValues("budget").Inc()
	s.appendEvent(r.Context(), req.UserID, model.EventBudgetEvaluated, map[string]any{
		"needs":    req.Needs,
		"wants":    req.Wants,
		"savings":  req.Savings,
		"feedback": feedback,
	})

	api.WriteJSON(w, http.StatusOK, budgetResponse{Success: true, Feedback: feedback})
}

// --- Stress test ---

type stressRequest struct {
	UserID          string          `json:"user_id"`
	MonthlyIncome   decimal.Decimal `json:"monthly_income"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`
	EmergencyFund   decimal.Decimal `json:"emergency_fund"`
}

type stressResponse struct {
	// SurvivalMonths is a one-decimal string, or "unlimited" when income
	// covers expenses.
	SurvivalMonths string `json:"survival_months"`
	Unlimited      bool   `json:"unlimited"`
}

// HandleStressTest handles POST /api/v1/advice/stress-test
func (s *Service) HandleStressTest(w http.ResponseWriter, r *http.Request) {
	var req stressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		api.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.MonthlyIncome.IsNegative() || req.MonthlyExpenses.IsNegative() || req.EmergencyFund.IsNegative() {
		api.WriteError(w, "amounts must be non-negative", http.StatusBadRequest)
		return
	}

	result := StressTest(StressTestInput{
		MonthlyIncome:   req.MonthlyIncome,
		MonthlyExpenses: req.MonthlyExpenses,
		EmergencyFund:   req.EmergencyFund,
	})

	metrics.AdvisoryRuns.WithLabelValues("stress_test").Inc()

	resp := stressResponse{SurvivalMonths: "unlimited", Unlimited: true}
	if !result.Unlimited {
		resp = stressResponse{SurvivalMonths: result.SurvivalMonths.StringFixed(1)}

		// Urgency nudge only when the fund actually runs out.
		s.emit(r.Context(), nudge.Nudge{
			UserID:  req.UserID,
			Context: nudge.ContextBudgeting,
			Payload: map[string]any{
				"kind":            "stress_test",
				"survival_months": result.SurvivalMonths.StringFixed(1),
			},
			CreatedAt: s.now(),
		})
	}

	s.appendEvent(r.Context(), req.UserID, model.EventStressTestRun, map[string]any{
		"monthly_income":   req.MonthlyIncome.String(),
		"monthly_expenses": req.MonthlyExpenses.String(),
		"emergency_fund":   req.EmergencyFund.String(),
		"survival_months":  resp.SurvivalMonths,
	})

	api.WriteJSON(w, http.StatusOK, resp)
}

// --- Long-term impact ---

type impactRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	Years  int             `json:"years,omitempty"`
}

type impactResponse struct {
	FutureValue decimal.Decimal `json:"future_value"`
	Years       int             `json:"years"`
	AnnualRate  float64         `json:"annual_rate"`
}

// HandleImpact handles POST /api/v1/advice/impact
func (s *Service) HandleImpact(w http.ResponseWriter, r *http.Request) {
	var req impactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		api.WriteError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		api.WriteError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	years := req.Years
	if years == 0 {
		years = s.defaultYears
	}
	if years < 0 {
		api.WriteError(w, "years must be positive", http.StatusBadRequest)
		return
	}

	futureValue := ProjectImpact(req.Amount, years, s.annualRate)

	metrics.AdvisoryRuns.WithLabelValues("impact").Inc()

	// "Save now, gain later" framing for the notification subsystem.
	s.emit(r.Context(), nudge.Nudge{
		UserID:  req.UserID,
		Context: nudge.ContextBudgeting,
		Payload: map[string]any{
			"kind":         "impact_projection",
			"amount":       req.Amount.String(),
			"future_value": futureValue.String(),
			"years":        years,
		},
		CreatedAt: s.now(),
	})

	s.appendEvent(r.Context(), req.UserID, model.EventImpactProjected, map[string]any{
		"amount":       req.Amount.String(),
		"years":        years,
		"annual_rate":  s.annualRate,
		"future_value": futureValue.String(),
	})

	api.WriteJSON(w, http.StatusOK, impactResponse{
		FutureValue: futureValue,
		Years:       years,
		AnnualRate:  s.annualRate,
	})
}
