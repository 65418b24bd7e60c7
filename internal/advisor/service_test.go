package advisor_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fincademy/sim-engine/internal/advisor"
	"github.com/fincademy/sim-engine/internal/model"
	"github.com/fincademy/sim-engine/internal/nudge"
	"github.com/fincademy/sim-engine/internal/store"
)

// captureSink records emitted nudges, optionally failing every emit.
type captureSink struct {
	mu     sync.Mutex
	nudges []nudge.Nudge
	fail   bool
}

func (s *captureSink) Emit(_ context.Context, n nudge.Nudge) error {
	if s.fail {
		return errors.New("sink down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nudges = append(s.nudges, n)
	return nil
}

func (s *captureSink) all() []nudge.Nudge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]nudge.Nudge(nil), s.nudges...)
}

func newAdvisorEnv(t *testing.T, sink nudge.Sink) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore(d(100000))
	svc := advisor.NewService(ms, sink, 0.07, 10)

	r := chi.NewRouter()
	r.Post("/api/v1/advice/budget", svc.HandleBudget)
	r.Post("/api/v1/advice/stress-test", svc.HandleStressTest)
	r.Post("/api/v1/advice/impact", svc.HandleImpact)
	return ms, r
}

func post(t *testing.T, router chi.Router, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleBudget_Excellent(t *testing.T) {
	ms, router := newAdvisorEnv(t, nudge.NopSink{})

	w := post(t, router, "/api/v1/advice/budget", map[string]any{
		"user_id": "user1", "needs": 50, "wants": 30, "savings": 20,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success  bool   `json:"success"`
		Feedback string `json:"feedback"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("expected success=true")
	}
	if resp.Feedback != advisor.FeedbackExcellent {
		t.Errorf("expected excellent feedback, got %q", resp.Feedback)
	}

	events, _ := ms.ListEventsByUser(context.Background(), "user1")
	if len(events) != 1 || events[0].Kind != model.EventBudgetEvaluated {
		t.Errorf("expected BUDGET_EVALUATED audit event, got %v", events)
	}
}

func TestHandleBudget_InvalidAllocation(t *testing.T) {
	_, router := newAdvisorEnv(t, nudge.NopSink{})

	w := post(t, router, "/api/v1/advice/budget", map[string]any{
		"user_id": "user1", "needs": 50, "wants": 30, "savings": 15,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for sum 95, got %d", w.Code)
	}
}

func TestHandleStressTest_EmitsNudge(t *testing.T) {
	sink := &captureSink{}
	ms, router := newAdvisorEnv(t, sink)

	w := post(t, router, "/api/v1/advice/stress-test", map[string]any{
		"user_id": "user1", "monthly_income": 100, "monthly_expenses": 150, "emergency_fund": 300,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		SurvivalMonths string `json:"survival_months"`
		Unlimited      bool   `json:"unlimited"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SurvivalMonths != "6.0" || resp.Unlimited {
		t.Errorf("expected survival_months=6.0, got %+v", resp)
	}

	nudges := sink.all()
	if len(nudges) != 1 {
		t.Fatalf("expected 1 nudge, got %d", len(nudges))
	}
	if nudges[0].Context != nudge.ContextBudgeting {
		t.Errorf("expected budgeting context, got %s", nudges[0].Context)
	}
	if nudges[0].Payload["survival_months"] != "6.0" {
		t.Errorf("nudge should carry survival time, got %v", nudges[0].Payload)
	}

	events, _ := ms.ListEventsByUser(context.Background(), "user1")
	if len(events) != 1 || events[0].Kind != model.EventStressTestRun {
		t.Errorf("expected STRESS_TEST_RUN audit event, got %v", events)
	}
}

func TestHandleStressTest_UnlimitedNoNudge(t *testing.T) {
	sink := &captureSink{}
	_, router := newAdvisorEnv(t, sink)

	w := post(t, router, "/api/v1/advice/stress-test", map[string]any{
		"user_id": "user1", "monthly_income": 200, "monthly_expenses": 150, "emergency_fund": 300,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		SurvivalMonths string `json:"survival_months"`
		Unlimited      bool   `json:"unlimited"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Unlimited || resp.SurvivalMonths != "unlimited" {
		t.Errorf("expected unlimited sentinel, got %+v", resp)
	}

	if len(sink.all()) != 0 {
		t.Error("no urgency nudge expected when income covers expenses")
	}
}

func TestHandleStressTest_SinkFailureDoesNotFailRequest(t *testing.T) {
	sink := &captureSink{fail: true}
	_, router := newAdvisorEnv(t, sink)

	w := post(t, router, "/api/v1/advice/stress-test", map[string]any{
		"user_id": "user1", "monthly_income": 100, "monthly_expenses": 150, "emergency_fund": 300,
	})
	if w.Code != http.StatusOK {
		t.Errorf("nudge failure must not fail the request, got %d", w.Code)
	}
}

func TestHandleStressTest_RejectsNegative(t *testing.T) {
	_, router := newAdvisorEnv(t, nudge.NopSink{})

	w := post(t, router, "/api/v1/advice/stress-test", map[string]any{
		"user_id": "user1", "monthly_income": -1, "monthly_expenses": 150, "emergency_fund": 300,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative income, got %d", w.Code)
	}
}

func TestHandleImpact_DefaultHorizon(t *testing.T) {
	sink := &captureSink{}
	_, router := newAdvisorEnv(t, sink)

	w := post(t, router, "/api/v1/advice/impact", map[string]any{
		"user_id": "user1", "amount": 1000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		FutureValue string  `json:"future_value"`
		Years       int     `json:"years"`
		AnnualRate  float64 `json:"annual_rate"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Years != 10 {
		t.Errorf("expected default horizon 10, got %d", resp.Years)
	}
	if resp.AnnualRate != 0.07 {
		t.Errorf("expected configured rate 0.07, got %f", resp.AnnualRate)
	}

	nudges := sink.all()
	if len(nudges) != 1 {
		t.Fatalf("expected 1 nudge, got %d", len(nudges))
	}
	if nudges[0].Payload["amount"] != "1000" {
		t.Errorf("nudge should carry the amount, got %v", nudges[0].Payload)
	}
}

func TestHandleImpact_RejectsNonPositiveAmount(t *testing.T) {
	_, router := newAdvisorEnv(t, nudge.NopSink{})

	w := post(t, router, "/api/v1/advice/impact", map[string]any{
		"user_id": "user1", "amount": 0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero amount, got %d", w.Code)
	}
}
