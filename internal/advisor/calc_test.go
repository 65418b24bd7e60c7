package advisor_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fincademy/sim-engine/internal/advisor"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Budget evaluator ---

func TestEvaluateBudget_Excellent(t *testing.T) {
	feedback, err := advisor.EvaluateBudget(advisor.Allocation{Needs: 50, Wants: 30, Savings: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feedback != advisor.FeedbackExcellent {
		t.Errorf("expected excellent feedback, got %q", feedback)
	}
}

func TestEvaluateBudget_WantsTooHigh(t *testing.T) {
	feedback, err := advisor.EvaluateBudget(advisor.Allocation{Needs: 40, Wants: 50, Savings: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feedback != advisor.FeedbackWantsTooHigh {
		t.Errorf("expected warning feedback, got %q", feedback)
	}
}

func TestEvaluateBudget_GuidanceNeverSilent(t *testing.T) {
	// Neither excellent nor warning: must still produce feedback.
	cases := []advisor.Allocation{
		{Needs: 60, Wants: 30, Savings: 10}, // low savings
		{Needs: 58, Wants: 20, Savings: 22}, // high needs, savings fine
		{Needs: 70, Wants: 15, Savings: 15},
	}
	for _, a := range cases {
		feedback, err := advisor.EvaluateBudget(a)
		if err != nil {
			t.Fatalf("unexpected error for %+v: %v", a, err)
		}
		if feedback == "" {
			t.Errorf("empty feedback for %+v", a)
		}
		if feedback == advisor.FeedbackExcellent || feedback == advisor.FeedbackWantsTooHigh {
			t.Errorf("expected proportional guidance for %+v, got %q", a, feedback)
		}
	}
}

func TestEvaluateBudget_RejectsBadSum(t *testing.T) {
	_, err := advisor.EvaluateBudget(advisor.Allocation{Needs: 50, Wants: 30, Savings: 15})
	if !errors.Is(err, advisor.ErrInvalidAllocation) {
		t.Fatalf("expected ErrInvalidAllocation for sum 95, got %v", err)
	}
}

func TestEvaluateBudget_ToleratesRounding(t *testing.T) {
	_, err := advisor.EvaluateBudget(advisor.Allocation{Needs: 50, Wants: 30.005, Savings: 20})
	if err != nil {
		t.Errorf("sum within ±0.01 should be accepted, got %v", err)
	}
}

// --- Stress test ---

func TestStressTest_SurvivalMonths(t *testing.T) {
	result := advisor.StressTest(advisor.StressTestInput{
		MonthlyIncome:   d(100),
		MonthlyExpenses: d(150),
		EmergencyFund:   d(300),
	})
	if result.Unlimited {
		t.Fatal("expected finite survival time")
	}
	if result.SurvivalMonths.StringFixed(1) != "6.0" {
		t.Errorf("expected 6.0 months, got %s", result.SurvivalMonths)
	}
}

func TestStressTest_ZeroFund(t *testing.T) {
	result := advisor.StressTest(advisor.StressTestInput{
		MonthlyIncome:   d(100),
		MonthlyExpenses: d(150),
		EmergencyFund:   decimal.Zero,
	})
	if result.Unlimited {
		t.Fatal("expected finite survival time")
	}
	if !result.SurvivalMonths.IsZero() {
		t.Errorf("expected exactly 0 months, got %s", result.SurvivalMonths)
	}
}

func TestStressTest_IncomeCoversExpenses(t *testing.T) {
	for _, in := range []advisor.StressTestInput{
		{MonthlyIncome: d(150), MonthlyExpenses: d(100), EmergencyFund: d(300)},
		{MonthlyIncome: d(100), MonthlyExpenses: d(100), EmergencyFund: decimal.Zero},
		{MonthlyIncome: decimal.Zero, MonthlyExpenses: decimal.Zero, EmergencyFund: decimal.Zero},
	} {
		result := advisor.StressTest(in)
		if !result.Unlimited {
			t.Errorf("expected unlimited for %+v, got %s", in, result.SurvivalMonths)
		}
	}
}

func TestStressTest_RoundsToOneDecimal(t *testing.T) {
	result := advisor.StressTest(advisor.StressTestInput{
		MonthlyIncome:   d(0),
		MonthlyExpenses: d(300),
		EmergencyFund:   d(1000),
	})
	// 1000/300 = 3.333... → 3.3
	if result.SurvivalMonths.StringFixed(1) != "3.3" {
		t.Errorf("expected 3.3, got %s", result.SurvivalMonths)
	}
}

// --- Impact projector ---

func TestProjectImpact_GrowsStrictly(t *testing.T) {
	fv := advisor.ProjectImpact(d(1000), 10, 0.07)
	if !fv.GreaterThan(d(1000)) {
		t.Errorf("future value must exceed amount, got %s", fv)
	}
}

func TestProjectImpact_MonotonicInYears(t *testing.T) {
	prev := decimal.Zero
	for years := 1; years <= 30; years++ {
		fv := advisor.ProjectImpact(d(1000), years, 0.07)
		if !fv.GreaterThan(prev) {
			t.Fatalf("future value not strictly increasing at %d years: %s <= %s", years, fv, prev)
		}
		prev = fv
	}
}

func TestProjectImpact_ZeroRate(t *testing.T) {
	fv := advisor.ProjectImpact(d(1000), 10, 0)
	if !fv.Equal(d(1000)) {
		t.Errorf("zero growth rate should preserve amount, got %s", fv)
	}
}
