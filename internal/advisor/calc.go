// Package advisor implements the stateless advisory calculators: the
// 50/30/20 budget-rule evaluator, the emergency-fund stress test, and the
// long-term compound-growth projector. The calculators are pure functions
// with no store access; side effects (audit events, nudges) belong to the
// HTTP service layered on top.
package advisor

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAllocation is returned when budget percentages do not sum to 100.
var ErrInvalidAllocation = errors.New("advisor: allocation percentages must sum to 100")

// allocationTolerance is the permitted deviation from 100 when validating
// an allocation sum, absorbing caller-side rounding.
const allocationTolerance = 0.01

// Budget feedback strings. These are compared verbatim by callers, so treat
// them as part of the API.
const (
	FeedbackWantsTooHigh = "Warning: spending on wants is too high relative to needs and savings."
	FeedbackExcellent    = "Excellent allocation — on track with the 50/30/20 guideline."
)

// Allocation is a budget split in percentages of income.
type Allocation struct {
	Needs   float64 `json:"needs"`
	Wants   float64 `json:"wants"`
	Savings float64 `json:"savings"`
}

// EvaluateBudget compares an allocation against the 50/30/20 reference rule
// and returns feedback. The allocation must sum to 100 within a small
// tolerance. Feedback is never empty for a valid allocation.
func EvaluateBudget(a Allocation) (string, error) {
	sum := a.Needs + a.Wants + a.Savings
	if math.Abs(sum-100) > allocationTolerance {
		return "", fmt.Errorf("%w: got %.2f", ErrInvalidAllocation, sum)
	}

	switch {
	case a.Wants > 40:
		return FeedbackWantsTooHigh, nil
	case a.Savings >= 20 && a.Needs <= 55:
		return FeedbackExcellent, nil
	case a.Savings < 20:
		return fmt.Sprintf(
			"Decent start — moving %.1f%% of income from wants into savings would reach the 20%% guideline.",
			20-a.Savings), nil
	default:
		return fmt.Sprintf(
			"Needs consume %.1f%% of income; the guideline suggests at most 55%% — look for fixed costs to trim.",
			a.Needs), nil
	}
}

// StressTestInput describes a monthly cash-flow position. All values are
// non-negative.
type StressTestInput struct {
	MonthlyIncome   decimal.Decimal `json:"monthly_income"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`
	EmergencyFund   decimal.Decimal `json:"emergency_fund"`
}

// StressTestResult is the survival-time outcome. When income covers expenses
// the fund lasts indefinitely and Unlimited is set; SurvivalMonths is then
// meaningless.
type StressTestResult struct {
	SurvivalMonths decimal.Decimal
	Unlimited      bool
}

// StressTest computes how many months the emergency fund covers the net
// monthly shortfall, rounded to one decimal place. A zero fund with a
// positive shortfall yields exactly 0, not an error.
func StressTest(in StressTestInput) StressTestResult {
	netBurn := in.MonthlyExpenses.Sub(in.MonthlyIncome)
	if netBurn.LessThanOrEqual(decimal.Zero) {
		return StressTestResult{Unlimited: true}
	}
	return StressTestResult{
		SurvivalMonths: in.EmergencyFund.Div(netBurn).Round(1),
	}
}

// ProjectImpact computes the future value of amount compounded at annualRate
// over the given number of years:
//
//	futureValue = amount × (1 + annualRate)^years
//
// The result is strictly greater than amount for years >= 1 and
// annualRate > 0, and strictly increasing in years. The rate is a configured
// long-run average, not a prediction; it comes from config, never inline.
func ProjectImpact(amount decimal.Decimal, years int, annualRate float64) decimal.Decimal {
	growth := math.Pow(1+annualRate, float64(years))
	return amount.Mul(decimal.NewFromFloat(growth))
}
