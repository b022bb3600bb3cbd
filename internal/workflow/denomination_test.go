package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

func TestValidate_ExactMatch(t *testing.T) {
	r := NewReconciler()

	matches, diff, err := r.Validate(
		domain.DenominationBreakdown{100: 10, 50: 2, 20: 1}, // 1120
		domain.Money{Amount: 1120, Currency: domain.CurrencyUSD},
	)
	require.NoError(t, err)
	assert.True(t, matches)
	assert.Zero(t, diff.Amount)
}

func TestValidate_MismatchReportsDifference(t *testing.T) {
	r := NewReconciler()

	matches, diff, err := r.Validate(
		domain.DenominationBreakdown{100: 10}, // 1000
		domain.Money{Amount: 1120, Currency: domain.CurrencyUSD},
	)
	require.NoError(t, err)
	assert.False(t, matches)
	// Разница = цель минус раскладка
	assert.InDelta(t, 120, diff.Amount, 0.001)
	assert.Equal(t, domain.CurrencyUSD, diff.Currency)
}

func TestValidate_KHRHasZeroTolerance(t *testing.T) {
	r := NewReconciler()

	matches, _, err := r.Validate(
		domain.DenominationBreakdown{100000: 5, 500: 1},
		domain.Money{Amount: 500500, Currency: domain.CurrencyKHR},
	)
	require.NoError(t, err)
	assert.True(t, matches)

	matches, diff, err := r.Validate(
		domain.DenominationBreakdown{100000: 5},
		domain.Money{Amount: 500500, Currency: domain.CurrencyKHR},
	)
	require.NoError(t, err)
	assert.False(t, matches)
	assert.Equal(t, float64(500), diff.Amount)
}

func TestValidate_RejectsMalformedBreakdown(t *testing.T) {
	r := NewReconciler()

	_, _, err := r.Validate(
		domain.DenominationBreakdown{-5: 1},
		domain.Money{Amount: 100, Currency: domain.CurrencyUSD},
	)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, _, err = r.Validate(
		domain.DenominationBreakdown{100: -1},
		domain.Money{Amount: 100, Currency: domain.CurrencyUSD},
	)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestAutoCalculate_GreedyLargestFirst(t *testing.T) {
	r := NewReconciler()

	breakdown, err := r.AutoCalculate(
		domain.Money{Amount: 1186, Currency: domain.CurrencyUSD}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.DenominationBreakdown{100: 11, 50: 1, 20: 1, 10: 1, 5: 1, 1: 1}, breakdown)
}

func TestAutoCalculate_RoundTripUSD(t *testing.T) {
	r := NewReconciler()

	for _, amount := range []float64{1, 187, 5000, 75000, 123456} {
		target := domain.Money{Amount: amount, Currency: domain.CurrencyUSD}
		breakdown, err := r.AutoCalculate(target, nil)
		require.NoError(t, err)

		matches, diff, err := r.Validate(breakdown, target)
		require.NoError(t, err)
		assert.True(t, matches, "amount %.2f left diff %.2f", amount, diff.Amount)
	}
}

func TestAutoCalculate_RoundTripKHR(t *testing.T) {
	r := NewReconciler()

	for _, amount := range []float64{500, 123500, 200000000, 987654500} {
		target := domain.Money{Amount: amount, Currency: domain.CurrencyKHR}
		breakdown, err := r.AutoCalculate(target, nil)
		require.NoError(t, err)

		matches, _, err := r.Validate(breakdown, target)
		require.NoError(t, err)
		assert.True(t, matches, "amount %.0f", amount)
	}
}

func TestAutoCalculate_CustomFaceSet(t *testing.T) {
	r := NewReconciler()

	// Касса без сотенных: ограниченный набор задается явно
	breakdown, err := r.AutoCalculate(
		domain.Money{Amount: 270, Currency: domain.CurrencyUSD},
		[]int{50, 20, 10},
	)
	require.NoError(t, err)
	assert.Equal(t, domain.DenominationBreakdown{50: 5, 20: 1}, breakdown)
}

func TestAutoCalculate_FractionalUSDRemainder(t *testing.T) {
	r := NewReconciler()

	// Центы не раскладываются купюрами: остаток просто не входит в раскладку
	target := domain.Money{Amount: 100.75, Currency: domain.CurrencyUSD}
	breakdown, err := r.AutoCalculate(target, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DenominationBreakdown{100: 1}, breakdown)

	matches, diff, err := r.Validate(breakdown, target)
	require.NoError(t, err)
	assert.False(t, matches)
	assert.InDelta(t, 0.75, diff.Amount, 0.001)
}

func TestFaceValuesFor(t *testing.T) {
	assert.Equal(t, USDFaceValues, FaceValuesFor(domain.CurrencyUSD))
	assert.Equal(t, KHRFaceValues, FaceValuesFor(domain.CurrencyKHR))
}
