package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasify/leased/internal/domain"
)

func TestGenerateRoundingTail(t *testing.T) {
	leaseID := uuid.New()
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	payments, err := Generate(leaseID, decimal.NewFromInt(1000), 3, start)
	require.NoError(t, err)
	require.Len(t, payments, 3)

	assert.Equal(t, "333.33", payments[0].Amount.StringFixed(2))
	assert.Equal(t, "333.33", payments[1].Amount.StringFixed(2))
	assert.Equal(t, "333.34", payments[2].Amount.StringFixed(2))
}

func TestGenerateSumsToPrincipal(t *testing.T) {
	cases := []struct {
		name      string
		principal string
		term      int
	}{
		{"even division", "1200.00", 12},
		{"remainder spread", "1000.00", 3},
		{"single installment", "499.99", 1},
		{"small amounts", "0.07", 6},
		{"max term", "99999.99", 60},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			principal := decimal.RequireFromString(tc.principal)
			payments, err := Generate(uuid.New(), principal, tc.term, time.Time{})
			require.NoError(t, err)
			require.Len(t, payments, tc.term)

			total := decimal.Zero
			for _, p := range payments {
				total = total.Add(p.Amount)
			}
			assert.True(t, total.Equal(principal),
				"schedule sums to %s, want %s", total, principal)
		})
	}
}

func TestGenerateDueDates(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	payments, err := Generate(uuid.New(), decimal.NewFromInt(300), 3, start)
	require.NoError(t, err)

	assert.Equal(t, start, payments[0].DueDate)
	assert.Equal(t, start.Add(InstallmentInterval), payments[1].DueDate)
	assert.Equal(t, start.Add(2*InstallmentInterval), payments[2].DueDate)

	for i, p := range payments {
		assert.Equal(t, i+1, p.InstallmentNumber)
		assert.Equal(t, domain.PaymentPending, p.Status)
	}
}

func TestGenerateDefaultStartDate(t *testing.T) {
	before := time.Now().UTC().Add(DefaultLeadTime)
	payments, err := Generate(uuid.New(), decimal.NewFromInt(100), 1, time.Time{})
	after := time.Now().UTC().Add(DefaultLeadTime)
	require.NoError(t, err)

	assert.False(t, payments[0].DueDate.Before(before))
	assert.False(t, payments[0].DueDate.After(after))
}

func TestGenerateValidation(t *testing.T) {
	_, err := Generate(uuid.New(), decimal.Zero, 12, time.Time{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Generate(uuid.New(), decimal.NewFromInt(-100), 12, time.Time{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Generate(uuid.New(), decimal.NewFromInt(1000), 0, time.Time{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Generate(uuid.New(), decimal.NewFromInt(1000), domain.MaxTermMonths+1, time.Time{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestValidate(t *testing.T) {
	payments, err := Generate(uuid.New(), decimal.NewFromInt(1000), 3, time.Time{})
	require.NoError(t, err)
	assert.NoError(t, Validate(payments))

	assert.ErrorIs(t, Validate(nil), domain.ErrValidation)

	outOfOrder := []domain.Payment{payments[1], payments[0]}
	assert.ErrorIs(t, Validate(outOfOrder), domain.ErrValidation)

	payments[1].Amount = decimal.Zero
	assert.ErrorIs(t, Validate(payments), domain.ErrValidation)
}

func TestRemainingBalance(t *testing.T) {
	payments, err := Generate(uuid.New(), decimal.NewFromInt(1000), 3, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "1000.00", RemainingBalance(payments).StringFixed(2))

	payments[0].Status = domain.PaymentPaid
	assert.Equal(t, "666.67", RemainingBalance(payments).StringFixed(2))

	// FAILED installments still count toward the balance.
	payments[1].Status = domain.PaymentFailed
	assert.Equal(t, "666.67", RemainingBalance(payments).StringFixed(2))

	payments[1].Status = domain.PaymentCancelled
	assert.Equal(t, "333.34", RemainingBalance(payments).StringFixed(2))
}

func TestCalculatePayoff(t *testing.T) {
	quote := CalculatePayoff(decimal.NewFromInt(1000))

	assert.Equal(t, "1000.00", quote.RemainingBalance.StringFixed(2))
	assert.Equal(t, "20.00", quote.DiscountAmount.StringFixed(2))
	assert.Equal(t, "980.00", quote.PayoffAmount.StringFixed(2))
	assert.Equal(t, "2", quote.DiscountPercent.String())
}

func TestCalculatePayoffQuantizesDiscount(t *testing.T) {
	// 2% of 666.67 is 13.3334: the discount is rounded before the
	// subtraction so both outputs are exact money values.
	quote := CalculatePayoff(decimal.RequireFromString("666.67"))

	assert.Equal(t, "13.33", quote.DiscountAmount.StringFixed(2))
	assert.Equal(t, "653.34", quote.PayoffAmount.StringFixed(2))
}
