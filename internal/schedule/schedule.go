// Package schedule generates equal-installment payment plans and the
// derived balance calculations used for early payoff.
package schedule

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leasify/leased/internal/domain"
)

// InstallmentInterval is the spacing between consecutive due dates.
const InstallmentInterval = 30 * 24 * time.Hour

// DefaultLeadTime is how far in the future the first installment falls
// when no start date is given.
const DefaultLeadTime = 30 * 24 * time.Hour

// EarlyPayoffDiscountPercent is the discount applied to the remaining
// balance on early payoff.
var EarlyPayoffDiscountPercent = decimal.NewFromInt(2)

// Generate produces the payment plan for a lease: term equal monthly
// installments of quantize(principal/term), with the final installment
// adjusted so the amounts sum exactly to the principal. A zero startDate
// means DefaultLeadTime from now.
func Generate(leaseID uuid.UUID, principal decimal.Decimal, termMonths int, startDate time.Time) ([]domain.Payment, error) {
	if err := domain.ValidatePrincipalAndTerm(principal, termMonths); err != nil {
		return nil, err
	}

	if startDate.IsZero() {
		startDate = time.Now().UTC().Add(DefaultLeadTime)
	}

	monthly := domain.QuantizeMoney(principal.Div(decimal.NewFromInt(int64(termMonths))))

	payments := make([]domain.Payment, 0, termMonths)
	for i := 1; i <= termMonths; i++ {
		amount := monthly
		if i == termMonths {
			// Absorb the rounding remainder into the final installment
			// so the plan sums exactly to the principal.
			previous := monthly.Mul(decimal.NewFromInt(int64(termMonths - 1)))
			amount = principal.Sub(previous)
		}

		payments = append(payments, domain.Payment{
			ID:                uuid.New(),
			LeaseID:           leaseID,
			InstallmentNumber: i,
			DueDate:           startDate.Add(time.Duration(i-1) * InstallmentInterval),
			Amount:            amount,
			Status:            domain.PaymentPending,
		})
	}

	return payments, nil
}

// Validate checks that a plan has sequential installment numbers and
// positive amounts.
func Validate(payments []domain.Payment) error {
	if len(payments) == 0 {
		return domain.NewValidationError("validate_schedule", "schedule cannot be empty")
	}

	for i, payment := range payments {
		if payment.InstallmentNumber != i+1 {
			return domain.NewValidationError("validate_schedule", "installment numbers must be sequential")
		}
		if !payment.Amount.IsPositive() {
			return domain.NewValidationError("validate_schedule", "installment amounts must be positive")
		}
	}

	return nil
}

// RemainingBalance is the scheduled total minus what has been paid.
func RemainingBalance(payments []domain.Payment) decimal.Decimal {
	remaining := decimal.Zero
	for _, payment := range payments {
		switch payment.Status {
		case domain.PaymentPaid, domain.PaymentCancelled:
		default:
			remaining = remaining.Add(payment.Amount)
		}
	}
	return remaining
}

// PayoffQuote is the result of an early-payoff calculation.
type PayoffQuote struct {
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PayoffAmount     decimal.Decimal `json:"payoff_amount"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	DiscountPercent  decimal.Decimal `json:"discount_percent"`
}

// CalculatePayoff applies the early-payoff discount to a remaining
// balance. The discount is quantized before subtraction so the payoff
// amount is an exact money value.
func CalculatePayoff(remaining decimal.Decimal) PayoffQuote {
	discount := domain.QuantizeMoney(remaining.Mul(EarlyPayoffDiscountPercent).Div(decimal.NewFromInt(100)))
	payoff := domain.QuantizeMoney(remaining.Sub(discount))
	return PayoffQuote{
		RemainingBalance: remaining,
		PayoffAmount:     payoff,
		DiscountAmount:   discount,
		DiscountPercent:  EarlyPayoffDiscountPercent,
	}
}
