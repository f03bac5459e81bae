package payment

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedGatewayAlwaysSucceeds(t *testing.T) {
	ctx := context.Background()
	gateway := NewSimulatedGateway()
	gateway.SetSuccessRate(1)

	req := ChargeRequest{
		PaymentID:     uuid.New(),
		LeaseID:       uuid.New(),
		Amount:        decimal.NewFromInt(100),
		AttemptNumber: 1,
	}

	for i := 0; i < 20; i++ {
		result, err := gateway.Charge(ctx, req)
		require.NoError(t, err)
		assert.True(t, result.Outcome.Succeeded())
		assert.True(t, strings.HasPrefix(result.TransactionID, "txn-"+req.PaymentID.String()))
		assert.Empty(t, result.Reason)
	}
}

func TestSimulatedGatewayAlwaysFails(t *testing.T) {
	ctx := context.Background()
	gateway := NewSimulatedGateway()
	gateway.SetSuccessRate(0)

	req := ChargeRequest{PaymentID: uuid.New(), AttemptNumber: 1}

	for i := 0; i < 20; i++ {
		result, err := gateway.Charge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailure, result.Outcome)
		assert.Contains(t, failureReasons, result.Reason)
		assert.Empty(t, result.TransactionID)
	}
}

func TestSimulatedGatewayRetryBoost(t *testing.T) {
	ctx := context.Background()
	gateway := NewSimulatedGateway()
	// A rate of zero with attempt 21 crosses 1.0 after the per-attempt
	// boost, so the charge must succeed.
	gateway.SetSuccessRate(0)

	result, err := gateway.Charge(ctx, ChargeRequest{PaymentID: uuid.New(), AttemptNumber: 21})
	require.NoError(t, err)
	assert.True(t, result.Outcome.Succeeded())
}

func TestSimulatedGatewayScripted(t *testing.T) {
	ctx := context.Background()
	gateway := NewSimulatedGateway()
	gateway.SetSuccessRate(1)
	gateway.Script(
		ChargeResult{Outcome: OutcomeFailure, Reason: "Card declined"},
		ChargeResult{Outcome: OutcomeSuccess, TransactionID: "txn-scripted"},
	)

	req := ChargeRequest{PaymentID: uuid.New(), AttemptNumber: 1}

	result, err := gateway.Charge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Card declined", result.Reason)

	result, err = gateway.Charge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "txn-scripted", result.TransactionID)

	// Script exhausted: random behavior resumes at the forced rate.
	result, err = gateway.Charge(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.Outcome.Succeeded())
}

func TestSimulatedGatewayCancelledContext(t *testing.T) {
	gateway := NewSimulatedGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := gateway.Charge(ctx, ChargeRequest{PaymentID: uuid.New(), AttemptNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, result.Outcome)
	assert.Equal(t, "Network timeout", result.Reason)
}
