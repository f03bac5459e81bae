// Package payment implements payment execution: the external gateway
// contract, the attempt pipeline with its transactional discipline, and
// retry scheduling for failed charges.
package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is a gateway charge result code.
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeFailure  Outcome = "FAILURE"
	OutcomeDeclined Outcome = "DECLINED"
	OutcomeTimeout  Outcome = "TIMEOUT"
)

// Succeeded reports whether the charge settled.
func (o Outcome) Succeeded() bool { return o == OutcomeSuccess }

// ChargeRequest carries one charge submission.
type ChargeRequest struct {
	PaymentID     uuid.UUID
	LeaseID       uuid.UUID
	Amount        decimal.Decimal
	CustomerID    string
	AttemptNumber int
}

// ChargeResult is the gateway's answer. Reason is set on any
// non-success outcome; TransactionID on success.
type ChargeResult struct {
	Outcome       Outcome
	TransactionID string
	Reason        string
}

// Gateway is the external payment processor contract.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// failureReasons are the decline reasons the simulator draws from.
var failureReasons = []string{
	"Insufficient funds",
	"Card declined",
	"Network timeout",
	"Invalid card",
}

// SimulatedGateway models a processor with a tunable success rate.
// Retries get a small boost: each attempt past the first adds five
// percentage points. Outcomes can also be scripted for tests.
type SimulatedGateway struct {
	mu          sync.Mutex
	successRate float64
	rng         *rand.Rand
	scripted    []ChargeResult
}

// NewSimulatedGateway creates a simulator with a 70% base success rate.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		successRate: 0.70,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSuccessRate overrides the base success rate. Values outside [0, 1]
// are clamped.
func (g *SimulatedGateway) SetSuccessRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.mu.Lock()
	g.successRate = rate
	g.mu.Unlock()
}

// Script queues outcomes to be returned verbatim, in order, before any
// random behavior resumes.
func (g *SimulatedGateway) Script(results ...ChargeResult) {
	g.mu.Lock()
	g.scripted = append(g.scripted, results...)
	g.mu.Unlock()
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{Outcome: OutcomeTimeout, Reason: "Network timeout"}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.scripted) > 0 {
		result := g.scripted[0]
		g.scripted = g.scripted[1:]
		return result, nil
	}

	rate := g.successRate + float64(req.AttemptNumber-1)*0.05
	if rate > 1 {
		rate = 1
	}

	if g.rng.Float64() < rate {
		return ChargeResult{
			Outcome:       OutcomeSuccess,
			TransactionID: fmt.Sprintf("txn-%s-%d", req.PaymentID, time.Now().UTC().Unix()),
		}, nil
	}

	return ChargeResult{
		Outcome: OutcomeFailure,
		Reason:  failureReasons[g.rng.Intn(len(failureReasons))],
	}, nil
}
