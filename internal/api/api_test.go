package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/ledger"
	"github.com/leasify/leased/internal/lease"
	"github.com/leasify/leased/internal/payment"
	"github.com/leasify/leased/internal/projection"
	"github.com/leasify/leased/internal/retry"
	"github.com/leasify/leased/internal/storage/relationaldb/memory"
)

type fixture struct {
	repos   *memory.RepositoryManager
	gateway *payment.SimulatedGateway
	dlq     *eventbus.MemoryDLQ
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repos := memory.NewRepositoryManager()
	bus := eventbus.NewMemoryBus()
	gateway := payment.NewSimulatedGateway()
	queue := retry.NewMemoryDelayQueue()
	dlq := eventbus.NewMemoryDLQ()

	leases := lease.NewService(repos, bus)
	payments := payment.NewService(repos, gateway, leases, bus, queue)
	audit := ledger.NewQueryService(repos.Ledger())
	projections, err := projection.NewReader(repos.Ledger(), 128)
	require.NoError(t, err)

	server := httptest.NewServer(NewServer(Deps{
		Leases:      leases,
		Payments:    payments,
		Audit:       audit,
		Projections: projections,
		DLQ:         dlq,
		System:      repos.System(),
	}).Router())
	t.Cleanup(server.Close)

	return &fixture{repos: repos, gateway: gateway, dlq: dlq, server: server}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func createLease(t *testing.T, f *fixture, key string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/v1/leases", map[string]interface{}{
		"customer_id":      "cust-1",
		"principal_amount": "1000",
		"term_months":      3,
	}, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	leaseDoc := body["lease"].(map[string]interface{})
	return leaseDoc["id"].(string)
}

func TestCreateLeaseEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/leases", map[string]interface{}{
		"customer_id":      "cust-1",
		"principal_amount": "1000",
		"term_months":      3,
	}, map[string]string{"Idempotency-Key": "key-1"})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, false, body["replayed"])
	payments := body["payments"].([]interface{})
	assert.Len(t, payments, 3)

	// Replay returns 200 with the same lease.
	resp2, body2 := f.do(t, http.MethodPost, "/api/v1/leases", map[string]interface{}{
		"customer_id":      "cust-1",
		"principal_amount": "1000",
		"term_months":      3,
	}, map[string]string{"Idempotency-Key": "key-1"})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, true, body2["replayed"])
	assert.Equal(t,
		body["lease"].(map[string]interface{})["id"],
		body2["lease"].(map[string]interface{})["id"])
}

func TestCreateLeaseValidationErrors(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/leases", map[string]interface{}{
		"customer_id":      "cust-1",
		"principal_amount": "not-a-number",
		"term_months":      3,
	}, map[string]string{"Idempotency-Key": "key-1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["kind"])

	resp, _ = f.do(t, http.MethodPost, "/api/v1/leases", map[string]interface{}{
		"customer_id":      "cust-1",
		"principal_amount": "1000",
		"term_months":      99,
	}, map[string]string{"Idempotency-Key": "key-2"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLeaseAndPayments(t *testing.T) {
	f := newFixture(t)
	leaseID := createLease(t, f, "key-1")

	resp, body := f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])

	resp, body = f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/payments", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["payments"].([]interface{}), 3)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/leases/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/leases/00000000-0000-0000-0000-000000000001", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScheduleAndAttemptFlow(t *testing.T) {
	f := newFixture(t)
	leaseID := createLease(t, f, "key-1")

	resp, body := f.do(t, http.MethodPost, "/api/v1/leases/"+leaseID+"/schedule", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["scheduled"])

	resp, body = f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACTIVE", body["status"])

	// Attempt the first installment.
	_, paymentsBody := f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/payments", nil, nil)
	first := paymentsBody["payments"].([]interface{})[0].(map[string]interface{})
	paymentID := first["id"].(string)

	f.gateway.Script(payment.ChargeResult{Outcome: payment.OutcomeSuccess, TransactionID: "txn-1"})
	resp, body = f.do(t, http.MethodPost, "/api/v1/payments/"+paymentID+"/attempt", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", body["outcome"])
	assert.Equal(t, "txn-1", body["transaction_id"])

	// Projection reflects the settled installment.
	resp, body = f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/projection", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["paid_installments"])
}

func TestAttemptFailureResponse(t *testing.T) {
	f := newFixture(t)
	leaseID := createLease(t, f, "key-1")
	f.do(t, http.MethodPost, "/api/v1/leases/"+leaseID+"/schedule", nil, nil)

	_, paymentsBody := f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/payments", nil, nil)
	first := paymentsBody["payments"].([]interface{})[0].(map[string]interface{})
	paymentID := first["id"].(string)

	f.gateway.Script(payment.ChargeResult{Outcome: payment.OutcomeFailure, Reason: "Card declined"})
	resp, body := f.do(t, http.MethodPost, "/api/v1/payments/"+paymentID+"/attempt", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FAILURE", body["outcome"])
	assert.Equal(t, "Card declined", body["reason"])
	assert.Equal(t, true, body["retry_scheduled"])
	assert.NotNil(t, body["next_retry_at"])
}

func TestUpdateStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	leaseID := createLease(t, f, "key-1")

	resp, body := f.do(t, http.MethodPatch, "/api/v1/leases/"+leaseID+"/status",
		map[string]interface{}{"status": "ACTIVE"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ACTIVE", body["status"])

	resp, body = f.do(t, http.MethodPatch, "/api/v1/leases/"+leaseID+"/status",
		map[string]interface{}{"status": "PENDING"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", body["kind"])
}

func TestListByCustomerEndpoint(t *testing.T) {
	f := newFixture(t)
	createLease(t, f, "key-1")
	createLease(t, f, "key-2")

	resp, body := f.do(t, http.MethodGet, "/api/v1/customers/cust-1/leases", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["leases"].([]interface{}), 2)

	resp, body = f.do(t, http.MethodGet, "/api/v1/customers/cust-1/leases?status=ACTIVE", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["leases"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/customers/cust-1/leases?status=BOGUS", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPayoffEndpoints(t *testing.T) {
	f := newFixture(t)
	leaseID := createLease(t, f, "key-1")
	f.do(t, http.MethodPost, "/api/v1/leases/"+leaseID+"/schedule", nil, nil)

	resp, body := f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/payoff", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "980", fmt.Sprint(body["payoff_amount"]))

	f.gateway.Script(payment.ChargeResult{Outcome: payment.OutcomeSuccess, TransactionID: "txn-payoff"})
	resp, body = f.do(t, http.MethodPost, "/api/v1/leases/"+leaseID+"/payoff", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "txn-payoff", body["transaction_id"])
	assert.Equal(t, float64(3), body["cancelled_payments"])

	resp, getBody := f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", getBody["status"])

	// A declined payoff maps to 502.
	other := createLease(t, f, "key-2")
	f.do(t, http.MethodPost, "/api/v1/leases/"+other+"/schedule", nil, nil)
	f.gateway.Script(payment.ChargeResult{Outcome: payment.OutcomeFailure, Reason: "Insufficient funds"})
	resp, body = f.do(t, http.MethodPost, "/api/v1/leases/"+other+"/payoff", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "gateway", body["kind"])
}

func TestAuditEndpoints(t *testing.T) {
	f := newFixture(t)
	leaseID := createLease(t, f, "key-1")
	f.do(t, http.MethodPost, "/api/v1/leases/"+leaseID+"/schedule", nil, nil)

	resp, body := f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/audit", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["total"]) // LEASE_CREATED + 3 PAYMENT_SCHEDULED

	resp, body = f.do(t, http.MethodGet,
		"/api/v1/leases/"+leaseID+"/audit?event_types=PAYMENT_SCHEDULED", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["total"])

	resp, _ = f.do(t, http.MethodGet,
		"/api/v1/leases/"+leaseID+"/audit?event_types=NOT_A_TYPE", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/timeline", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	timeline := body["timeline"].([]interface{})
	require.NotEmpty(t, timeline)
	firstStep := timeline[0].(map[string]interface{})
	assert.Equal(t, "LEASE_CREATED", firstStep["event_type"])

	pointInTime := time.Now().UTC().Format(time.RFC3339Nano)
	resp, body = f.do(t, http.MethodGet,
		"/api/v1/leases/"+leaseID+"/state-at?point_in_time="+pointInTime, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["events_before_point"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/leases/"+leaseID+"/state-at", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/v1/audit/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["total_events"])
}

func TestExportEndpoint(t *testing.T) {
	f := newFixture(t)
	leaseID := createLease(t, f, "key-1")

	req, err := http.NewRequest(http.MethodGet,
		f.server.URL+"/api/v1/leases/"+leaseID+"/export?format=csv", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "sequence_number,event_type,timestamp,amount", lines[0])
	assert.Len(t, lines, 2)
}

func TestDLQEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := eventbus.NewDLQEntry(map[string]interface{}{"event_type": "PAYMENT_FAILED"},
		assert.AnError)
	require.NoError(t, f.dlq.Push(ctx, entry))

	resp, body := f.do(t, http.MethodGet, "/api/v1/dlq", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/dlq/"+entry.DLQID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/dlq/"+entry.DLQID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, f.dlq.Push(ctx, eventbus.NewDLQEntry(map[string]interface{}{}, assert.AnError)))
	resp, _ = f.do(t, http.MethodDelete, "/api/v1/dlq", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	count, err := f.dlq.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
