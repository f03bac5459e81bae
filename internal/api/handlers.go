package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/leasify/leased/internal/domain"
)

type createLeaseRequest struct {
	CustomerID      string `json:"customer_id"`
	PrincipalAmount string `json:"principal_amount"`
	TermMonths      int    `json:"term_months"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

func (s *Server) handleCreateLease(w http.ResponseWriter, r *http.Request) {
	var req createLeaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}

	principal, err := decimal.NewFromString(req.PrincipalAmount)
	if err != nil {
		writeError(w, domain.NewValidationError("create_lease",
			"principal_amount must be a decimal string", err))
		return
	}

	result, err := s.deps.Leases.CreateLease(r.Context(), req.CustomerID, principal, req.TermMonths, key)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]interface{}{
		"lease":    result.Lease,
		"payments": result.Payments,
		"replayed": result.Replayed,
	})
}

func (s *Server) handleGetLease(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	lease, err := s.deps.Leases.GetLease(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

func (s *Server) handleGetPayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	skip, limit := pagination(r)
	payments, err := s.deps.Leases.GetPayments(r.Context(), id, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"skip":     skip,
		"limit":    limit,
	})
}

func (s *Server) handleListByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := pathString(r, "id")
	skip, limit := pagination(r)
	status := domain.LeaseStatus(r.URL.Query().Get("status"))

	leases, err := s.deps.Leases.ListByCustomer(r.Context(), customerID, status, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leases": leases,
		"skip":   skip,
		"limit":  limit,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.deps.Leases.UpdateStatus(r.Context(), id, domain.LeaseStatus(req.Status)); err != nil {
		writeError(w, err)
		return
	}

	lease, err := s.deps.Leases.GetLease(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

func (s *Server) handleAnnounceSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := s.deps.Payments.ScheduleForLease(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lease_id":  id,
		"scheduled": count,
	})
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	state, err := s.deps.Projections.Current(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type attemptRequest struct {
	AttemptNumber int `json:"attempt_number,omitempty"`
}

func (s *Server) handleAttemptPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req attemptRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := s.deps.Payments.Attempt(r.Context(), id, req.AttemptNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment":         result.Payment,
		"outcome":         result.Outcome,
		"transaction_id":  result.TransactionID,
		"reason":          result.Reason,
		"attempt_number":  result.AttemptNumber,
		"retry_scheduled": result.RetryScheduled,
		"next_retry_at":   result.NextRetryAt,
	})
}

func (s *Server) handlePayoffQuote(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	quote, err := s.deps.Payments.Quote(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleEarlyPayoff(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.deps.Payments.ProcessEarlyPayoff(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quote":              result.Quote,
		"payment":            result.Payment,
		"transaction_id":     result.TransactionID,
		"cancelled_payments": result.CancelledPayments,
	})
}
