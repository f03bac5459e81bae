package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/leasify/leased/internal/domain"
)

// defaultPageLimit applies when a list request gives no limit.
const defaultPageLimit = 50

// maxPageLimit caps any requested page size.
const maxPageLimit = 1000

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status, kind = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, kind = http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrImmutableLedger):
		status, kind = http.StatusForbidden, "immutable_ledger"
	case errors.Is(err, domain.ErrPaymentExhausted):
		status, kind = http.StatusConflict, "payment_exhausted"
	case errors.Is(err, domain.ErrGateway):
		status, kind = http.StatusBadGateway, "gateway"
	case errors.Is(err, domain.ErrBus):
		status, kind = http.StatusBadGateway, "bus"
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func pathString(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError("parse_request", "invalid "+name+": "+raw, err)
	}
	return id, nil
}

// pagination reads skip/limit query parameters with bounds applied.
func pagination(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return skip, limit
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.NewValidationError("parse_request",
			name+" must be RFC 3339: "+raw, err)
	}
	return t, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return domain.NewValidationError("parse_request", "invalid request body", err)
	}
	return nil
}
