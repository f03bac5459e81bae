package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/ledger"
)

// queryEventTypes parses the comma-separated event_types filter.
func queryEventTypes(r *http.Request) ([]domain.EventType, error) {
	raw := r.URL.Query().Get("event_types")
	if raw == "" {
		return nil, nil
	}

	var types []domain.EventType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eventType := domain.EventType(part)
		if !eventType.Known() {
			return nil, domain.NewValidationError("parse_request", "unknown event type: "+part)
		}
		types = append(types, eventType)
	}
	return types, nil
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	eventTypes, err := queryEventTypes(r)
	if err != nil {
		writeError(w, err)
		return
	}

	skip, limit := pagination(r)
	entries, total, err := s.deps.Audit.AuditTrail(r.Context(), id, eventTypes, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lease_id": id,
		"entries":  entries,
		"total":    total,
		"skip":     skip,
		"limit":    limit,
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	skip, limit := pagination(r)
	timeline, total, err := s.deps.Audit.Timeline(r.Context(), id, skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lease_id": id,
		"timeline": timeline,
		"total":    total,
		"skip":     skip,
		"limit":    limit,
	})
}

func (s *Server) handleStateAt(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	pointInTime, err := queryTime(r, "point_in_time")
	if err != nil {
		writeError(w, err)
		return
	}
	if pointInTime.IsZero() {
		writeError(w, domain.NewValidationError("reconstruct_state", "point_in_time is required"))
		return
	}

	state, err := s.deps.Audit.StateAt(r.Context(), id, pointInTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	eventTypes, err := queryEventTypes(r)
	if err != nil {
		writeError(w, err)
		return
	}

	includePayload, _ := strconv.ParseBool(r.URL.Query().Get("include_payload"))
	format := ledger.ExportFormat(r.URL.Query().Get("format"))

	out, err := s.deps.Audit.Export(r.Context(), id, ledger.ExportOptions{
		Format:         format,
		IncludePayload: includePayload,
		EventTypes:     eventTypes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	switch format {
	case ledger.ExportCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			`attachment; filename="audit-`+id.String()+`.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleAuditMetrics(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}

	metrics, err := s.deps.Audit.AuditMetrics(r.Context(), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	if s.deps.DLQ == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "dead-letter queue not configured", Kind: "unavailable"})
		return
	}

	_, limit := pagination(r)
	entries, err := s.deps.DLQ.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := s.deps.DLQ.Count(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   count,
	})
}

func (s *Server) handleAcknowledgeDLQ(w http.ResponseWriter, r *http.Request) {
	if s.deps.DLQ == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "dead-letter queue not configured", Kind: "unavailable"})
		return
	}

	id := pathString(r, "id")
	removed, err := s.deps.DLQ.Acknowledge(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, domain.NewNotFoundError("acknowledge_dlq", "no dead-letter entry with id "+id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": id})
}

func (s *Server) handleClearDLQ(w http.ResponseWriter, r *http.Request) {
	if s.deps.DLQ == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "dead-letter queue not configured", Kind: "unavailable"})
		return
	}

	if err := s.deps.DLQ.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
