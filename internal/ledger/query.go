package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/projection"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// exportPageSize bounds each ledger read while paging histories.
const exportPageSize = 1000

// TimelineEvent is one step of a lease timeline: the event plus the
// projected state on either side of it.
type TimelineEvent struct {
	Sequence    int64                      `json:"sequence"`
	EventType   domain.EventType           `json:"event_type"`
	Timestamp   time.Time                  `json:"timestamp"`
	Amount      *string                    `json:"amount"`
	StateBefore projection.LeaseProjection `json:"state_before"`
	StateAfter  projection.LeaseProjection `json:"state_after"`
	Payload     map[string]interface{}     `json:"payload"`
}

// ReconstructedState is a point-in-time reconstruction result.
type ReconstructedState struct {
	LeaseID           string                     `json:"lease_id"`
	PointInTime       time.Time                  `json:"point_in_time"`
	State             projection.LeaseProjection `json:"reconstructed_state"`
	EventsBeforePoint int                        `json:"events_before_point"`
	EventsAfterPoint  int                        `json:"events_after_point"`
}

// Metrics summarizes ledger activity over a period.
type Metrics struct {
	PeriodStart      *time.Time       `json:"period_start"`
	PeriodEnd        *time.Time       `json:"period_end"`
	TotalEvents      int              `json:"total_events"`
	TypeDistribution map[string]int   `json:"event_type_distribution"`
	CountByDate      map[string]int   `json:"event_count_by_date"`
	TopEventTypes    []TypeCount      `json:"top_event_types"`
	EventsPerLease   map[string]int64 `json:"events_per_lease"`
}

// TypeCount is an event type with its occurrence count.
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

// ExportFormat selects the audit trail export encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ExportOptions controls audit trail exports.
type ExportOptions struct {
	Format         ExportFormat
	IncludePayload bool
	EventTypes     []domain.EventType
}

// QueryService serves audit reads over the ledger.
type QueryService struct {
	repo relationaldb.LedgerRepository
}

// NewQueryService creates a query service over the given repository.
func NewQueryService(repo relationaldb.LedgerRepository) *QueryService {
	return &QueryService{repo: repo}
}

func (s *QueryService) history(ctx context.Context, leaseID uuid.UUID) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for skip := 0; ; skip += exportPageSize {
		page, err := s.repo.GetLeaseHistory(ctx, leaseID, skip, exportPageSize)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if len(page) < exportPageSize {
			return entries, nil
		}
	}
}

// AuditTrail returns a lease's history, optionally filtered by event
// types, with pagination applied after filtering.
func (s *QueryService) AuditTrail(ctx context.Context, leaseID uuid.UUID, eventTypes []domain.EventType, skip, limit int) ([]domain.LedgerEntry, int, error) {
	entries, err := s.history(ctx, leaseID)
	if err != nil {
		return nil, 0, err
	}

	if len(eventTypes) > 0 {
		wanted := make(map[domain.EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			wanted[t] = true
		}
		filtered := entries[:0]
		for _, entry := range entries {
			if wanted[entry.EventType] {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	total := len(entries)
	if skip >= total {
		return nil, total, nil
	}
	entries = entries[skip:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, total, nil
}

// Timeline walks a lease's history and returns each event with the
// projected state before and after it.
func (s *QueryService) Timeline(ctx context.Context, leaseID uuid.UUID, skip, limit int) ([]TimelineEvent, int, error) {
	entries, err := s.history(ctx, leaseID)
	if err != nil {
		return nil, 0, err
	}

	timeline := make([]TimelineEvent, 0, len(entries))
	state := projection.New()
	for i := range entries {
		entry := &entries[i]
		before := state
		projection.Apply(&state, entry)

		var amount *string
		if entry.Amount != nil {
			v := entry.Amount.StringFixed(2)
			amount = &v
		}

		timeline = append(timeline, TimelineEvent{
			Sequence:    entry.SequenceNumber,
			EventType:   entry.EventType,
			Timestamp:   entry.CreatedAt,
			Amount:      amount,
			StateBefore: before,
			StateAfter:  state,
			Payload:     entry.EventPayload,
		})
	}

	total := len(timeline)
	if skip >= total {
		return nil, total, nil
	}
	timeline = timeline[skip:]
	if limit > 0 && limit < len(timeline) {
		timeline = timeline[:limit]
	}
	return timeline, total, nil
}

// StateAt reconstructs a lease's state as of pointInTime.
func (s *QueryService) StateAt(ctx context.Context, leaseID uuid.UUID, pointInTime time.Time) (*ReconstructedState, error) {
	entries, err := s.history(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	before := 0
	for i := range entries {
		if !entries[i].CreatedAt.After(pointInTime) {
			before++
		}
	}

	return &ReconstructedState{
		LeaseID:           leaseID.String(),
		PointInTime:       pointInTime,
		State:             projection.Fold(entries, pointInTime),
		EventsBeforePoint: before,
		EventsAfterPoint:  len(entries) - before,
	}, nil
}

// AuditMetrics computes event distribution and per-lease activity over
// an optional period. Zero bounds are open.
func (s *QueryService) AuditMetrics(ctx context.Context, start, end time.Time) (*Metrics, error) {
	var all []domain.LedgerEntry
	for skip := 0; ; skip += exportPageSize {
		page, err := s.repo.GetAll(ctx, skip, exportPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	metrics := &Metrics{
		TypeDistribution: make(map[string]int),
		CountByDate:      make(map[string]int),
		EventsPerLease:   make(map[string]int64),
	}
	if !start.IsZero() {
		metrics.PeriodStart = &start
	}
	if !end.IsZero() {
		metrics.PeriodEnd = &end
	}

	for i := range all {
		entry := &all[i]
		if !start.IsZero() && entry.CreatedAt.Before(start) {
			continue
		}
		if !end.IsZero() && entry.CreatedAt.After(end) {
			continue
		}

		metrics.TotalEvents++
		metrics.TypeDistribution[string(entry.EventType)]++
		metrics.CountByDate[entry.CreatedAt.Format("2006-01-02")]++
		metrics.EventsPerLease[entry.LeaseID.String()]++
	}

	metrics.TopEventTypes = make([]TypeCount, 0, len(metrics.TypeDistribution))
	for eventType, count := range metrics.TypeDistribution {
		metrics.TopEventTypes = append(metrics.TopEventTypes, TypeCount{EventType: eventType, Count: count})
	}
	sort.Slice(metrics.TopEventTypes, func(i, j int) bool {
		if metrics.TopEventTypes[i].Count != metrics.TopEventTypes[j].Count {
			return metrics.TopEventTypes[i].Count > metrics.TopEventTypes[j].Count
		}
		return metrics.TopEventTypes[i].EventType < metrics.TopEventTypes[j].EventType
	})

	return metrics, nil
}

// Export renders a lease's audit trail as JSON or CSV.
func (s *QueryService) Export(ctx context.Context, leaseID uuid.UUID, opts ExportOptions) (string, error) {
	entries, _, err := s.AuditTrail(ctx, leaseID, opts.EventTypes, 0, 0)
	if err != nil {
		return "", err
	}

	switch opts.Format {
	case ExportJSON, "":
		return exportJSON(entries, opts.IncludePayload)
	case ExportCSV:
		return exportCSV(entries, opts.IncludePayload)
	}
	return "", domain.NewValidationError("export_audit_trail", "unsupported export format: "+string(opts.Format))
}

type exportRecord struct {
	Sequence  int64                  `json:"sequence_number"`
	EventType domain.EventType       `json:"event_type"`
	Timestamp string                 `json:"timestamp"`
	Amount    *string                `json:"amount"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

func toExportRecords(entries []domain.LedgerEntry, includePayload bool) []exportRecord {
	records := make([]exportRecord, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		record := exportRecord{
			Sequence:  entry.SequenceNumber,
			EventType: entry.EventType,
			Timestamp: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if entry.Amount != nil {
			v := entry.Amount.StringFixed(2)
			record.Amount = &v
		}
		if includePayload {
			record.Payload = entry.EventPayload
		}
		records = append(records, record)
	}
	return records
}

func exportJSON(entries []domain.LedgerEntry, includePayload bool) (string, error) {
	data, err := json.MarshalIndent(toExportRecords(entries, includePayload), "", "  ")
	if err != nil {
		return "", domain.NewValidationError("export_audit_trail", "failed to encode export", err)
	}
	return string(data), nil
}

func exportCSV(entries []domain.LedgerEntry, includePayload bool) (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"sequence_number", "event_type", "timestamp", "amount"}
	if includePayload {
		header = append(header, "payload")
	}
	if err := writer.Write(header); err != nil {
		return "", domain.NewValidationError("export_audit_trail", "failed to write export", err)
	}

	for _, record := range toExportRecords(entries, includePayload) {
		row := []string{
			strconv.FormatInt(record.Sequence, 10),
			string(record.EventType),
			record.Timestamp,
		}
		if record.Amount != nil {
			row = append(row, *record.Amount)
		} else {
			row = append(row, "")
		}
		if includePayload {
			payload, err := json.Marshal(record.Payload)
			if err != nil {
				return "", domain.NewValidationError("export_audit_trail", "failed to encode payload", err)
			}
			row = append(row, string(payload))
		}
		if err := writer.Write(row); err != nil {
			return "", domain.NewValidationError("export_audit_trail", "failed to write export", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", domain.NewValidationError("export_audit_trail", "failed to write export", err)
	}
	return buf.String(), nil
}
