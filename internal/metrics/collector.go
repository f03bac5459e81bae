package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leasify/leased/internal/domain"
	"github.com/leasify/leased/internal/retry"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// scrapeTimeout bounds the repository reads done on each scrape.
const scrapeTimeout = 5 * time.Second

// StateCollector reports lease counts by status, ledger volume and the
// retry-queue depth at scrape time.
type StateCollector struct {
	repos relationaldb.RepositoryManager
	queue retry.DelayQueue

	leasesDesc *prometheus.Desc
	ledgerDesc *prometheus.Desc
	queueDesc  *prometheus.Desc
}

// NewStateCollector creates a collector over the given stores. queue
// may be nil.
func NewStateCollector(repos relationaldb.RepositoryManager, queue retry.DelayQueue) *StateCollector {
	return &StateCollector{
		repos: repos,
		queue: queue,
		leasesDesc: prometheus.NewDesc("leased_leases",
			"Number of leases by status.", []string{"status"}, nil),
		ledgerDesc: prometheus.NewDesc("leased_ledger_events_total",
			"Number of ledger entries by event type.", []string{"event_type"}, nil),
		queueDesc: prometheus.NewDesc("leased_retry_queue_depth",
			"Number of tasks waiting on the delay queue.", nil, nil),
	}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.leasesDesc
	ch <- c.ledgerDesc
	ch <- c.queueDesc
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	statuses := []domain.LeaseStatus{
		domain.LeasePending, domain.LeaseActive,
		domain.LeaseCompleted, domain.LeaseDefaulted,
	}
	for _, status := range statuses {
		count, err := c.repos.Lease().CountLeasesByStatus(ctx, status)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.leasesDesc,
			prometheus.GaugeValue, float64(count), string(status))
	}

	eventTypes := []domain.EventType{
		domain.EventLeaseCreated, domain.EventPaymentScheduled,
		domain.EventPaymentAttempted, domain.EventPaymentSucceeded,
		domain.EventPaymentFailed, domain.EventLeaseCompleted,
		domain.EventLeaseDefaulted,
	}
	for _, eventType := range eventTypes {
		count, err := c.repos.Ledger().CountByEventType(ctx, eventType)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.ledgerDesc,
			prometheus.CounterValue, float64(count), string(eventType))
	}

	if c.queue != nil {
		depth, err := c.queue.Len(ctx)
		if err == nil {
			ch <- prometheus.MustNewConstMetric(c.queueDesc,
				prometheus.GaugeValue, float64(depth))
		}
	}
}
