package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "editions_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// JobsProcessed counts finished job attempts by type and outcome
	// (completed, retried, dead).
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_jobs_processed_total",
		Help: "Total job attempts by type and outcome",
	}, []string{"job_type", "outcome"})

	// JobsCreated counts enqueued jobs; deduplicated requests are labelled collapsed.
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_jobs_created_total",
		Help: "Total job creations by type and result",
	}, []string{"job_type", "result"})

	// JobDuration records handler latency.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "editions_job_duration_seconds",
		Help:    "Job handler duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"job_type"})

	// SweepRuns counts reconciliation sweep executions.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_sweep_runs_total",
		Help: "Total reconciliation sweep runs by sweep and result",
	}, []string{"sweep", "result"})

	// SweepCorrections counts rows a sweep changed.
	SweepCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_sweep_corrections_total",
		Help: "Total ledger rows corrected by reconciliation sweeps",
	}, []string{"sweep"})

	// MintSubmissions counts relay submissions by strategy and result.
	MintSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_mint_submissions_total",
		Help: "Total mint submissions by strategy and result",
	}, []string{"strategy", "result"})

	// FeeRejections counts mints refused because the network fee was above the ceiling.
	FeeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "editions_mint_fee_rejections_total",
		Help: "Total mint attempts rejected by the gas price ceiling",
	})

	// WebhookEvents counts payment webhook deliveries by event type and result.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_webhook_events_total",
		Help: "Total payment webhook events by type and result",
	}, []string{"event_type", "result"})

	// LedgerRejections counts synchronous supply refusals by error code.
	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_ledger_rejections_total",
		Help: "Total claims and purchases refused by the ledger",
	}, []string{"code"})

	// SettlementRejections counts paid intents the ledger refused to settle.
	// Each one is a captured payment without tokens and needs a refund.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "editions_settlement_rejections_total",
		Help: "Total paid intents rejected at settlement, by error code",
	}, []string{"code"})
)

const metricsStartKey = "editions:metrics_start"

// RegisterGormMetrics installs callbacks that record query latency per table.
func RegisterGormMetrics(db *gorm.DB) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(metricsStartKey, time.Now())
	}
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(metricsStartKey)
			if !ok {
				return
			}
			start, ok := v.(time.Time)
			if !ok {
				return
			}
			table := tx.Statement.Table
			if table == "" {
				table = "unknown"
			}
			DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
		}
	}

	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("metrics:before_create", before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("metrics:after_create", after("create")); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("metrics:before_query", before); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("metrics:after_query", after("query")); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("metrics:before_update", before); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("metrics:after_update", after("update")); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("metrics:before_row", before); err != nil {
		return err
	}
	return cb.Row().After("gorm:row").Register("metrics:after_row", after("row"))
}
