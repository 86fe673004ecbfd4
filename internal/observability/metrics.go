package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the lending service.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec
	PriceUpdatesIgnored   *prometheus.CounterVec

	// --- Reserves ---
	ReserveUtilization *prometheus.GaugeVec
	ReserveBorrowRate  *prometheus.GaugeVec
	ReserveCash        *prometheus.GaugeVec
	ReserveBadDebt     *prometheus.GaugeVec
	InterestAccrued    *prometheus.CounterVec
	BackstopRevenue    *prometheus.CounterVec

	// --- Liquidation ---
	LiquidationsTotal *prometheus.CounterVec
	ShortfallDraws    *prometheus.CounterVec

	// --- Ingestion ---
	IngestMessages    *prometheus.CounterVec
	IngestRateLimited *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge
	ProjectionUpdateDur    *prometheus.HistogramVec

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_core_events_rejected_total",
			Help: "Events rejected (dedup, ordering, pool rule)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lending_core_sequence",
			Help: "Current global sequence number",
		}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lending_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		EventSequenceGap: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		PriceUpdatesIgnored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_price_updates_ignored_total",
			Help: "Price updates ignored because a newer sequence was applied",
		}, []string{"asset"}),

		// Reserves
		ReserveUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_reserve_utilization",
			Help: "Borrowed / supplied (0.0-1.0)",
		}, []string{"asset"}),

		ReserveBorrowRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_reserve_borrow_rate",
			Help: "Annual borrow rate at last accrual (0.0-1.0+)",
		}, []string{"asset"}),

		ReserveCash: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_reserve_cash",
			Help: "Tokens held by the reserve (base units)",
		}, []string{"asset"}),

		ReserveBadDebt: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_reserve_bad_debt",
			Help: "Liability tokens neither collateral nor backstop covered",
		}, []string{"asset"}),

		InterestAccrued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_interest_accrued_total",
			Help: "Interest accrued to borrowers (base units)",
		}, []string{"asset"}),

		BackstopRevenue: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_backstop_revenue_total",
			Help: "Reserve-factor revenue credited to the backstop (base units)",
		}, []string{"asset"}),

		// Liquidation
		LiquidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_liquidations_total",
			Help: "Liquidations settled",
		}, []string{"collateral_asset", "outcome"}),

		ShortfallDraws: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_shortfall_draws_total",
			Help: "Backstop draws for borrower shortfall",
		}, []string{"asset", "covered"}),

		// Ingestion
		IngestMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_ingest_messages_total",
			Help: "Inbound messages by source and result",
		}, []string{"source", "result"}),

		IngestRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_ingest_rate_limited_total",
			Help: "gRPC calls rejected by the rate limiter",
		}, []string{"method"}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lending_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lending_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lending_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		ProjectionUpdateDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lending_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lending_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lending_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lending_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lending_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lending_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
