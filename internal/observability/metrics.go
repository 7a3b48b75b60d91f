package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpVAMM.
type Metrics struct {
	// --- Core ---
	DirectivesApplied  *prometheus.CounterVec
	DirectivesRejected *prometheus.CounterVec
	DirectiveDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreRecords        *prometheus.CounterVec
	CoreCommitDuration prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Markets ---
	MarkPrice    *prometheus.GaugeVec
	FundingRate  *prometheus.GaugeVec
	OpenInterest *prometheus.GaugeVec

	// --- Liquidation ---
	Liquidations   *prometheus.CounterVec
	LiquidationFee prometheus.Counter

	// --- Channel & Backpressure ---
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	OracleReadings *prometheus.CounterVec

	// --- Persistence ---
	PersistOutputsWritten  prometheus.Counter
	PersistRecordsWritten  prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionWatermark *prometheus.GaugeVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry(); the server passes
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		DirectivesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_directives_applied_total",
			Help: "Directives committed by the clearing house",
		}, []string{"type"}),

		DirectivesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_directives_rejected_total",
			Help: "Directives rejected (duplicate, unauthorized, validation, arithmetic)",
		}, []string{"type", "reason"}),

		DirectiveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_vamm_directive_duration_seconds",
			Help:    "Time to apply a single directive",
			Buckets: latencyBuckets,
		}, []string{"type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_journals_total",
			Help: "Vault journal entries generated",
		}, []string{"journal_type"}),

		CoreRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_history_records_total",
			Help: "History records emitted",
		}, []string{"kind"}),

		CoreCommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_vamm_commit_duration_seconds",
			Help:    "Time to commit a directive's staged writes to the store",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_vamm_sequence",
			Help: "Sequence of the last committed directive",
		}),

		MarkPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vamm_mark_price",
			Help: "Mark price after the last trade, in mark price precision",
		}, []string{"market"}),

		FundingRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vamm_funding_rate",
			Help: "Last funding rate, in funding precision",
		}, []string{"market"}),

		OpenInterest: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vamm_open_interest",
			Help: "Users holding a position",
		}, []string{"market"}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"kind"}),

		LiquidationFee: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_liquidation_fee_total",
			Help: "Liquidation fees charged, in quote precision",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_publish_drops_total",
			Help: "History records that could not be published",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_idempotency_duplicates_total",
			Help: "Duplicate directives detected",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_vamm_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_dedup_lru_evictions_total",
			Help: "Evictions from the idempotency LRU",
		}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_ingest_messages_total",
			Help: "Inbound messages by source and result",
		}, []string{"source", "result"}),

		OracleReadings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_oracle_readings_total",
			Help: "Oracle readings pushed",
		}, []string{"oracle"}),

		PersistOutputsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_persist_outputs_written_total",
			Help: "Directive outputs written to Postgres",
		}),

		PersistRecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_persist_records_written_total",
			Help: "History records written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_vamm_persist_batch_size",
			Help:    "Outputs per persistence flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_vamm_persist_batch_duration_seconds",
			Help:    "Time to flush one batch to Postgres",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_vamm_persist_retry_total",
			Help: "Persistence flush retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_vamm_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_vamm_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: prometheus.DefBuckets,
		}, []string{"projection"}),

		ProjectionWatermark: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_vamm_projection_watermark",
			Help: "Last sequence applied by a projection",
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_query_requests_total",
			Help: "Query requests by method",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_vamm_query_duration_seconds",
			Help:    "Query latency by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_vamm_query_errors_total",
			Help: "Query errors by method and code",
		}, []string{"method", "code"}),
	}
}
