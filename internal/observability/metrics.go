package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the strat engine.
type Metrics struct {
	// --- Reconciliation cascade ---
	EventsApplied    *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	CascadeDuration  *prometheus.HistogramVec
	CascadeAbandoned *prometheus.CounterVec
	PauseTriggered   *prometheus.CounterVec
	OrderTransitions *prometheus.CounterVec
	OverFills        prometheus.Counter

	// --- Derived state ---
	ResidualNotional   prometheus.Gauge
	BalanceNotional    prometheus.Gauge
	OpenExposure       *prometheus.GaugeVec
	FillExposure       *prometheus.GaugeVec
	ConsumableNotional *prometheus.GaugeVec
	ConsumableCxlQty   *prometheus.GaugeVec

	// --- Ingestion ---
	JournalsReceived *prometheus.CounterVec
	JournalsNaked    *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	IngestToApply    *prometheus.HistogramVec

	// --- Market data / FX ---
	TopOfBookUpdates *prometheus.CounterVec
	FxRefreshes      prometheus.Counter
	FxRate           prometheus.Gauge
	FeedReconnects   prometheus.Counter

	// --- Persistence ---
	PersistWrites    *prometheus.CounterVec
	PersistErrors    *prometheus.CounterVec
	PersistRetry     prometheus.Counter
	PersistBatchDur  prometheus.Histogram
	PersistBatchSize prometheus.Histogram

	// --- Readiness ---
	ReadinessState  prometheus.Gauge
	ReadinessProbes *prometheus.CounterVec

	// --- Notifications ---
	NotificationsSent    *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec
	AlertsThrottled      prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registerer. Tests pass a
// fresh registry per instance.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	cascadeBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.025,
	}

	return &Metrics{
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_events_applied_total",
			Help: "Journal events fully reconciled",
		}, []string{"event_type"}),

		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_events_rejected_total",
			Help: "Journal events rejected before the cascade",
		}, []string{"event_type", "reason"}),

		CascadeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strat_cascade_duration_seconds",
			Help:    "Time to run one reconciliation cascade",
			Buckets: cascadeBuckets,
		}, []string{"event_type"}),

		CascadeAbandoned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_cascade_abandoned_total",
			Help: "Cascades abandoned mid-flight (missing dependency, inconsistency)",
		}, []string{"step", "reason"}),

		PauseTriggered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_pause_triggered_total",
			Help: "Strategy pauses issued on limit breach",
		}, []string{"reason"}),

		OrderTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_order_transitions_total",
			Help: "Order snapshot status transitions",
		}, []string{"from", "to"}),

		OverFills: f.NewCounter(prometheus.CounterOpts{
			Name: "strat_over_fills_total",
			Help: "Over-fill anomalies detected",
		}),

		ResidualNotional: f.NewGauge(prometheus.GaugeOpts{
			Name: "strat_residual_notional_usd",
			Help: "Current residual exposure between legs",
		}),

		BalanceNotional: f.NewGauge(prometheus.GaugeOpts{
			Name: "strat_balance_notional_usd",
			Help: "Remaining single-leg notional budget",
		}),

		OpenExposure: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strat_open_exposure_usd",
			Help: "Open notional per side",
		}, []string{"side"}),

		FillExposure: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strat_fill_exposure_usd",
			Help: "Filled notional per side",
		}, []string{"side"}),

		ConsumableNotional: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strat_consumable_notional_usd",
			Help: "Remaining consumable notional per side",
		}, []string{"side"}),

		ConsumableCxlQty: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "strat_consumable_cxl_qty",
			Help: "Remaining cancel-rate budget per side",
		}, []string{"side"}),

		JournalsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_journals_received_total",
			Help: "Journal messages received from the event bus",
		}, []string{"subject"}),

		JournalsNaked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_journals_naked_total",
			Help: "Journal messages NAKed for redelivery (service not ready)",
		}, []string{"subject"}),

		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_parse_errors_total",
			Help: "Inbound payloads that failed to parse",
		}, []string{"subject"}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strat_ingest_to_apply_seconds",
			Help:    "Bus receive to cascade complete",
			Buckets: cascadeBuckets,
		}, []string{"event_type"}),

		TopOfBookUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_top_of_book_updates_total",
			Help: "Top-of-book updates applied to the cache",
		}, []string{"security"}),

		FxRefreshes: f.NewCounter(prometheus.CounterOpts{
			Name: "strat_fx_refreshes_total",
			Help: "Successful FX rate refreshes",
		}),

		FxRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "strat_fx_rate",
			Help: "Current usd_fx rate",
		}),

		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "strat_feed_reconnects_total",
			Help: "Market-data feed reconnects",
		}),

		PersistWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_persist_writes_total",
			Help: "Entity rows written to Postgres",
		}, []string{"entity"}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "strat_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "strat_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "strat_persist_batch_size",
			Help:    "Journal rows per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		ReadinessState: f.NewGauge(prometheus.GaugeOpts{
			Name: "strat_readiness_state",
			Help: "Startup sequencer state (0=NOT_READY .. 5=SERVICE_READY)",
		}),

		ReadinessProbes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_readiness_probes_total",
			Help: "Readiness sub-check probes",
		}, []string{"check", "outcome"}),

		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_notifications_sent_total",
			Help: "Entity update notifications published",
		}, []string{"entity"}),

		NotificationsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "strat_notifications_dropped_total",
			Help: "Notifications dropped on full channel",
		}, []string{"entity"}),

		AlertsThrottled: f.NewCounter(prometheus.CounterOpts{
			Name: "strat_alerts_throttled_total",
			Help: "Pause/breach alerts suppressed by the rate limiter",
		}),
	}
}
