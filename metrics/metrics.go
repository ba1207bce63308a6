package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_events_recorded_total",
			Help: "Total number of security events recorded",
		},
		[]string{"type", "severity"},
	)

	EventRecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchtower_event_record_duration_seconds",
			Help:    "Time taken to record an event including its correlation pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	CorrelationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchtower_correlation_duration_seconds",
			Help:    "Time taken by one correlation pass",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	CorrelationTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_correlation_timeouts_total",
			Help: "Correlation passes abandoned because they exceeded their time budget",
		},
	)

	CorrelationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_correlation_errors_total",
			Help: "Correlation passes that failed for reasons other than timeout",
		},
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchtower_correlation_rules_loaded",
			Help: "Number of enabled correlation rules in the engine cache",
		},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity"},
	)

	AlertEvidenceMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_alert_evidence_merged_total",
			Help: "Events merged into an existing live alert instead of raising a new one",
		},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_alert_transitions_total",
			Help: "Alert status transitions",
		},
		[]string{"to"},
	)

	IncidentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_incident_transitions_total",
			Help: "Incident status transitions",
		},
		[]string{"to"},
	)

	RegexTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_regex_timeouts_total",
			Help: "Rule field pattern evaluations that hit the match timeout",
		},
	)

	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_ingest_messages_total",
			Help: "Messages received by ingestion transports",
		},
		[]string{"source", "result"},
	)

	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_notifications_dropped_total",
			Help: "Lifecycle notifications a sink failed to deliver",
		},
		[]string{"sink"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "code"},
	)
)
