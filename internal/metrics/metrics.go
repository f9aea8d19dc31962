package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musicshare_sessions_active",
		Help: "Number of live sessions",
	})

	ListenersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "musicshare_listeners_active",
		Help: "Current active listener count per session",
	}, []string{"session_id"})

	SessionCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musicshare_session_created_total",
		Help: "Total sessions created",
	})

	SessionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musicshare_session_deleted_total",
		Help: "Total sessions deleted",
	})

	BroadcasterEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicshare_broadcaster_events_total",
		Help: "Broadcaster events emitted, by kind",
	}, []string{"event"})

	BroadcasterPagesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "musicshare_broadcaster_pages_written_total",
		Help: "Total Ogg pages written to shared tracks",
	})

	IngestTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musicshare_ingest_tasks_in_flight",
		Help: "Ingestion tasks currently holding a semaphore slot",
	})

	IngestTaskStateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicshare_ingest_task_state_total",
		Help: "Ingestion task state transitions, by state",
	}, []string{"state"})

	IngestTaskFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musicshare_ingest_task_failures_total",
		Help: "Ingestion task failures, by error kind",
	}, []string{"kind"})

	PeerConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musicshare_peer_connections_active",
		Help: "WebRTC peer connections currently marked active",
	})

	ICEGatheringDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "musicshare_ice_gathering_duration_ms",
		Help:    "Time from offer creation to ICE gathering completion",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000},
	})
)

func RecordSessionCreated() {
	SessionCreatedTotal.Inc()
	SessionsActive.Inc()
}

func RecordSessionDeleted() {
	SessionDeletedTotal.Inc()
	SessionsActive.Dec()
}

func RecordListenerCount(sessionID string, n int) {
	ListenersActive.WithLabelValues(sessionID).Set(float64(n))
}

func RecordBroadcasterEvent(event string) {
	BroadcasterEventsTotal.WithLabelValues(event).Inc()
}

func RecordIngestTaskState(state string) {
	IngestTaskStateTotal.WithLabelValues(state).Inc()
}

func RecordIngestTaskFailure(kind string) {
	IngestTaskFailuresTotal.WithLabelValues(kind).Inc()
}
