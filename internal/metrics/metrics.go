// Package metrics provides Prometheus instrumentation for marketsync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesTotal counts firehose frames received, partitioned by
	// classification outcome (commodity, power, unknown).
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_frames_total",
		Help: "Firehose frames received by classification",
	}, []string{"kind"})

	// FramesSkipped counts frames dropped without effect, partitioned by
	// reason (decode, carrier, unknown_station, ambiguous_power).
	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_frames_skipped_total",
		Help: "Frames dropped without persisted effect",
	}, []string{"reason"})

	// FlushDuration tracks flush latency per buffer.
	FlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketsync_flush_duration_seconds",
		Help:    "Flush duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"buffer"})

	// FlushFailures counts flushes rolled back, per buffer.
	FlushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_flush_failures_total",
		Help: "Flushes rolled back due to persistence errors",
	}, []string{"buffer"})

	// StationsUpdated counts stations whose rows were replaced by a flush.
	StationsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsync_stations_updated_total",
		Help: "Stations whose commodity rows were replaced",
	})

	// CommoditiesWritten counts commodity rows written by flushes.
	CommoditiesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsync_commodities_written_total",
		Help: "Commodity rows written to the store",
	})

	// PowersChanged counts systems whose controlling power changed.
	PowersChanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsync_powers_changed_total",
		Help: "Systems whose controlling power or state was updated",
	})

	// ImportProgress reports batch importer progress.
	ImportProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsync_import_processed_entries",
		Help: "Entries processed by the current batch import run",
	})

	// ImportTotal reports the entry count of the current import source.
	ImportTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsync_import_total_entries",
		Help: "Total entries in the current batch import source",
	})

	// BridgeClients tracks connected WebSocket bridge sessions.
	BridgeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsync_bridge_clients",
		Help: "Connected WebSocket status sessions",
	})

	// StatusAge reports seconds since a worker last received a status
	// message; climbs toward the staleness threshold when the daemon is
	// silent.
	StatusAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marketsync_status_age_seconds",
		Help: "Seconds since the last status message was received",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
