// Package metrics exposes Prometheus instrumentation for the stream engine:
// bytes transferred, buffer occupancy, pause events, PMT rewrites and
// restarts. An upstream HTTP status counter is also registered; no code in
// this module increments it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dvrstreamd"

var (
	// BytesTransferred counts bytes accepted from the transfer driver into
	// the ring buffer, labeled by stream ID.
	BytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Bytes written into the ring buffer by the transfer driver",
		},
		[]string{"stream_id"},
	)

	// BufferOccupancy reports the ring buffer's resident byte count.
	BufferOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_occupancy_bytes",
			Help:      "Bytes currently resident in the ring buffer",
		},
		[]string{"stream_id"},
	)

	// PauseEvents counts how many times the transfer driver's producer
	// blocked on the unbuffered chunk channel because the buffer was full.
	PauseEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pause_events_total",
			Help:      "Times the transfer driver paused because the ring buffer had no writable gap",
		},
		[]string{"stream_id"},
	)

	// PMTRewrites counts SCTE-splice PMT rewrites performed by the TS filter.
	PMTRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pmt_rewrites_total",
			Help:      "PMT payloads rewritten to strip an SCTE splice table",
		},
		[]string{"stream_id"},
	)

	// Restarts counts byte-range restarts issued after an out-of-window seek.
	Restarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Byte-range restarts issued by the transfer driver",
		},
		[]string{"stream_id"},
	)

	// HTTPStatus is a counter of upstream HTTP status codes by stream and
	// status. It is registered but the Sampler does not update it, and no
	// other code increments it.
	HTTPStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_http_status_total",
			Help:      "Upstream HTTP status codes observed on connect/restart",
		},
		[]string{"stream_id", "status"},
	)
)

// Handler returns the Prometheus exposition HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
