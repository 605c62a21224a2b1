// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. Each Metrics instance carries its
// own registry so tests can construct them independently.
type Metrics struct {
	registry *prometheus.Registry

	RelayRequests    *prometheus.CounterVec
	RelayBytes       prometheus.Counter
	RelayTruncations prometheus.Counter
	PlaylistRewrites prometheus.Counter
	PlaylistLines    prometheus.Counter
	Resolutions      *prometheus.CounterVec
	ResolveDuration  prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RelayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunegate_relay_requests_total",
				Help: "Relay requests by outcome",
			},
			[]string{"outcome"}, // ok, client_gone, bad_request, upstream_status, timeout, connect, error
		),
		RelayBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "tunegate_relay_bytes_total",
			Help: "Bytes streamed to clients through the relay",
		}),
		RelayTruncations: factory.NewCounter(prometheus.CounterOpts{
			Name: "tunegate_relay_truncations_total",
			Help: "Relays that ended early on an upstream read failure",
		}),
		PlaylistRewrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "tunegate_playlist_rewrites_total",
			Help: "Playlist manifests rewritten",
		}),
		PlaylistLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "tunegate_playlist_lines_total",
			Help: "Manifest reference lines wrapped as proxy URLs",
		}),
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunegate_resolutions_total",
				Help: "Resolution requests by outcome",
			},
			[]string{"outcome"}, // ok, no_stream, error, rate_limited
		),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunegate_resolve_duration_seconds",
			Help:    "Duration of resolution façade calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
}

// Handler returns the exposition endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
