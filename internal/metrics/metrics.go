// Package metrics exposes Prometheus collectors for the progress watcher.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	channelConnectsTotal       prometheus.Counter
	channelReconnectsTotal     prometheus.Counter
	channelMessagesTotal       *prometheus.CounterVec
	channelState               *prometheus.GaugeVec
	snapshotFetchesTotal       *prometheus.CounterVec
	snapshotFetchSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		channelConnectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_channel_connects_total",
				Help: "Total number of successful event channel connections.",
			},
		)

		channelReconnectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "progress_channel_reconnects_scheduled_total",
				Help: "Total number of reconnect attempts scheduled after a close or failed dial.",
			},
		)

		channelMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_channel_messages_total",
				Help: "Event channel messages, labeled by result (delivered or dropped).",
			},
			[]string{"result"},
		)

		channelState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "progress_channel_state",
				Help: "1 for the event channel's current state, 0 for every other state.",
			},
			[]string{"state"},
		)

		snapshotFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "progress_snapshot_fetches_total",
				Help: "Snapshot fetches, labeled by host and result.",
			},
			[]string{"host", "result"},
		)

		snapshotFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "progress_snapshot_fetch_duration_seconds",
				Help:    "Histogram of snapshot fetch latencies, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") && !strings.HasPrefix(rawURL, "ws") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveChannelConnect counts a successful channel connection.
func ObserveChannelConnect() {
	Init()
	channelConnectsTotal.Inc()
}

// ObserveChannelReconnect counts a scheduled reconnect.
func ObserveChannelReconnect() {
	Init()
	channelReconnectsTotal.Inc()
}

// ObserveChannelMessage counts a channel message by result.
func ObserveChannelMessage(result string) {
	Init()
	channelMessagesTotal.WithLabelValues(result).Inc()
}

// SetChannelState marks state as the channel's current state.
func SetChannelState(state string, all []string) {
	Init()
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		channelState.WithLabelValues(s).Set(v)
	}
}

// ObserveSnapshotFetch records one snapshot fetch against the backend at baseURL.
func ObserveSnapshotFetch(baseURL string, err error, duration time.Duration) {
	Init()
	host := SanitizeHost(baseURL)
	result := "success"
	if err != nil {
		result = "error"
	}
	snapshotFetchesTotal.WithLabelValues(host, result).Inc()
	snapshotFetchSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
