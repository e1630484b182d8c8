// Package metrics exposes Prometheus collectors for the crawl recorder.
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

// Crawl outcomes used as the "outcome" label.
const (
	OutcomeSuccess            = "success"
	OutcomeScrapeFailure      = "scrape_failure"
	OutcomePersistenceFailure = "persistence_failure"
	OutcomeInvalid            = "invalid"
)

var (
	crawlAttemptsTotal         *prometheus.CounterVec
	crawlLoadTimeSeconds       *prometheus.HistogramVec
	notificationsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	scraperRobotsFallbackTotal prometheus.Counter
	exportRecordsTotal         prometheus.Counter
	streamClients              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_attempts_total",
				Help: "Total number of crawl attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlLoadTimeSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_load_time_seconds",
				Help:    "Duration of the external scrape call, labeled by outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_notifications_total",
				Help: "Crawl notifications by topic and result (published, dropped, failed).",
			},
			[]string{"topic", "result"},
		)

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

		scraperRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_robots_fallback_total",
				Help: "Total robots.txt fetches that fell back to allow-all after TLS handshake timeouts.",
			},
		)

		exportRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "export_records_total",
				Help: "Total number of crawl records written by exports.",
			},
		)

		streamClients = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notification_stream_clients",
				Help: "Number of clients connected to the notification event stream.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
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

// ObserveCrawl records one crawl attempt. loadTime is ignored when negative,
// which is how callers mark attempts that never reached the scraper.
func ObserveCrawl(site, outcome string, loadTime time.Duration) {
	Init()
	crawlAttemptsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	if loadTime >= 0 {
		crawlLoadTimeSeconds.WithLabelValues(outcome).Observe(loadTime.Seconds())
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback increments the robots.txt fallback counter.
func ObserveRobotsFallback() {
	Init()
	scraperRobotsFallbackTotal.Inc()
}

// ObserveExport adds n exported records.
func ObserveExport(n int) {
	Init()
	exportRecordsTotal.Add(float64(n))
}

// IncStreamClients increments the event stream client gauge.
func IncStreamClients() {
	Init()
	streamClients.Inc()
}

// DecStreamClients decrements the event stream client gauge.
func DecStreamClients() {
	Init()
	streamClients.Dec()
}

// NotifyObserver counts notification outcomes. It satisfies notify.Observer.
type NotifyObserver struct{}

// NotificationPublished counts a delivered notification.
func (NotifyObserver) NotificationPublished(topic string) {
	Init()
	notificationsTotal.WithLabelValues(topic, "published").Inc()
}

// NotificationDropped counts a notification dropped under backpressure.
func (NotifyObserver) NotificationDropped(topic string) {
	Init()
	notificationsTotal.WithLabelValues(topic, "dropped").Inc()
}

// NotificationFailed counts a notification the backend rejected.
func (NotifyObserver) NotificationFailed(topic string) {
	Init()
	notificationsTotal.WithLabelValues(topic, "failed").Inc()
}
