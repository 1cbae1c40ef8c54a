package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "game_scheduler"

// Enqueue sources.
const (
	SourceScheduler   = "scheduler"
	SourceRepublisher = "republisher"
	SourceReplay      = "replay"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
	remindersEnqueuedTotal     *prometheus.CounterVec
	publishFailuresTotal       *prometheus.CounterVec
	deliveryAttemptsTotal      *prometheus.CounterVec
	remindersDeliveredTotal    prometheus.Counter
	remindersDeadLetteredTotal *prometheus.CounterVec
	remindersCancelledTotal    *prometheus.CounterVec
	retryScheduledTotal        prometheus.Counter
	leasesReclaimedTotal       prometheus.Counter
	deadLettersResolvedTotal   *prometheus.CounterVec
	sendDuration               prometheus.Histogram
	workerInflight             prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		remindersEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_enqueued_total",
				Help:      "Reminder messages published to the work queue by source.",
			},
			[]string{"source"},
		),
		publishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Failed queue publishes by source. The task stays unpublished for the republisher.",
			},
			[]string{"source"},
		),
		deliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_attempts_total",
				Help:      "Delivery attempts by outcome.",
			},
			[]string{"outcome"},
		),
		remindersDeliveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_delivered_total",
				Help:      "Reminder tasks that reached DELIVERED.",
			},
		),
		remindersDeadLetteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_dead_lettered_total",
				Help:      "Reminder tasks moved to DEAD_LETTERED by last outcome.",
			},
			[]string{"outcome"},
		),
		remindersCancelledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_cancelled_total",
				Help:      "Reminder tasks cancelled, by the stage that observed the cancellation.",
			},
			[]string{"stage"},
		),
		retryScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_scheduled_total",
				Help:      "Transient failures scheduled for another attempt.",
			},
		),
		leasesReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leases_reclaimed_total",
				Help:      "IN_FLIGHT tasks returned to PENDING after their lease expired.",
			},
		),
		deadLettersResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_resolved_total",
				Help:      "Dead letter entries resolved by action.",
			},
			[]string{"action"},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discord_send_duration_seconds",
				Help:      "Notifier send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight",
				Help:      "Current number of deliveries being processed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.remindersEnqueuedTotal,
		m.publishFailuresTotal,
		m.deliveryAttemptsTotal,
		m.remindersDeliveredTotal,
		m.remindersDeadLetteredTotal,
		m.remindersCancelledTotal,
		m.retryScheduledTotal,
		m.leasesReclaimedTotal,
		m.deadLettersResolvedTotal,
		m.sendDuration,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEnqueued(source string) {
	if m == nil {
		return
	}
	m.remindersEnqueuedTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncPublishFailed(source string) {
	if m == nil {
		return
	}
	m.publishFailuresTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncAttempt(outcome string) {
	if m == nil {
		return
	}
	m.deliveryAttemptsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncDelivered() {
	if m == nil {
		return
	}
	m.remindersDeliveredTotal.Inc()
}

func (m *Metrics) IncDeadLettered(outcome string) {
	if m == nil {
		return
	}
	m.remindersDeadLetteredTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddCancelled(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.remindersCancelledTotal.WithLabelValues(normalizeLabel(stage)).Add(float64(n))
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retryScheduledTotal.Inc()
}

func (m *Metrics) AddLeasesReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.leasesReclaimedTotal.Add(float64(n))
}

func (m *Metrics) IncDeadLetterResolved(action string) {
	if m == nil {
		return
	}
	m.deadLettersResolvedTotal.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) ObserveSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.sendDuration.Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
