package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsWorkerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncEnqueued(SourceScheduler)
	metrics.IncEnqueued("Scheduler")
	metrics.IncPublishFailed(SourceRepublisher)
	metrics.IncAttempt("TRANSIENT_FAILURE")
	metrics.IncDelivered()
	metrics.IncDeadLettered("PERMANENT_FAILURE")
	metrics.AddCancelled("event_cancel", 3)
	metrics.AddCancelled("pre_send", 0)
	metrics.IncRetryScheduled()
	metrics.AddLeasesReclaimed(2)
	metrics.IncDeadLetterResolved("replay")
	metrics.ObserveSendDuration(120 * time.Millisecond)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()

	if got := testutil.ToFloat64(metrics.remindersEnqueuedTotal.WithLabelValues("scheduler")); got != 2 {
		t.Fatalf("reminders_enqueued_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.publishFailuresTotal.WithLabelValues("republisher")); got != 1 {
		t.Fatalf("publish_failures_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryAttemptsTotal.WithLabelValues("transient_failure")); got != 1 {
		t.Fatalf("delivery_attempts_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.remindersDeliveredTotal); got != 1 {
		t.Fatalf("reminders_delivered_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.remindersDeadLetteredTotal.WithLabelValues("permanent_failure")); got != 1 {
		t.Fatalf("reminders_dead_lettered_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.remindersCancelledTotal.WithLabelValues("event_cancel")); got != 3 {
		t.Fatalf("reminders_cancelled_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.leasesReclaimedTotal); got != 2 {
		t.Fatalf("leases_reclaimed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.deadLettersResolvedTotal.WithLabelValues("replay")); got != 1 {
		t.Fatalf("dead_letters_resolved_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncEnqueued(SourceReplay)
	metrics.IncDelivered()
	metrics.AddLeasesReclaimed(1)
	metrics.ObserveSendDuration(time.Second)

	if metrics.Handler() == nil {
		t.Fatal("Handler() on nil metrics should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
