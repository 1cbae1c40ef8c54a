package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/service"
	"github.com/gofiber/fiber/v2"
)

type stubDeadLetterService struct {
	listFn    func(ctx context.Context, filter service.DeadLetterFilter) (*service.DeadLetterPage, error)
	getFn     func(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	replayFn  func(ctx context.Context, id string) (*domain.ReminderTask, error)
	discardFn func(ctx context.Context, id string) error
}

func (s *stubDeadLetterService) List(ctx context.Context, filter service.DeadLetterFilter) (*service.DeadLetterPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return &service.DeadLetterPage{Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *stubDeadLetterService) Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubDeadLetterService) Replay(ctx context.Context, id string) (*domain.ReminderTask, error) {
	if s.replayFn != nil {
		return s.replayFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubDeadLetterService) Discard(ctx context.Context, id string) error {
	if s.discardFn != nil {
		return s.discardFn(ctx, id)
	}
	return nil
}

func newDeadLetterTestApp(t *testing.T, svc DeadLetterService) *fiber.App {
	t.Helper()
	return newTestApp(t, func(app *fiber.App) error {
		return RegisterDeadLetterRoutes(app, svc)
	})
}

func TestDeadLetterHandlerList(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	var got service.DeadLetterFilter
	svc := &stubDeadLetterService{
		listFn: func(ctx context.Context, filter service.DeadLetterFilter) (*service.DeadLetterPage, error) {
			got = filter
			lastErr := "provider error: status=503"
			return &service.DeadLetterPage{
				Entries: []domain.DeadLetterEntry{{
					ID:            "dl1",
					TaskID:        "t1",
					EventID:       "e1",
					OffsetMinutes: 15,
					Cycle:         1,
					TotalAttempts: 5,
					LastOutcome:   domain.OutcomeTransientFailure,
					LastError:     &lastErr,
					Status:        domain.DeadLetterStatusOpen,
					Attempts:      []domain.DeliveryAttempt{{ID: "a1", AttemptNumber: 1, Outcome: domain.OutcomeTransientFailure}},
					CreatedAt:     created,
				}},
				Total:    1,
				Page:     filter.Page,
				PageSize: filter.PageSize,
			}, nil
		},
	}
	app := newDeadLetterTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet,
		"/v1/dead-letters?status=open&eventId=e1&from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z&page=2&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	if got.Status == nil || *got.Status != domain.DeadLetterStatusOpen {
		t.Fatalf("status filter = %v, want OPEN", got.Status)
	}
	if got.EventID != "e1" || got.Page != 2 || got.PageSize != 10 {
		t.Fatalf("filter = %+v", got)
	}
	if got.From == nil || got.To == nil || got.To.Sub(*got.From) != 24*time.Hour {
		t.Fatalf("range = %v..%v", got.From, got.To)
	}

	var parsed listDeadLettersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Meta.Total != 1 || parsed.Meta.Page != 2 || len(parsed.Data) != 1 {
		t.Fatalf("response = %+v", parsed)
	}
	entry := parsed.Data[0]
	if entry.TotalAttempts != 5 || entry.LastOutcome != "TRANSIENT_FAILURE" || len(entry.Attempts) != 1 {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestDeadLetterHandlerListRejectsBadQuery(t *testing.T) {
	t.Parallel()

	app := newDeadLetterTestApp(t, &stubDeadLetterService{})

	for _, query := range []string{
		"status=lost",
		"page=0",
		"pageSize=101",
		"from=yesterday",
	} {
		resp, body := performRequest(t, app, http.MethodGet, "/v1/dead-letters?"+query, "")
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400, body=%s", query, resp.StatusCode, body)
		}
	}
}

func TestDeadLetterHandlerErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		path       string
		svc        *stubDeadLetterService
		wantStatus int
	}{
		{
			name:       "get missing",
			method:     http.MethodGet,
			path:       "/v1/dead-letters/missing",
			svc:        &stubDeadLetterService{},
			wantStatus: fiber.StatusNotFound,
		},
		{
			name:   "get found",
			method: http.MethodGet,
			path:   "/v1/dead-letters/dl1",
			svc: &stubDeadLetterService{getFn: func(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
				return &domain.DeadLetterEntry{ID: id, Status: domain.DeadLetterStatusOpen}, nil
			}},
			wantStatus: fiber.StatusOK,
		},
		{
			name:   "replay resolved entry",
			method: http.MethodPost,
			path:   "/v1/dead-letters/dl1/replay",
			svc: &stubDeadLetterService{replayFn: func(ctx context.Context, id string) (*domain.ReminderTask, error) {
				return nil, fmt.Errorf("%w: dead letter %s is REPLAYED", domain.ErrConflict, id)
			}},
			wantStatus: fiber.StatusConflict,
		},
		{
			name:   "replay open entry",
			method: http.MethodPost,
			path:   "/v1/dead-letters/dl1/replay",
			svc: &stubDeadLetterService{replayFn: func(ctx context.Context, id string) (*domain.ReminderTask, error) {
				return &domain.ReminderTask{ID: "t1", Status: domain.TaskStatusPending, Cycle: 2}, nil
			}},
			wantStatus: fiber.StatusAccepted,
		},
		{
			name:   "discard replayed entry",
			method: http.MethodPost,
			path:   "/v1/dead-letters/dl1/discard",
			svc: &stubDeadLetterService{discardFn: func(ctx context.Context, id string) error {
				return domain.ErrConflict
			}},
			wantStatus: fiber.StatusConflict,
		},
		{
			name:       "discard open entry",
			method:     http.MethodPost,
			path:       "/v1/dead-letters/dl1/discard",
			svc:        &stubDeadLetterService{},
			wantStatus: fiber.StatusOK,
		},
		{
			name:   "infrastructure failure",
			method: http.MethodPost,
			path:   "/v1/dead-letters/dl1/discard",
			svc: &stubDeadLetterService{discardFn: func(ctx context.Context, id string) error {
				return errors.New("db down")
			}},
			wantStatus: fiber.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newDeadLetterTestApp(t, tt.svc)
			resp, body := performRequest(t, app, tt.method, tt.path, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestNewDeadLetterHandlerRequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewDeadLetterHandler(nil); err == nil {
		t.Fatal("NewDeadLetterHandler(nil) should fail")
	}
}
