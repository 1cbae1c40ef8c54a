package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/gamescheduler/reminder-pipeline/internal/service"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type DeadLetterService interface {
	List(ctx context.Context, filter service.DeadLetterFilter) (*service.DeadLetterPage, error)
	Get(ctx context.Context, id string) (*domain.DeadLetterEntry, error)
	Replay(ctx context.Context, id string) (*domain.ReminderTask, error)
	Discard(ctx context.Context, id string) error
}

type DeadLetterHandler struct {
	service DeadLetterService
}

func NewDeadLetterHandler(service DeadLetterService) (*DeadLetterHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dead letter service is required")
	}
	return &DeadLetterHandler{service: service}, nil
}

func RegisterDeadLetterRoutes(router fiber.Router, service DeadLetterService) error {
	h, err := NewDeadLetterHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/dead-letters", h.ListDeadLetters)
	v1.Get("/dead-letters/:id", h.GetDeadLetter)
	v1.Post("/dead-letters/:id/replay", h.ReplayDeadLetter)
	v1.Post("/dead-letters/:id/discard", h.DiscardDeadLetter)

	return nil
}

type deadLetterResponse struct {
	ID            string            `json:"id"`
	TaskID        string            `json:"taskId"`
	EventID       string            `json:"eventId"`
	OffsetMinutes int               `json:"offsetMinutes"`
	Cycle         int               `json:"cycle"`
	TotalAttempts int               `json:"totalAttempts"`
	LastOutcome   string            `json:"lastOutcome"`
	LastError     *string           `json:"lastError,omitempty"`
	Status        string            `json:"status"`
	Attempts      []attemptResponse `json:"attempts"`
	CreatedAt     time.Time         `json:"createdAt"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
}

type listDeadLettersResponse struct {
	Data []deadLetterResponse `json:"data"`
	Meta listMeta             `json:"meta"`
}

func (h *DeadLetterHandler) ListDeadLetters(c *fiber.Ctx) error {
	filter, err := parseDeadLetterFilter(c)
	if err != nil {
		return toHTTPError(err)
	}

	page, err := h.service.List(c.Context(), filter)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deadLetterResponse, 0, len(page.Entries))
	for i := range page.Entries {
		data = append(data, toDeadLetterResponse(&page.Entries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listDeadLettersResponse{
		Data: data,
		Meta: listMeta{
			Page:     page.Page,
			PageSize: page.PageSize,
			Total:    page.Total,
		},
	})
}

func (h *DeadLetterHandler) GetDeadLetter(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	entry, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeadLetterResponse(entry))
}

func (h *DeadLetterHandler) ReplayDeadLetter(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	task, err := h.service.Replay(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"deadLetterId": id,
		"status":       domain.DeadLetterStatusReplayed.String(),
		"task":         toTaskResponse(task),
	})
}

func (h *DeadLetterHandler) DiscardDeadLetter(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Discard(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deadLetterId": id,
		"status":       domain.DeadLetterStatusDiscarded.String(),
	})
}

func parseDeadLetterFilter(c *fiber.Ctx) (service.DeadLetterFilter, error) {
	filter := service.DeadLetterFilter{
		EventID:  strings.TrimSpace(c.Query("eventId")),
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if filter.Page < 1 {
		return service.DeadLetterFilter{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if filter.PageSize < 1 || filter.PageSize > maxPageSize {
		return service.DeadLetterFilter{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseDeadLetterStatusFromString(rawStatus)
		if err != nil {
			return service.DeadLetterFilter{}, err
		}
		filter.Status = &status
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return service.DeadLetterFilter{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return service.DeadLetterFilter{}, err
	}
	filter.From = from
	filter.To = to

	return filter, nil
}

func toDeadLetterResponse(e *domain.DeadLetterEntry) deadLetterResponse {
	if e == nil {
		return deadLetterResponse{}
	}

	return deadLetterResponse{
		ID:            e.ID,
		TaskID:        e.TaskID,
		EventID:       e.EventID,
		OffsetMinutes: e.OffsetMinutes,
		Cycle:         e.Cycle,
		TotalAttempts: e.TotalAttempts,
		LastOutcome:   e.LastOutcome.String(),
		LastError:     e.LastError,
		Status:        e.Status.String(),
		Attempts:      toAttemptResponses(e.Attempts),
		CreatedAt:     e.CreatedAt,
		ResolvedAt:    e.ResolvedAt,
	}
}
