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

type EventService interface {
	Upsert(ctx context.Context, event *domain.ScheduledEvent) (*domain.ScheduledEvent, error)
	Cancel(ctx context.Context, id string) (int64, error)
	Reminders(ctx context.Context, id string) ([]service.ReminderStatus, error)
}

// EventHandler receives event changes pushed by the scheduling CRUD layer.
type EventHandler struct {
	service EventService
}

func NewEventHandler(service EventService) (*EventHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("event service is required")
	}
	return &EventHandler{service: service}, nil
}

func RegisterEventRoutes(router fiber.Router, service EventService) error {
	h, err := NewEventHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Put("/events/:id", h.UpsertEvent)
	v1.Post("/events/:id/cancel", h.CancelEvent)
	v1.Get("/events/:id/reminders", h.ListReminders)

	return nil
}

type recipientRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type upsertEventRequest struct {
	GuildID    string             `json:"guildId"`
	Title      string             `json:"title"`
	StartTime  string             `json:"startTime"`
	Status     string             `json:"status"`
	Recipients []recipientRequest `json:"recipients"`
	Offsets    []int              `json:"offsets"`
}

type eventResponse struct {
	ID         string             `json:"id"`
	GuildID    string             `json:"guildId"`
	Title      string             `json:"title"`
	StartTime  time.Time          `json:"startTime"`
	Status     string             `json:"status"`
	Recipients []domain.Recipient `json:"recipients"`
	Offsets    []int              `json:"offsets"`
}

type reminderResponse struct {
	taskResponse
	Attempts []attemptResponse `json:"attempts"`
}

func (h *EventHandler) UpsertEvent(c *fiber.Ctx) error {
	var req upsertEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event, err := requestToDomainEvent(strings.TrimSpace(c.Params("id")), req)
	if err != nil {
		return toHTTPError(err)
	}

	saved, err := h.service.Upsert(c.Context(), event)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(eventResponse{
		ID:         saved.ID,
		GuildID:    saved.GuildID,
		Title:      saved.Title,
		StartTime:  saved.StartTime,
		Status:     saved.Status.String(),
		Recipients: saved.Recipients,
		Offsets:    saved.Offsets,
	})
}

func (h *EventHandler) CancelEvent(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	cancelled, err := h.service.Cancel(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"eventId":            id,
		"status":             domain.EventStatusCancelled.String(),
		"remindersCancelled": cancelled,
	})
}

func (h *EventHandler) ListReminders(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	statuses, err := h.service.Reminders(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	reminders := make([]reminderResponse, 0, len(statuses))
	for i := range statuses {
		reminders = append(reminders, reminderResponse{
			taskResponse: toTaskResponse(&statuses[i].Task),
			Attempts:     toAttemptResponses(statuses[i].Attempts),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"eventId":   id,
		"reminders": reminders,
	})
}

func requestToDomainEvent(id string, req upsertEventRequest) (*domain.ScheduledEvent, error) {
	startTime, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		return nil, fmt.Errorf("%w: startTime must be RFC3339", domain.ErrValidation)
	}

	event := &domain.ScheduledEvent{
		ID:        id,
		GuildID:   strings.TrimSpace(req.GuildID),
		Title:     req.Title,
		StartTime: startTime,
		Offsets:   req.Offsets,
	}

	if rawStatus := strings.TrimSpace(req.Status); rawStatus != "" {
		status, err := domain.ParseEventStatusFromString(rawStatus)
		if err != nil {
			return nil, err
		}
		event.Status = status
	}

	event.Recipients = make([]domain.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		kind, err := domain.ParseRecipientKindFromString(r.Kind)
		if err != nil {
			return nil, err
		}
		event.Recipients = append(event.Recipients, domain.Recipient{Kind: kind, ID: strings.TrimSpace(r.ID)})
	}

	return event, nil
}
