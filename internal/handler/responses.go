package handler

import (
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
)

type attemptResponse struct {
	ID            string    `json:"id"`
	Cycle         int       `json:"cycle"`
	AttemptNumber int       `json:"attemptNumber"`
	Outcome       string    `json:"outcome"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type taskResponse struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	OffsetMinutes int        `json:"offsetMinutes"`
	FireTime      time.Time  `json:"fireTime"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attemptCount"`
	Cycle         int        `json:"cycle"`
	Published     bool       `json:"published"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func toAttemptResponses(attempts []domain.DeliveryAttempt) []attemptResponse {
	responses := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		responses = append(responses, attemptResponse{
			ID:            a.ID,
			Cycle:         a.Cycle,
			AttemptNumber: a.AttemptNumber,
			Outcome:       a.Outcome.String(),
			StatusCode:    a.StatusCode,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
		})
	}
	return responses
}

func toTaskResponse(t *domain.ReminderTask) taskResponse {
	if t == nil {
		return taskResponse{}
	}

	return taskResponse{
		ID:            t.ID,
		EventID:       t.EventID,
		OffsetMinutes: t.OffsetMinutes,
		FireTime:      t.FireTime,
		Status:        t.Status.String(),
		AttemptCount:  t.AttemptCount,
		Cycle:         t.Cycle,
		Published:     t.Published,
		NextAttemptAt: t.NextAttemptAt,
		LastError:     t.LastError,
	}
}
