package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
)

// ReminderMessage is the broker payload for one delivery attempt of a reminder task.
// It is only a hint: the task row is the source of truth.
type ReminderMessage struct {
	TaskID        string    `json:"taskId"`
	EventID       string    `json:"eventId"`
	OffsetMinutes int       `json:"offsetMinutes"`
	FireTime      time.Time `json:"fireTime"`
}

// NewReminderMessage builds the queue payload for a task.
func NewReminderMessage(t *domain.ReminderTask) ReminderMessage {
	return ReminderMessage{
		TaskID:        t.ID,
		EventID:       t.EventID,
		OffsetMinutes: t.OffsetMinutes,
		FireTime:      t.FireTime.UTC(),
	}
}

func (m ReminderMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return fmt.Errorf("taskId is required")
	}
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if m.OffsetMinutes < domain.MinOffsetMinutes || m.OffsetMinutes > domain.MaxOffsetMinutes {
		return fmt.Errorf("offsetMinutes %d out of range", m.OffsetMinutes)
	}
	if m.FireTime.IsZero() {
		return fmt.Errorf("fireTime is required")
	}
	return nil
}
