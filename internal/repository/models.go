package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
)

// ScheduledEventModel is the persistence model for the scheduled_events table.
type ScheduledEventModel struct {
	ID         string             `gorm:"type:varchar(36);primaryKey"`
	GuildID    string             `gorm:"type:varchar(32);not null;default:''"`
	Title      string             `gorm:"type:varchar(200);not null"`
	StartTime  time.Time          `gorm:"not null"`
	Status     domain.EventStatus `gorm:"type:varchar(20);not null"`
	Recipients recipientList      `gorm:"type:text;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ScheduledEventModel) TableName() string {
	return "scheduled_events"
}

// EventReminderModel is one reminder offset of an event with its precomputed fire time.
type EventReminderModel struct {
	EventID       string    `gorm:"type:varchar(36);primaryKey"`
	OffsetMinutes int       `gorm:"primaryKey;autoIncrement:false"`
	FireAt        time.Time `gorm:"not null;index:idx_event_reminders_fire_at"`
}

func (EventReminderModel) TableName() string {
	return "event_reminders"
}

// ReminderTaskModel is the persistence model for reminder_tasks.
type ReminderTaskModel struct {
	ID             string            `gorm:"type:varchar(36);primaryKey"`
	EventID        string            `gorm:"type:varchar(36);not null;uniqueIndex:idx_reminder_tasks_event_offset"`
	OffsetMinutes  int               `gorm:"not null;uniqueIndex:idx_reminder_tasks_event_offset"`
	FireTime       time.Time         `gorm:"not null"`
	AttemptCount   int               `gorm:"not null;default:0"`
	Cycle          int               `gorm:"not null;default:1"`
	Status         domain.TaskStatus `gorm:"type:varchar(20);not null"`
	Published      bool              `gorm:"not null;default:false"`
	NextAttemptAt  *time.Time
	LeaseID        *string `gorm:"type:varchar(36)"`
	LeaseExpiresAt *time.Time
	LastError      *string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ReminderTaskModel) TableName() string {
	return "reminder_tasks"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID            string         `gorm:"type:varchar(36);primaryKey"`
	TaskID        string         `gorm:"type:varchar(36);not null"`
	Cycle         int            `gorm:"not null"`
	AttemptNumber int            `gorm:"not null"`
	Outcome       domain.Outcome `gorm:"type:varchar(20);not null"`
	StatusCode    *int
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// DeadLetterEntryModel is the persistence model for dead_letter_entries.
type DeadLetterEntryModel struct {
	ID            string                  `gorm:"type:varchar(36);primaryKey"`
	TaskID        string                  `gorm:"type:varchar(36);not null"`
	EventID       string                  `gorm:"type:varchar(36);not null"`
	OffsetMinutes int                     `gorm:"not null"`
	Cycle         int                     `gorm:"not null"`
	TotalAttempts int                     `gorm:"not null"`
	LastOutcome   domain.Outcome          `gorm:"type:varchar(20);not null"`
	LastError     *string                 `gorm:"type:text"`
	Attempts      attemptHistory          `gorm:"type:text;not null"`
	Status        domain.DeadLetterStatus `gorm:"type:varchar(20);not null"`
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

func (DeadLetterEntryModel) TableName() string {
	return "dead_letter_entries"
}

// recipientList stores tagged recipient targets as a JSON text column.
type recipientList []domain.Recipient

func (l recipientList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]domain.Recipient(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *recipientList) Scan(value any) error {
	return scanJSON(value, (*[]domain.Recipient)(l))
}

// attemptHistory stores the attempt log snapshot of a dead-lettered task.
type attemptHistory []domain.DeliveryAttempt

func (h attemptHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]domain.DeliveryAttempt(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *attemptHistory) Scan(value any) error {
	return scanJSON(value, (*[]domain.DeliveryAttempt)(h))
}

func scanJSON(value any, dst any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func eventModelFromDomain(e *domain.ScheduledEvent) *ScheduledEventModel {
	if e == nil {
		return nil
	}

	return &ScheduledEventModel{
		ID:         e.ID,
		GuildID:    e.GuildID,
		Title:      e.Title,
		StartTime:  e.StartTime.UTC(),
		Status:     e.Status,
		Recipients: recipientList(e.Recipients),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func eventModelToDomain(m *ScheduledEventModel, reminders []EventReminderModel) *domain.ScheduledEvent {
	if m == nil {
		return nil
	}

	offsets := make([]int, 0, len(reminders))
	for _, r := range reminders {
		offsets = append(offsets, r.OffsetMinutes)
	}

	return &domain.ScheduledEvent{
		ID:         m.ID,
		GuildID:    m.GuildID,
		Title:      m.Title,
		StartTime:  m.StartTime.UTC(),
		Status:     m.Status,
		Recipients: []domain.Recipient(m.Recipients),
		Offsets:    domain.NormalizeOffsets(offsets),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func taskModelFromDomain(t *domain.ReminderTask) *ReminderTaskModel {
	if t == nil {
		return nil
	}

	return &ReminderTaskModel{
		ID:             t.ID,
		EventID:        t.EventID,
		OffsetMinutes:  t.OffsetMinutes,
		FireTime:       t.FireTime.UTC(),
		AttemptCount:   t.AttemptCount,
		Cycle:          t.Cycle,
		Status:         t.Status,
		Published:      t.Published,
		NextAttemptAt:  t.NextAttemptAt,
		LeaseID:        t.LeaseID,
		LeaseExpiresAt: t.LeaseExpiresAt,
		LastError:      t.LastError,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func taskModelToDomain(m *ReminderTaskModel) *domain.ReminderTask {
	if m == nil {
		return nil
	}

	return &domain.ReminderTask{
		ID:             m.ID,
		EventID:        m.EventID,
		OffsetMinutes:  m.OffsetMinutes,
		FireTime:       m.FireTime.UTC(),
		AttemptCount:   m.AttemptCount,
		Cycle:          m.Cycle,
		Status:         m.Status,
		Published:      m.Published,
		NextAttemptAt:  m.NextAttemptAt,
		LeaseID:        m.LeaseID,
		LeaseExpiresAt: m.LeaseExpiresAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:            a.ID,
		TaskID:        a.TaskID,
		Cycle:         a.Cycle,
		AttemptNumber: a.AttemptNumber,
		Outcome:       a.Outcome,
		StatusCode:    a.StatusCode,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		TaskID:        m.TaskID,
		Cycle:         m.Cycle,
		AttemptNumber: m.AttemptNumber,
		Outcome:       m.Outcome,
		StatusCode:    m.StatusCode,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}

func deadLetterModelFromDomain(e *domain.DeadLetterEntry) *DeadLetterEntryModel {
	if e == nil {
		return nil
	}

	return &DeadLetterEntryModel{
		ID:            e.ID,
		TaskID:        e.TaskID,
		EventID:       e.EventID,
		OffsetMinutes: e.OffsetMinutes,
		Cycle:         e.Cycle,
		TotalAttempts: e.TotalAttempts,
		LastOutcome:   e.LastOutcome,
		LastError:     e.LastError,
		Attempts:      attemptHistory(e.Attempts),
		Status:        e.Status,
		CreatedAt:     e.CreatedAt,
		ResolvedAt:    e.ResolvedAt,
	}
}

func deadLetterModelToDomain(m *DeadLetterEntryModel) *domain.DeadLetterEntry {
	if m == nil {
		return nil
	}

	return &domain.DeadLetterEntry{
		ID:            m.ID,
		TaskID:        m.TaskID,
		EventID:       m.EventID,
		OffsetMinutes: m.OffsetMinutes,
		Cycle:         m.Cycle,
		TotalAttempts: m.TotalAttempts,
		LastOutcome:   m.LastOutcome,
		LastError:     m.LastError,
		Attempts:      []domain.DeliveryAttempt(m.Attempts),
		Status:        m.Status,
		CreatedAt:     m.CreatedAt,
		ResolvedAt:    m.ResolvedAt,
	}
}
