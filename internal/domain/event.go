package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EventStatus represents the lifecycle state of a scheduled game session.
type EventStatus string

const (
	EventStatusScheduled EventStatus = "SCHEDULED"
	EventStatusCancelled EventStatus = "CANCELLED"
	EventStatusCompleted EventStatus = "COMPLETED"
)

func (s EventStatus) String() string { return string(s) }

func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusScheduled, EventStatusCancelled, EventStatusCompleted:
		return true
	}
	return false
}

func ParseEventStatusFromString(s string) (EventStatus, error) {
	st := EventStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid event status %q", ErrValidation, s)
	}
	return st, nil
}

// RecipientKind tags where a reminder is posted.
type RecipientKind string

const (
	RecipientDM      RecipientKind = "DM"
	RecipientChannel RecipientKind = "CHANNEL"
)

func (k RecipientKind) String() string { return string(k) }

func (k RecipientKind) IsValid() bool {
	switch k {
	case RecipientDM, RecipientChannel:
		return true
	}
	return false
}

func ParseRecipientKindFromString(s string) (RecipientKind, error) {
	k := RecipientKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, s)
	}
	return k, nil
}

// Recipient is a Discord user (DM) or channel snowflake.
type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   string        `json:"id"`
}

func (r Recipient) String() string {
	return strings.ToLower(r.Kind.String()) + ":" + r.ID
}

// Offset bounds in minutes before start.
const (
	MinOffsetMinutes = 1
	MaxOffsetMinutes = 7 * 24 * 60
	MaxTitleLength   = 200
)

// ScheduledEvent is a game session mirrored from the scheduling CRUD layer.
type ScheduledEvent struct {
	ID         string
	GuildID    string
	Title      string
	StartTime  time.Time
	Status     EventStatus
	Recipients []Recipient
	Offsets    []int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FireTime returns the UTC instant the reminder for offset should go out.
func (e *ScheduledEvent) FireTime(offsetMinutes int) time.Time {
	return e.StartTime.UTC().Add(-time.Duration(offsetMinutes) * time.Minute)
}

func (e *ScheduledEvent) IsCancelled() bool {
	return e.Status == EventStatusCancelled
}

// NormalizeOffsets sorts offsets descending (earliest reminder first) and drops duplicates.
func NormalizeOffsets(offsets []int) []int {
	out := slices.Clone(offsets)
	slices.Sort(out)
	out = slices.Compact(out)
	slices.Reverse(out)
	return out
}

func (e *ScheduledEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: event id is required", ErrValidation)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len([]rune(e.Title)) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("%w: startTime is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid event status %q", ErrValidation, e.Status)
	}
	if len(e.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	for _, r := range e.Recipients {
		if !r.Kind.IsValid() {
			return fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, r.Kind)
		}
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%w: recipient id is required", ErrValidation)
		}
	}
	for _, offset := range e.Offsets {
		if offset < MinOffsetMinutes || offset > MaxOffsetMinutes {
			return fmt.Errorf("%w: offset %d must be between %d and %d minutes", ErrValidation, offset, MinOffsetMinutes, MaxOffsetMinutes)
		}
	}
	return nil
}

// DueReminder is one (event, offset) pair whose fire time falls in a scan window.
type DueReminder struct {
	Event         ScheduledEvent
	OffsetMinutes int
	FireAt        time.Time
}
