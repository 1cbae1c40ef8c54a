package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the delivery state of a reminder task.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "PENDING"
	TaskStatusInFlight     TaskStatus = "IN_FLIGHT"
	TaskStatusDelivered    TaskStatus = "DELIVERED"
	TaskStatusDeadLettered TaskStatus = "DEAD_LETTERED"
	TaskStatusCancelled    TaskStatus = "CANCELLED"
)

func (s TaskStatus) String() string { return string(s) }

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInFlight, TaskStatusDelivered, TaskStatusDeadLettered, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no automatic component may move the task out of s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusDelivered, TaskStatusDeadLettered, TaskStatusCancelled:
		return true
	}
	return false
}

func ParseTaskStatusFromString(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid task status %q", ErrValidation, s)
	}
	return st, nil
}

// ReminderTask is one (event, offset) reminder scheduled for delivery.
type ReminderTask struct {
	ID            string
	EventID       string
	OffsetMinutes int
	FireTime      time.Time
	// AttemptCount is the number of attempts started in the current cycle. A claim starts
	// one, so on a claimed snapshot it is the number of the attempt in progress.
	AttemptCount  int
	Cycle         int
	Status        TaskStatus
	Published     bool
	NextAttemptAt *time.Time
	// LeaseID identifies the current IN_FLIGHT claim. Transitions out of IN_FLIGHT must
	// present it, so a worker whose lease was reclaimed cannot touch the new owner's claim.
	LeaseID        *string
	LeaseExpiresAt *time.Time
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Lease returns the claim token of an IN_FLIGHT snapshot, or "" when unclaimed.
func (t *ReminderTask) Lease() string {
	if t == nil || t.LeaseID == nil {
		return ""
	}
	return *t.LeaseID
}
