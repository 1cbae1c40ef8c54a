package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeadLetterStatus tracks administrative resolution of a dead-lettered reminder.
type DeadLetterStatus string

const (
	DeadLetterStatusOpen      DeadLetterStatus = "OPEN"
	DeadLetterStatusReplayed  DeadLetterStatus = "REPLAYED"
	DeadLetterStatusDiscarded DeadLetterStatus = "DISCARDED"
)

func (s DeadLetterStatus) String() string { return string(s) }

func (s DeadLetterStatus) IsValid() bool {
	switch s {
	case DeadLetterStatusOpen, DeadLetterStatusReplayed, DeadLetterStatusDiscarded:
		return true
	}
	return false
}

func ParseDeadLetterStatusFromString(s string) (DeadLetterStatus, error) {
	st := DeadLetterStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid dead letter status %q", ErrValidation, s)
	}
	return st, nil
}

// DeadLetterEntry is a reminder task that exhausted its retry budget, kept with its attempt history.
type DeadLetterEntry struct {
	ID            string
	TaskID        string
	EventID       string
	OffsetMinutes int
	Cycle         int
	TotalAttempts int
	LastOutcome   Outcome
	LastError     *string
	Attempts      []DeliveryAttempt
	Status        DeadLetterStatus
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
