package domain

import "time"

// Outcome classifies a single delivery attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeTransientFailure Outcome = "TRANSIENT_FAILURE"
	OutcomePermanentFailure Outcome = "PERMANENT_FAILURE"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeTransientFailure, OutcomePermanentFailure:
		return true
	}
	return false
}

// DeliveryAttempt records a single execution of a reminder task. Never mutated once written.
type DeliveryAttempt struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"taskId"`
	Cycle         int       `json:"cycle"`
	AttemptNumber int       `json:"attemptNumber"`
	Outcome       Outcome   `json:"outcome"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
