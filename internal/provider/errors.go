package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"go.uber.org/multierr"
)

// Discord JSON error codes that are never worth retrying.
const (
	discordCodeUnknownChannel    = 10003
	discordCodeUnknownUser       = 10013
	discordCodeCannotMessageUser = 50007
)

// ProviderError classifies provider call failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	Code       int
	Recipient  string
	Message    string
	Transient  bool
	// RetryAfter and Global are set from a 429 response.
	RetryAfter time.Duration
	Global     bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "provider error")

	if e.Recipient != "" {
		parts = append(parts, e.Recipient)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried. An aggregate of per-recipient
// errors is transient when any of its parts is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if parts := multierr.Errors(err); len(parts) > 1 {
		for _, part := range parts {
			if IsTransient(part) {
				return true
			}
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// Classify maps a Send result to a delivery outcome.
func Classify(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeSuccess
	case IsTransient(err):
		return domain.OutcomeTransientFailure
	default:
		return domain.OutcomePermanentFailure
	}
}

// StatusCode returns the HTTP status of the first provider error carrying one.
func StatusCode(err error) int {
	for _, part := range multierr.Errors(err) {
		var providerErr *ProviderError
		if errors.As(part, &providerErr) && providerErr.StatusCode > 0 {
			return providerErr.StatusCode
		}
	}
	return 0
}

// RetryAfter returns the longest wait Discord asked for across the parts of err and whether
// any of those limits was the bot-wide global limit.
func RetryAfter(err error) (time.Duration, bool) {
	var wait time.Duration
	global := false
	for _, part := range multierr.Errors(err) {
		var providerErr *ProviderError
		if !errors.As(part, &providerErr) || providerErr.RetryAfter <= 0 {
			continue
		}
		if providerErr.RetryAfter > wait {
			wait = providerErr.RetryAfter
		}
		global = global || providerErr.Global
	}
	return wait, global
}

func isPermanentDiscordCode(code int) bool {
	switch code {
	case discordCodeUnknownChannel, discordCodeUnknownUser, discordCodeCannotMessageUser:
		return true
	default:
		return false
	}
}
