package provider

import (
	"context"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
)

// MaxContentLength is Discord's message content limit in characters.
const MaxContentLength = 2000

// Notifier is the outbound reminder delivery port. Recipients are resolved to concrete
// Discord destinations inside the implementation.
type Notifier interface {
	Send(ctx context.Context, recipients []domain.Recipient, payload Payload) (*ProviderResponse, error)
}

// Payload is the rendered reminder message.
type Payload struct {
	Content string
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	MessageIDs []string
}
