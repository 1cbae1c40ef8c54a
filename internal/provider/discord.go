package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gamescheduler/reminder-pipeline/internal/domain"
	"github.com/go-resty/resty/v2"
	"go.uber.org/multierr"
)

const defaultDiscordTimeout = 10 * time.Second

type createMessageRequest struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type createDMRequest struct {
	RecipientID string `json:"recipient_id"`
}

type discordObject struct {
	ID string `json:"id"`
}

type discordAPIError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// DiscordNotifier delivers reminders through the Discord REST API as the bot user.
type DiscordNotifier struct {
	client *resty.Client
}

func NewDiscordNotifier(baseURL, botToken string) (*DiscordNotifier, error) {
	client := resty.New()
	client.SetTimeout(defaultDiscordTimeout)

	return NewDiscordNotifierWithClient(baseURL, botToken, client)
}

func NewDiscordNotifierWithClient(baseURL, botToken string, client *resty.Client) (*DiscordNotifier, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("discord api url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid discord api url: %w", err)
	}
	if strings.TrimSpace(botToken) == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDiscordTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(trimmedURL)
	client.SetAuthScheme("Bot")
	client.SetAuthToken(botToken)
	client.SetHeader("Content-Type", "application/json")

	return &DiscordNotifier{client: client}, nil
}

// Send posts the payload to every recipient. Per-recipient failures are aggregated;
// recipients that succeeded are still reported in the response.
func (n *DiscordNotifier) Send(ctx context.Context, recipients []domain.Recipient, payload Payload) (*ProviderResponse, error) {
	if n == nil || n.client == nil {
		return nil, fmt.Errorf("notifier is not initialized")
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, &ProviderError{Message: "no recipients", Transient: false}
	}

	resp := &ProviderResponse{}
	var errs error
	for _, recipient := range recipients {
		status, messageID, err := n.sendOne(ctx, recipient, payload)
		if status > 0 {
			resp.StatusCode = status
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		resp.MessageIDs = append(resp.MessageIDs, messageID)
	}

	if errs != nil {
		return resp, errs
	}
	return resp, nil
}

func (n *DiscordNotifier) sendOne(ctx context.Context, recipient domain.Recipient, payload Payload) (int, string, error) {
	channelID := recipient.ID
	switch recipient.Kind {
	case domain.RecipientChannel:
	case domain.RecipientDM:
		dm, status, err := n.post(ctx, recipient, "/users/@me/channels", nil, createDMRequest{RecipientID: recipient.ID})
		if err != nil {
			return status, "", err
		}
		channelID = dm.ID
	default:
		return 0, "", &ProviderError{
			Recipient: recipient.String(),
			Message:   fmt.Sprintf("unsupported recipient kind %q", recipient.Kind),
		}
	}

	body := createMessageRequest{
		Content:         payload.Content,
		AllowedMentions: allowedMentions{Parse: []string{"users", "roles"}},
	}
	msg, status, err := n.post(ctx, recipient, "/channels/{channelID}/messages", map[string]string{"channelID": channelID}, body)
	if err != nil {
		return status, "", err
	}
	return status, msg.ID, nil
}

func (n *DiscordNotifier) post(ctx context.Context, recipient domain.Recipient, path string, pathParams map[string]string, body any) (*discordObject, int, error) {
	req := n.client.R().
		SetContext(ctx).
		SetBody(body)
	if len(pathParams) > 0 {
		req.SetPathParams(pathParams)
	}

	response, err := req.Post(path)
	if err != nil {
		return nil, 0, &ProviderError{
			Recipient: recipient.String(),
			Message:   "discord request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var obj discordObject
		if err := json.Unmarshal(response.Body(), &obj); err != nil {
			return nil, statusCode, &ProviderError{
				StatusCode: statusCode,
				Recipient:  recipient.String(),
				Message:    "invalid discord response body",
				Transient:  true,
				Cause:      err,
			}
		}
		return &obj, statusCode, nil
	}

	var apiErr discordAPIError
	_ = json.Unmarshal(response.Body(), &apiErr)

	message := strings.TrimSpace(apiErr.Message)
	if message == "" {
		message = strings.TrimSpace(response.String())
	}

	providerErr := &ProviderError{
		StatusCode: statusCode,
		Code:       apiErr.Code,
		Recipient:  recipient.String(),
		Message:    message,
		Transient:  isTransientHTTPStatus(statusCode) && !isPermanentDiscordCode(apiErr.Code),
	}
	if statusCode == http.StatusTooManyRequests {
		providerErr.RetryAfter = retryAfter(apiErr.RetryAfter, response.Header())
		providerErr.Global = apiErr.Global ||
			strings.EqualFold(response.Header().Get("X-RateLimit-Global"), "true") ||
			strings.EqualFold(response.Header().Get("X-RateLimit-Scope"), "global")
	}
	return nil, statusCode, providerErr
}

// retryAfter prefers the body's fractional seconds over the rounded Retry-After header.
func retryAfter(bodySeconds float64, header http.Header) time.Duration {
	if bodySeconds > 0 {
		return time.Duration(bodySeconds * float64(time.Second))
	}
	if seconds, err := strconv.ParseFloat(strings.TrimSpace(header.Get("Retry-After")), 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return 0
}

func validatePayload(payload Payload) error {
	if strings.TrimSpace(payload.Content) == "" {
		return &ProviderError{Message: "empty message content"}
	}
	if utf8.RuneCountInString(payload.Content) > MaxContentLength {
		return &ProviderError{Message: fmt.Sprintf("message content exceeds %d characters", MaxContentLength)}
	}
	return nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
