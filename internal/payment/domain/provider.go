package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
)

// Provider is the uniform contract over online payment backends. QR and
// redirect providers implement the same three operations; everything
// provider-specific stays behind it.
type Provider interface {
	Key() string
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentResult, error)
	GetStatus(ctx context.Context, snap IntentSnapshot) (*StatusResult, error)
	// Cancel reports PAID when the payment completed concurrently with
	// the cancel request; a completed payment is never dropped.
	Cancel(ctx context.Context, snap IntentSnapshot) (*CancelResult, error)
}

type CreateIntentRequest struct {
	Charge            *chargedomain.Charge
	AmountCents       int64
	Currency          string
	ExternalReference string
	IdempotencyKey    string
	ExpiresAt         time.Time
}

// IntentResult is the provider's answer to a creation call. Status is
// CREATED, PENDING or PRESENTED.
type IntentResult struct {
	ProviderPaymentID string
	Status            IntentStatus
	PaymentURL        *string
	QRPayload         *string
}

// IntentSnapshot carries the fields a provider needs to look an intent
// up again.
type IntentSnapshot struct {
	ProviderPaymentID string
	ExternalReference string
	AmountCents       int64
	Currency          string
	ExpiresAt         time.Time
}

// StatusResult maps the provider's state onto PENDING, PAID or FAILED.
// The EXPIRED mapping for overdue intents is applied by the service, not
// by providers.
type StatusResult struct {
	Status IntentStatus
	PaidAt *time.Time
}

type CancelResult struct {
	FinalStatus IntentStatus
}

// WebhookAdapter is implemented by providers that push notifications.
// Parsed events carry identifiers only; the current state is always
// re-read through GetStatus rather than trusted from the payload.
type WebhookAdapter interface {
	VerifyWebhook(payload []byte, headers http.Header) error
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

type WebhookEvent struct {
	EventID           string
	ProviderPaymentID string
	ExternalReference string
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventIgnored     = errors.New("event_ignored")
)

// ProviderError is a sanitized provider failure. Transient errors are
// retried by the scheduler; terminal ones are not.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Detail     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Detail)
}

// IsTransientProviderError reports whether a provider call may be retried.
// Anything that is not an explicit terminal ProviderError (timeouts,
// connection resets) counts as transient.
func IsTransientProviderError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

const maxProviderDetailLen = 256

// SanitizeProviderDetail strips the given secrets and collapses a raw
// provider response into a single length-capped line safe to log or
// return to a caller.
func SanitizeProviderDetail(detail string, secrets ...string) string {
	for _, secret := range secrets {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		detail = strings.ReplaceAll(detail, secret, "***")
	}
	detail = strings.Join(strings.Fields(detail), " ")
	if len(detail) > maxProviderDetailLen {
		detail = detail[:maxProviderDetailLen]
	}
	return detail
}
