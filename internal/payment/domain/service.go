package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateIntentForChargeRequest struct {
	ChargeID snowflake.ID `json:"-"`
	Provider string       `json:"provider"`
	// IdempotencyKey comes from the Idempotency-Key header; a retried
	// request with the same key returns the original intent.
	IdempotencyKey string `json:"-"`
}

// IntentView is the caller-facing representation of an intent.
type IntentView struct {
	ID                string       `json:"id"`
	ChargeID          string       `json:"charge_id"`
	Provider          string       `json:"provider"`
	Status            IntentStatus `json:"status"`
	PaymentURL        *string      `json:"payment_url,omitempty"`
	QRPayload         *string      `json:"qr_payload,omitempty"`
	AmountCents       int64        `json:"amount_cents"`
	Currency          string       `json:"currency"`
	ExternalReference string       `json:"external_reference"`
	ExpiresAt         time.Time    `json:"expires_at"`
	PaidAt            *time.Time   `json:"paid_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// View shapes the intent for API responses.
func (i *FallbackIntent) View() IntentView {
	return IntentView{
		ID:                i.ID.String(),
		ChargeID:          i.ChargeID.String(),
		Provider:          i.Provider,
		Status:            i.Status,
		PaymentURL:        i.PaymentURL,
		QRPayload:         i.QRPayload,
		AmountCents:       i.AmountCents,
		Currency:          i.Currency,
		ExternalReference: i.ExternalReference,
		ExpiresAt:         i.ExpiresAt,
		PaidAt:            i.PaidAt,
		CreatedAt:         i.CreatedAt,
	}
}

type Service interface {
	// CreateIntentForCharge opens an online payment for a collectible
	// charge through the resolved provider and links it to a
	// FALLBACK-channel attempt.
	CreateIntentForCharge(ctx context.Context, req CreateIntentForChargeRequest) (*FallbackIntent, error)
	GetIntent(ctx context.Context, intentID snowflake.ID) (*FallbackIntent, error)
	// PollIntent re-reads the provider state and applies the outcome; an
	// overdue intent with no terminal provider status expires locally.
	PollIntent(ctx context.Context, intentID snowflake.ID) (*FallbackIntent, error)
	CancelIntent(ctx context.Context, intentID snowflake.ID) (*FallbackIntent, error)
	// ExpireStaleIntents closes open intents past expires_at; the
	// scheduler drives it.
	ExpireStaleIntents(ctx context.Context, limit int) (int, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrChargeNotFound        = errors.New("charge_not_found")
	ErrChargeNotPayable      = errors.New("charge_not_payable")
	ErrIntentNotFound        = errors.New("intent_not_found")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrWebhookUnsupported    = errors.New("webhook_unsupported")
)
