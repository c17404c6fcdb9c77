// Package payway is a placeholder for the Payway redirect gateway. It is
// NOT a production integration: intents are acknowledged with a
// deterministic local handle, never settle on their own, and exist so
// the fallback flow can run end to end without network access.
package payway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rumbosoft/rumbo/internal/payment/domain"
)

const (
	ProviderKey = "payway"

	checkoutBaseURL = "https://sandbox.payway.example/checkout/"
)

type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Key() string { return ProviderKey }

// CreateIntent derives the handle from the idempotency key, so retried
// creations produce the same intent.
func (p *Provider) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.IntentResult, error) {
	sum := sha256.Sum256([]byte(req.IdempotencyKey + "|" + req.ExternalReference))
	id := "payway-" + hex.EncodeToString(sum[:])[:16]
	checkout := checkoutBaseURL + id
	return &domain.IntentResult{
		ProviderPaymentID: id,
		Status:            domain.IntentStatusPresented,
		PaymentURL:        &checkout,
	}, nil
}

// GetStatus always reports PENDING: the stub never settles a payment, so
// overdue intents expire through the local mapping.
func (p *Provider) GetStatus(ctx context.Context, snap domain.IntentSnapshot) (*domain.StatusResult, error) {
	return &domain.StatusResult{Status: domain.IntentStatusPending}, nil
}

func (p *Provider) Cancel(ctx context.Context, snap domain.IntentSnapshot) (*domain.CancelResult, error) {
	return &domain.CancelResult{FinalStatus: domain.IntentStatusCanceled}, nil
}
