package payway

import (
	"context"
	"strings"
	"testing"

	"github.com/rumbosoft/rumbo/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntentIsDeterministic(t *testing.T) {
	provider := NewProvider()

	req := domain.CreateIntentRequest{
		AmountCents:       850000,
		Currency:          "ARS",
		ExternalReference: "REF-100",
		IdempotencyKey:    "idem-pw-1",
	}

	first, err := provider.CreateIntent(context.Background(), req)
	require.NoError(t, err)
	second, err := provider.CreateIntent(context.Background(), req)
	require.NoError(t, err)

	// Same idempotency key and reference always map to the same handle.
	assert.Equal(t, first.ProviderPaymentID, second.ProviderPaymentID)
	assert.True(t, strings.HasPrefix(first.ProviderPaymentID, "payway-"))
	assert.Equal(t, domain.IntentStatusPresented, first.Status)
	require.NotNil(t, first.PaymentURL)
	assert.Equal(t, checkoutBaseURL+first.ProviderPaymentID, *first.PaymentURL)

	other, err := provider.CreateIntent(context.Background(), domain.CreateIntentRequest{
		ExternalReference: "REF-100",
		IdempotencyKey:    "idem-pw-2",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ProviderPaymentID, other.ProviderPaymentID)
}

func TestGetStatusNeverSettles(t *testing.T) {
	provider := NewProvider()

	result, err := provider.GetStatus(context.Background(), domain.IntentSnapshot{
		ProviderPaymentID: "payway-abc",
		ExternalReference: "REF-101",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusPending, result.Status)
	assert.Nil(t, result.PaidAt)
}

func TestCancelAlwaysCancels(t *testing.T) {
	provider := NewProvider()

	result, err := provider.Cancel(context.Background(), domain.IntentSnapshot{
		ProviderPaymentID: "payway-abc",
		ExternalReference: "REF-102",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCanceled, result.FinalStatus)
}
