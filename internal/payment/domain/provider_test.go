package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntentStatusOpenAndTerminal(t *testing.T) {
	open := []IntentStatus{IntentStatusCreated, IntentStatusPending, IntentStatusPresented}
	for _, s := range open {
		assert.True(t, s.Open(), "%s should be open", s)
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}

	terminal := []IntentStatus{IntentStatusPaid, IntentStatusFailed, IntentStatusExpired, IntentStatusCanceled}
	for _, s := range terminal {
		assert.False(t, s.Open(), "%s should not be open", s)
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	assert.False(t, IntentStatus("").Terminal())
}

func TestIsTransientProviderError(t *testing.T) {
	assert.False(t, IsTransientProviderError(nil))
	assert.True(t, IsTransientProviderError(&ProviderError{Transient: true}))
	assert.False(t, IsTransientProviderError(&ProviderError{Transient: false}))
	// Timeouts and resets arrive as plain errors and stay retryable.
	assert.True(t, IsTransientProviderError(errors.New("connection reset by peer")))
}

func TestSanitizeProviderDetail(t *testing.T) {
	out := SanitizeProviderDetail("token APP-123 rejected,\n  retry\tlater", "APP-123")
	assert.Equal(t, "token *** rejected, retry later", out)

	// Empty secrets never blank the whole message.
	assert.Equal(t, "plain detail", SanitizeProviderDetail("plain detail", "", "  "))

	long := strings.Repeat("x", 400)
	assert.Len(t, SanitizeProviderDetail(long), 256)
}
