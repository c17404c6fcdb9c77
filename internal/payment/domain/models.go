// Package domain contains the fallback payment aggregate: online payment
// intents created against a charge when direct debit is unavailable or
// has failed.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type IntentStatus string

const (
	IntentStatusCreated   IntentStatus = "CREATED"
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusPresented IntentStatus = "PRESENTED"
	IntentStatusPaid      IntentStatus = "PAID"
	IntentStatusFailed    IntentStatus = "FAILED"
	IntentStatusExpired   IntentStatus = "EXPIRED"
	IntentStatusCanceled  IntentStatus = "CANCELED"
)

// Open reports whether the intent can still settle or be canceled.
func (s IntentStatus) Open() bool {
	switch s {
	case IntentStatusCreated, IntentStatusPending, IntentStatusPresented:
		return true
	}
	return false
}

// Terminal reports whether the intent reached a final state.
func (s IntentStatus) Terminal() bool {
	return s != "" && !s.Open()
}

// OpenStatuses is the compare-and-set guard for every intent transition.
var OpenStatuses = []IntentStatus{
	IntentStatusCreated,
	IntentStatusPending,
	IntentStatusPresented,
}

// FallbackIntent is one online payment handle tied to a charge. The
// unique (tenant_id, idempotency_key) index makes retried creations
// single-shot.
type FallbackIntent struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_fallback_intents_idem,priority:1"`
	ChargeID snowflake.ID `gorm:"not null;index"`
	// AttemptID links the intent to the FALLBACK-channel collection
	// attempt it settles.
	AttemptID *snowflake.ID `gorm:"index"`

	Provider          string  `gorm:"type:text;not null"`
	ExternalReference string  `gorm:"type:text;not null;index"`
	ProviderPaymentID *string `gorm:"type:text;index"`
	IdempotencyKey    string  `gorm:"type:text;not null;uniqueIndex:ux_fallback_intents_idem,priority:2"`

	Status      IntentStatus `gorm:"type:text;not null;index"`
	PaymentURL  *string      `gorm:"type:text"`
	QRPayload   *string      `gorm:"type:text"`
	AmountCents int64        `gorm:"not null"`
	Currency    string       `gorm:"type:text;not null"`

	ExpiresAt time.Time  `gorm:"not null;index"`
	PaidAt    *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FallbackIntent) TableName() string { return "fallback_intents" }
