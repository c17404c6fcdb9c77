package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingEvent is the append-only audit record every mutating collections
// operation emits. Rows are never updated or deleted.
type BillingEvent struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	TenantID   *snowflake.ID     `gorm:"index;uniqueIndex:ux_billing_event_dedupe,priority:1"`
	EventType  string            `gorm:"type:text;not null;index"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Payload    datatypes.JSONMap `gorm:"type:jsonb"`
	// DedupeKey makes replayed emissions (bank file re-imports, webhook
	// retries) single-shot per tenant.
	DedupeKey *string    `gorm:"type:text;uniqueIndex:ux_billing_event_dedupe,priority:2"`
	IPAddress *string    `gorm:"type:text"`
	UserAgent *string    `gorm:"type:text"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
	ActorTypeBank   = "bank"
)

const (
	EventSubscriptionCreated  = "SUBSCRIPTION_CREATED"
	EventSubscriptionUpdated  = "SUBSCRIPTION_UPDATED"
	EventSubscriptionCanceled = "SUBSCRIPTION_CANCELED"

	EventCycleMaterialized = "CYCLE_MATERIALIZED"

	EventChargeCreated   = "CHARGE_CREATED"
	EventChargePresented = "CHARGE_PRESENTED"
	EventChargePaid      = "CHARGE_PAID"
	EventChargeRejected  = "CHARGE_REJECTED"
	EventChargeCanceled  = "CHARGE_CANCELED"

	EventAttemptScheduled = "ATTEMPT_SCHEDULED"
	EventAttemptSettled   = "ATTEMPT_SETTLED"

	EventPaymentMethodCreated = "PAYMENT_METHOD_CREATED"
	EventMandateCreated       = "MANDATE_CREATED"
	EventMandateUpdated       = "MANDATE_UPDATED"
	EventMandateActivated     = "MANDATE_ACTIVATED"
	EventMandateRejected      = "MANDATE_REJECTED"
	EventMandateRevoked       = "MANDATE_REVOKED"

	EventIntentCreated  = "FALLBACK_INTENT_CREATED"
	EventIntentPaid     = "FALLBACK_INTENT_PAID"
	EventIntentExpired  = "FALLBACK_INTENT_EXPIRED"
	EventIntentCanceled = "FALLBACK_INTENT_CANCELED"
	EventIntentFailed   = "FALLBACK_INTENT_FAILED"

	EventBankBatchBuilt    = "BANK_BATCH_BUILT"
	EventBankBatchImported = "BANK_BATCH_IMPORTED"

	EventModifierCreated = "MODIFIER_CREATED"
	EventModifierUpdated = "MODIFIER_UPDATED"
	EventModifierDeleted = "MODIFIER_DELETED"

	EventAuthzDenied = "AUTHORIZATION_DENIED"
)

// EventCursor orders listings by (created_at, id) descending.
type EventCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ListFilter narrows event listings; zero values mean "any".
type ListFilter struct {
	TenantID   snowflake.ID
	EventType  string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *EventCursor
	Limit      int
}
