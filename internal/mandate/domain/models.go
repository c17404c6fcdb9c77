// Package domain contains the payment instrument aggregates: the tenant's
// payment methods and the direct-debit mandate holding the encrypted bank
// account authorization.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

type MethodType string

const (
	MethodTypeDirectDebit MethodType = "DIRECT_DEBIT"
	MethodTypeFallback    MethodType = "FALLBACK"
)

type MethodStatus string

const (
	MethodStatusPending  MethodStatus = "PENDING"
	MethodStatusActive   MethodStatus = "ACTIVE"
	MethodStatusRejected MethodStatus = "REJECTED"
	MethodStatusRevoked  MethodStatus = "REVOKED"
)

// PaymentMethod is one way a subscription can be collected. The partial
// unique index keeps at most one default per subscription; the mandate
// upsert clears defaults before setting its own inside one transaction.
type PaymentMethod struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"not null;index"`
	SubscriptionID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_payment_methods_default,where:is_default"`
	MethodType     MethodType   `gorm:"type:text;not null"`
	Status         MethodStatus `gorm:"type:text;not null"`
	HolderName     string       `gorm:"type:text;not null"`
	HolderTaxID    string       `gorm:"type:text;not null"`
	IsDefault      bool         `gorm:"not null;default:false"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentMethod) TableName() string { return "payment_methods" }

type MandateStatus string

const (
	MandateStatusPending  MandateStatus = "PENDING"
	MandateStatusActive   MandateStatus = "ACTIVE"
	MandateStatusRejected MandateStatus = "REJECTED"
	MandateStatusRevoked  MandateStatus = "REVOKED"
)

// Mandate is the direct-debit authorization behind a DIRECT_DEBIT payment
// method, 1:1 through the unique payment_method_id. The account number is
// stored only as a vault ciphertext; last-4, bank code, and the SHA-256
// fingerprint are the only derived values kept in clear.
type Mandate struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	TenantID        snowflake.ID `gorm:"not null;index"`
	PaymentMethodID snowflake.ID `gorm:"not null;uniqueIndex:ux_mandates_payment_method"`

	EncryptedAccountNumber string `gorm:"type:text;not null"`
	AccountLast4           string `gorm:"type:text;not null"`
	BankCode               string `gorm:"type:text;not null"`
	// AccountFingerprint supports equality lookups (same account
	// re-submitted) without touching the ciphertext.
	AccountFingerprint string `gorm:"type:text;not null;index"`

	ConsentVersion string         `gorm:"type:text;not null"`
	ConsentScopes  pq.StringArray `gorm:"type:text[]"`
	ConsentIP      string         `gorm:"type:text;not null"`
	ConsentAt      time.Time      `gorm:"not null"`

	Status       MandateStatus `gorm:"type:text;not null;index"`
	StatusReason *string       `gorm:"type:text"`
	ActivatedAt  *time.Time    `gorm:""`
	RevokedAt    *time.Time    `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Mandate) TableName() string { return "mandates" }

// Collectible reports whether the mandate can carry a debit today. A
// PENDING mandate is presented to the bank (its first settled debit
// activates it); REJECTED and REVOKED mandates are dead.
func (s MandateStatus) Collectible() bool {
	return s == MandateStatusPending || s == MandateStatusActive
}

// ConsentScopeDirectDebit is granted by every mandate submission; the
// recurring scope authorizes unattended cycles.
const (
	ConsentScopeDirectDebit = "direct_debit"
	ConsentScopeRecurring   = "recurring_charges"
)
