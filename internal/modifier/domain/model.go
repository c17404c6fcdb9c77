package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Kind distinguishes surcharges from rebates.
type Kind string

const (
	KindTax      Kind = "TAX"
	KindDiscount Kind = "DISCOUNT"
)

// BillingModifier is a tenant-scoped percentage adjustment applied when a
// cycle's totals are frozen. TAX adds on top of the plan amount, DISCOUNT
// subtracts. Effective ranges are half-open: from inclusive, to exclusive;
// a nil bound means unbounded on that side.
type BillingModifier struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;index"`

	Kind  Kind    `gorm:"type:text;not null"`
	Label string  `gorm:"type:text;not null"`
	// Pct is a percentage (e.g. 21 for 21%), not a fraction.
	Pct float64 `gorm:"type:numeric(6,3);not null"`

	EffectiveFrom *time.Time `gorm:""`
	EffectiveTo   *time.Time `gorm:""`

	IsEnabled bool `gorm:"column:is_enabled;not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BillingModifier) TableName() string { return "billing_modifiers" }

func (m *BillingModifier) Validate() error {
	if m.Kind != KindTax && m.Kind != KindDiscount {
		return ErrInvalidKind
	}
	if m.Label == "" {
		return ErrInvalidLabel
	}
	if m.Pct < 0 || m.Pct >= 100 {
		return ErrInvalidPct
	}
	if m.EffectiveFrom != nil && m.EffectiveTo != nil && !m.EffectiveTo.After(*m.EffectiveFrom) {
		return ErrInvalidEffectiveRange
	}
	return nil
}

// ActiveAt reports whether the modifier applies at instant t.
func (m *BillingModifier) ActiveAt(t time.Time) bool {
	if !m.IsEnabled {
		return false
	}
	if m.EffectiveFrom != nil && t.Before(*m.EffectiveFrom) {
		return false
	}
	if m.EffectiveTo != nil && !t.Before(*m.EffectiveTo) {
		return false
	}
	return true
}
