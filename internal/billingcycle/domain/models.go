// Package domain contains the billing cycle aggregate: one frozen period of
// recurring totals per subscription anchor.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Cycle is one billing period. The FX rate, both currency totals, and the
// modifier snapshot are frozen at materialization (frozen_at); after that
// the row only ever transitions OPEN→CLOSED when the next anchor arrives.
type Cycle struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"not null;index"`
	// SubscriptionID + AnchorDate carry the unique index that makes
	// materialization idempotent: re-running the engine for the same
	// anchor can never produce a second cycle.
	SubscriptionID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_billing_cycles_anchor,priority:1"`
	// AnchorDate is a UTC-midnight marker of the tenant-local anchor day,
	// so uniqueness does not depend on zone offsets.
	AnchorDate time.Time `gorm:"not null;uniqueIndex:ux_billing_cycles_anchor,priority:2"`
	// PeriodStart/PeriodEnd are tenant-local midnight instants; the period
	// is half-open [start, end).
	PeriodStart time.Time `gorm:"not null"`
	PeriodEnd   time.Time `gorm:"not null"`
	Status      Status    `gorm:"type:text;not null;index"`
	// FXRate converts the USD plan total into the presentment currency.
	FXRate        float64           `gorm:"not null"`
	FXRateDate    time.Time         `gorm:"not null"`
	TotalUSDCents int64             `gorm:"not null"`
	TotalARSCents int64             `gorm:"not null"`
	Modifiers     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	FrozenAt      time.Time         `gorm:"not null"`
	ClosedAt      *time.Time        `gorm:""`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Cycle) TableName() string { return "billing_cycles" }

// DateMarker returns UTC midnight of t's calendar date as observed in loc.
// Date columns store markers so equality survives serialization across
// drivers and timezones.
func DateMarker(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
