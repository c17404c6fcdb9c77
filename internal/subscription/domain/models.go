// Package domain contains the tenant subscription aggregate and the anchor
// date arithmetic that drives recurring collections.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusCanceled Status = "CANCELED"
)

// Subscription is a tenant's recurring billing agreement. At most one row
// exists per tenant; cycles and charges hang off it.
type Subscription struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	TenantID               snowflake.ID `gorm:"not null;uniqueIndex:ux_subscriptions_tenant"`
	Status                 Status       `gorm:"type:text;not null"`
	AnchorDay              int          `gorm:"type:smallint;not null"`
	Timezone               string       `gorm:"type:text;not null"`
	DirectDebitDiscountPct float64      `gorm:"not null;default:0"`
	PlanAmountCents        int64        `gorm:"not null"`
	PlanCurrency           string       `gorm:"type:text;not null"`
	// NextAnchorDate is local midnight of the next billing anchor in the
	// tenant's timezone. Nil once the subscription is canceled.
	NextAnchorDate *time.Time `gorm:"index"`
	CanceledAt     *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Location resolves the subscription's IANA timezone, falling back to UTC
// when the stored name no longer loads.
func (s *Subscription) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
