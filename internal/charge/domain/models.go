// Package domain contains the charge and collection-attempt aggregates.
// Charges are monetary obligations; attempts are individual tries to
// collect one through a channel.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindRecurring Kind = "RECURRING"
	KindExtra     Kind = "EXTRA"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPresented Status = "PRESENTED"
	StatusPaid      Status = "PAID"
	StatusRejected  Status = "REJECTED"
	StatusError     Status = "ERROR"
	StatusCanceled  Status = "CANCELED"
)

type ReconciliationStatus string

const (
	ReconciliationPending    ReconciliationStatus = "PENDING"
	ReconciliationMatched    ReconciliationStatus = "MATCHED"
	ReconciliationMismatched ReconciliationStatus = "MISMATCHED"
)

// Charge is one monetary obligation, recurring (from a cycle) or extra
// (ad hoc). Amounts are integer cents in the presentment currency.
type Charge struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	TenantID       snowflake.ID  `gorm:"not null;index"`
	SubscriptionID snowflake.ID  `gorm:"not null;index"`
	CycleID        *snowflake.ID `gorm:"index"`
	Kind           Kind          `gorm:"type:text;not null"`
	Status         Status        `gorm:"type:text;not null;index"`
	// ExternalReference travels through bank files and provider calls; it
	// is the only identifier the outside world echoes back.
	ExternalReference    string               `gorm:"type:text;not null;uniqueIndex:ux_charges_external_reference"`
	Description          *string              `gorm:"type:text"`
	DueDate              time.Time            `gorm:"not null;index"`
	AmountDueCents       int64                `gorm:"not null"`
	Currency             string               `gorm:"type:text;not null"`
	AmountPaidCents      *int64               `gorm:""`
	PaidCurrency         *string              `gorm:"type:text"`
	PaidAt               *time.Time           `gorm:""`
	ReconciliationStatus ReconciliationStatus `gorm:"type:text;not null"`
	CreatedAt            time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Charge) TableName() string { return "charges" }

// IsPaid reports whether the charge reached its terminal paid state.
func (c *Charge) IsPaid() bool {
	return c.Status == StatusPaid || c.PaidAt != nil
}

// CanTransition reports whether a charge may move between statuses. PAID
// and CANCELED are terminal. REJECTED and ERROR charges stay collectible:
// dunning re-presents them and the fallback channel can still settle them.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPaid, StatusCanceled:
		return false
	case StatusPending:
		return to == StatusPresented || to == StatusPaid || to == StatusRejected ||
			to == StatusError || to == StatusCanceled
	case StatusPresented:
		return to == StatusPaid || to == StatusRejected || to == StatusError ||
			to == StatusCanceled
	case StatusRejected, StatusError:
		return to == StatusPresented || to == StatusPaid || to == StatusCanceled
	}
	return false
}

type Channel string

const (
	ChannelDirectDebit Channel = "DIRECT_DEBIT"
	ChannelFallback    Channel = "FALLBACK"
)

type AttemptStatus string

const (
	AttemptStatusPending  AttemptStatus = "PENDING"
	AttemptStatusPaid     AttemptStatus = "PAID"
	AttemptStatusRejected AttemptStatus = "REJECTED"
	AttemptStatusError    AttemptStatus = "ERROR"
	AttemptStatusExpired  AttemptStatus = "EXPIRED"
	AttemptStatusCanceled AttemptStatus = "CANCELED"
)

// Attempt is one collection try against a charge. attempt_no starts at 1
// and increases monotonically per charge; the unique index makes double
// scheduling impossible.
type Attempt struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	TenantID  snowflake.ID  `gorm:"not null;index"`
	ChargeID  snowflake.ID  `gorm:"not null;uniqueIndex:ux_attempts_charge_no,priority:1"`
	AttemptNo int           `gorm:"not null;uniqueIndex:ux_attempts_charge_no,priority:2"`
	Channel   Channel       `gorm:"type:text;not null"`
	Status    AttemptStatus `gorm:"type:text;not null;index"`
	// ScheduledFor drives both outbound claiming and the dunning overview.
	ScheduledFor *time.Time `gorm:"index"`
	ProcessedAt  *time.Time `gorm:""`
	ResultCode   *string    `gorm:"type:text"`
	ResultReason *string    `gorm:"type:text"`
	// BatchID links a direct-debit attempt to the outbound presentment
	// batch that carried it; inbound results match through it.
	BatchID   *snowflake.ID `gorm:"index"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Attempt) TableName() string { return "attempts" }

// Terminal reports whether an attempt status accepts no further results.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusPaid, AttemptStatusRejected, AttemptStatusError,
		AttemptStatusExpired, AttemptStatusCanceled:
		return true
	}
	return false
}
