package domain

import (
	"context"
	"errors"
	"time"

	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
)

// Overview is the tenant-facing collection summary: the derived standing
// plus the display state the dashboard renders around it.
type Overview struct {
	Status           OverviewStatus `json:"status"`
	InCollection     bool           `json:"in_collection"`
	IsPastDue        bool           `json:"is_past_due"`
	IsSuspended      bool           `json:"is_suspended"`
	RetriesExhausted bool           `json:"retries_exhausted"`
	NextAttemptAt    *time.Time     `json:"next_attempt_at,omitempty"`
	DaysSinceAnchor  int            `json:"days_since_anchor"`

	Subscription  *SubscriptionSummary             `json:"subscription,omitempty"`
	CurrentCycle  *CycleSummary                    `json:"current_cycle,omitempty"`
	CurrentCharge *ChargeSummary                   `json:"current_charge,omitempty"`
	PaymentMethod *mandatedomain.PaymentMethodView `json:"payment_method,omitempty"`

	SuspendAfterDays int   `json:"suspend_after_days"`
	RetryOffsetsDays []int `json:"retry_offsets_days"`
}

type SubscriptionSummary struct {
	ID                     string     `json:"id"`
	Status                 string     `json:"status"`
	AnchorDay              int        `json:"anchor_day"`
	Timezone               string     `json:"timezone"`
	NextAnchorDate         *time.Time `json:"next_anchor_date,omitempty"`
	PlanAmountCents        int64      `json:"plan_amount_cents"`
	PlanCurrency           string     `json:"plan_currency"`
	DirectDebitDiscountPct float64    `json:"direct_debit_discount_pct"`
}

type CycleSummary struct {
	ID            string    `json:"id"`
	AnchorDate    string    `json:"anchor_date"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	Status        string    `json:"status"`
	FXRate        float64   `json:"fx_rate"`
	TotalUSDCents int64     `json:"total_usd_cents"`
	TotalARSCents int64     `json:"total_ars_cents"`
}

type ChargeSummary struct {
	ID                string     `json:"id"`
	ExternalReference string     `json:"external_reference"`
	Status            string     `json:"status"`
	DueDate           time.Time  `json:"due_date"`
	AmountDueCents    int64      `json:"amount_due_cents"`
	Currency          string     `json:"currency"`
	AmountPaidCents   *int64     `json:"amount_paid_cents,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	AttemptCount      int        `json:"attempt_count"`
}

// Service answers "is this tenant collectible right now". It only reads;
// every mutation lives in the aggregate services it summarizes.
type Service interface {
	GetOverview(ctx context.Context) (*Overview, error)
}

var ErrInvalidTenant = errors.New("invalid_tenant")
