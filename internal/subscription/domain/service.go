package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// EnsureForTenant returns the tenant's subscription, creating it with
	// the configured collection defaults when absent.
	EnsureForTenant(ctx context.Context) (*Subscription, error)
	Get(ctx context.Context) (*Subscription, error)
	Cancel(ctx context.Context) error
	// RecomputeAnchor advances next_anchor_date to the next occurrence of
	// the subscription's anchor day on or after `from`. It joins the
	// caller's transaction when tx is non-nil.
	RecomputeAnchor(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, from time.Time) (*Subscription, error)
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionCanceled = errors.New("subscription_canceled")
	ErrInvalidAnchorDay     = errors.New("invalid_anchor_day")
	ErrInvalidTimezone      = errors.New("invalid_timezone")
)
