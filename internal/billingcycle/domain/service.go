package domain

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
)

type ListRequest struct {
	Limit int
}

type Service interface {
	// MaterializeDue claims active subscriptions whose anchor has arrived
	// and freezes one cycle plus its recurring charge for each. Returns
	// the number of cycles created; already-materialized anchors are
	// skipped, not errors.
	MaterializeDue(ctx context.Context, asOf time.Time, limit int) (int, error)
	// MaterializeForSubscription freezes the cycle for the subscription's
	// pending anchor. The bool reports whether a new cycle was created; a
	// cycle already frozen for the same anchor is returned as-is.
	MaterializeForSubscription(ctx context.Context, sub *subscriptiondomain.Subscription, asOf time.Time) (*Cycle, bool, error)
	// List returns the calling tenant's cycles, newest anchor first.
	List(ctx context.Context, req ListRequest) ([]Cycle, error)
}

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrAnchorNotDue       = errors.New("anchor_not_due")
	ErrInvalidCyclePeriod = errors.New("invalid_cycle_period")
)
