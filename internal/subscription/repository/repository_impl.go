package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, tenant_id, status, anchor_day, timezone,
	 direct_debit_discount_pct, plan_amount_cents, plan_currency,
	 next_anchor_date, canceled_at, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE tenant_id = ?`,
		tenantID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, tenant_id, status, anchor_day, timezone, direct_debit_discount_pct,
			plan_amount_cents, plan_currency, next_anchor_date, canceled_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.TenantID,
		sub.Status,
		sub.AnchorDay,
		sub.Timezone,
		sub.DirectDebitDiscountPct,
		sub.PlanAmountCents,
		sub.PlanCurrency,
		sub.NextAnchorDate,
		sub.CanceledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) UpdateNextAnchor(ctx context.Context, db *gorm.DB, id snowflake.ID, next *time.Time, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET next_anchor_date = ?, updated_at = ? WHERE id = ?`,
		next,
		updatedAt,
		id,
	).Error
}

func (r *repo) MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, canceledAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, canceled_at = ?, next_anchor_date = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusCanceled,
		canceledAt,
		canceledAt,
		id,
		subscriptiondomain.StatusActive,
	).Error
}

func (r *repo) FindDueForMaterialization(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]*subscriptiondomain.Subscription, error) {
	var subscriptions []*subscriptiondomain.Subscription
	lockStart := time.Now()
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = ? AND next_anchor_date IS NOT NULL AND next_anchor_date <= ?
		 ORDER BY next_anchor_date ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		subscriptiondomain.StatusActive,
		asOf,
		limit,
	).Scan(&subscriptions).Error
	obsmetrics.Collections().ObserveDBLockWait(obsmetrics.LockResourceSubscriptionsForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}
