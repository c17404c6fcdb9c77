package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/rumbosoft/rumbo/internal/billingcycle/domain"
	"gorm.io/gorm"
)

const cycleColumns = `id, tenant_id, subscription_id, anchor_date, period_start,
	 period_end, status, fx_rate, fx_rate_date, total_usd_cents, total_ars_cents,
	 modifiers, frozen_at, closed_at, created_at, updated_at`

type repo struct{}

func Provide() billingcycledomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cycle *billingcycledomain.Cycle) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_cycles (
			id, tenant_id, subscription_id, anchor_date, period_start,
			period_end, status, fx_rate, fx_rate_date, total_usd_cents,
			total_ars_cents, modifiers, frozen_at, closed_at, created_at,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycle.ID,
		cycle.TenantID,
		cycle.SubscriptionID,
		cycle.AnchorDate,
		cycle.PeriodStart,
		cycle.PeriodEnd,
		cycle.Status,
		cycle.FXRate,
		cycle.FXRateDate,
		cycle.TotalUSDCents,
		cycle.TotalARSCents,
		cycle.Modifiers,
		cycle.FrozenAt,
		cycle.ClosedAt,
		cycle.CreatedAt,
		cycle.UpdatedAt,
	).Error
}

func (r *repo) FindBySubscriptionAnchor(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, anchorDate time.Time) (*billingcycledomain.Cycle, error) {
	var cycle billingcycledomain.Cycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+`
		 FROM billing_cycles
		 WHERE subscription_id = ? AND anchor_date = ?`,
		subscriptionID,
		anchorDate,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) FindOpenBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*billingcycledomain.Cycle, error) {
	var cycle billingcycledomain.Cycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+`
		 FROM billing_cycles
		 WHERE subscription_id = ? AND status = ?
		 ORDER BY anchor_date DESC
		 LIMIT 1`,
		subscriptionID,
		billingcycledomain.StatusOpen,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) LatestBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*billingcycledomain.Cycle, error) {
	var cycle billingcycledomain.Cycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+`
		 FROM billing_cycles
		 WHERE subscription_id = ?
		 ORDER BY anchor_date DESC
		 LIMIT 1`,
		subscriptionID,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]billingcycledomain.Cycle, error) {
	var cycles []billingcycledomain.Cycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+`
		 FROM billing_cycles
		 WHERE tenant_id = ?
		 ORDER BY anchor_date DESC
		 LIMIT ?`,
		tenantID,
		limit,
	).Scan(&cycles).Error
	if err != nil {
		return nil, err
	}
	return cycles, nil
}

func (r *repo) Close(ctx context.Context, db *gorm.DB, id snowflake.ID, closedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_cycles
		 SET status = ?, closed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		billingcycledomain.StatusClosed,
		closedAt,
		closedAt,
		id,
		billingcycledomain.StatusOpen,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
