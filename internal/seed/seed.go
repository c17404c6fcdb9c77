// Package seed bootstraps the default tenant's subscription for
// self-hosted installs, so a fresh database starts collecting on the
// first anchor without any API interaction.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/config"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EnsureDefaultTenant creates the tenant's subscription with the
// configured collection defaults when none exists. Existing rows are left
// untouched, so running it on every startup is safe.
func EnsureDefaultTenant(db *gorm.DB, tenantID snowflake.ID, cfg config.CollectionsConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if tenantID == 0 {
		return errors.New("seed tenant id is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.TimezoneDefault)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&subscriptiondomain.Subscription{}).
			Where("tenant_id = ?", tenantID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		next := subscriptiondomain.NextAnchorDate(now, cfg.AnchorDayDefault, loc)
		sub := &subscriptiondomain.Subscription{
			ID:                     node.Generate(),
			TenantID:               tenantID,
			Status:                 subscriptiondomain.StatusActive,
			AnchorDay:              cfg.AnchorDayDefault,
			Timezone:               cfg.TimezoneDefault,
			DirectDebitDiscountPct: cfg.DirectDebitDiscountPct,
			PlanAmountCents:        cfg.PlanAmountUSDCents,
			PlanCurrency:           "USD",
			NextAnchorDate:         &next,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.Create(sub).Error; err != nil {
			return err
		}

		subID := sub.ID.String()
		return tx.Create(&billingeventdomain.BillingEvent{
			ID:         node.Generate(),
			TenantID:   &tenantID,
			EventType:  billingeventdomain.EventSubscriptionCreated,
			ActorType:  billingeventdomain.ActorTypeSystem,
			TargetType: "subscription",
			TargetID:   &subID,
			Payload: datatypes.JSONMap{
				"anchor_day": cfg.AnchorDayDefault,
				"timezone":   cfg.TimezoneDefault,
				"seeded":     true,
			},
			CreatedAt: now,
		}).Error
	})
}
