package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	Create(ctx context.Context, db *gorm.DB, sub *Subscription) error
	UpdateNextAnchor(ctx context.Context, db *gorm.DB, id snowflake.ID, next *time.Time, updatedAt time.Time) error
	MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, canceledAt time.Time) error
	// FindDueForMaterialization claims ACTIVE subscriptions whose anchor has
	// arrived, skipping rows another worker holds.
	FindDueForMaterialization(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]*Subscription, error)
}
