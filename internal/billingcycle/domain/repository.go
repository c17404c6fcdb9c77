package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cycle *Cycle) error
	FindBySubscriptionAnchor(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, anchorDate time.Time) (*Cycle, error)
	FindOpenBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Cycle, error)
	// LatestBySubscription returns the cycle with the most recent anchor,
	// open or closed.
	LatestBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Cycle, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]Cycle, error)
	// Close transitions a cycle OPEN→CLOSED; it reports whether a row
	// changed. Frozen totals are never touched.
	Close(ctx context.Context, db *gorm.DB, id snowflake.ID, closedAt time.Time) (bool, error)
}
