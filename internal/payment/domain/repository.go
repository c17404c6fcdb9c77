package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIntent reports false when the (tenant, idempotency_key) pair
	// already exists; the caller reloads the original row.
	InsertIntent(ctx context.Context, db *gorm.DB, intent *FallbackIntent) (bool, error)
	FindIntentByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*FallbackIntent, error)
	FindIntentByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*FallbackIntent, error)
	// The webhook finders are platform-scoped: provider notifications
	// carry no tenant.
	FindIntentByProviderPaymentID(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*FallbackIntent, error)
	FindIntentByExternalReference(ctx context.Context, db *gorm.DB, provider, externalReference string) (*FallbackIntent, error)
	ListIntentsByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]FallbackIntent, error)
	// TransitionIntent applies the status change only when the current
	// status is in `from`; it reports whether a row changed.
	TransitionIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, from []IntentStatus, to IntentStatus, paidAt *time.Time, updatedAt time.Time) (bool, error)
	ClaimExpiredIntents(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]FallbackIntent, error)
}
