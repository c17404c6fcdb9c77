package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindMethodsBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]PaymentMethod, error)
	FindDirectDebitMethod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*PaymentMethod, error)
	// ClearDefaults drops is_default across the subscription's methods so
	// the upsert can install its own without tripping the partial unique
	// index.
	ClearDefaults(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, updatedAt time.Time) error
	InsertMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	UpdateMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error

	FindMandateByMethod(ctx context.Context, db *gorm.DB, methodID snowflake.ID) (*Mandate, error)
	FindMandateBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Mandate, error)
	InsertMandate(ctx context.Context, db *gorm.DB, mandate *Mandate) error
	UpdateMandate(ctx context.Context, db *gorm.DB, mandate *Mandate) error
	// TransitionMandateBySubscription moves the subscription's direct-debit
	// mandate between statuses; bank-file imports drive PENDING→ACTIVE and
	// PENDING|ACTIVE→REJECTED through it.
	TransitionMandateBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, from []MandateStatus, to MandateStatus, reason *string, at time.Time) (bool, error)

	// HasCollectibleMandate reports whether the subscription's default
	// method is a direct-debit mandate in a collectible status; cycle
	// pricing and attempt channel selection both hang on it.
	HasCollectibleMandate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (bool, error)
}
