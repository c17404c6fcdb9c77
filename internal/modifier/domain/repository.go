package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, modifier *BillingModifier) error
	Update(ctx context.Context, modifier *BillingModifier) error
	Delete(ctx context.Context, tenantID, id snowflake.ID) error
	FindByID(ctx context.Context, tenantID, id snowflake.ID) (*BillingModifier, error)
	List(ctx context.Context, tenantID snowflake.ID, filter ListRequest) ([]BillingModifier, error)
	FindEffectiveAt(ctx context.Context, tenantID snowflake.ID, at time.Time) ([]BillingModifier, error)
}
