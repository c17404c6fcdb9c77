package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Resolver returns the modifiers in force for a tenant at an instant; cycle
// materialization freezes their combined effect into the cycle totals.
type Resolver interface {
	EffectiveAt(ctx context.Context, tenantID snowflake.ID, at time.Time) ([]BillingModifier, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
}

type ListRequest struct {
	Kind      string
	IsEnabled *bool
}

type CreateRequest struct {
	Kind          Kind       `json:"kind"`
	Label         string     `json:"label"`
	Pct           float64    `json:"pct"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsEnabled     *bool      `json:"is_enabled,omitempty"`
}

type UpdateRequest struct {
	ID            string     `json:"id"`
	Label         *string    `json:"label,omitempty"`
	Pct           *float64   `json:"pct,omitempty"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsEnabled     *bool      `json:"is_enabled,omitempty"`
}

type Response struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Kind          Kind       `json:"kind"`
	Label         string     `json:"label"`
	Pct           float64    `json:"pct"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsEnabled     bool       `json:"is_enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
