package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
	"go.uber.org/fx"
)

type ResolverParam struct {
	fx.In

	Repository modifierdomain.Repository
}

type resolver struct {
	repo modifierdomain.Repository
}

func NewResolver(p ResolverParam) modifierdomain.Resolver {
	return &resolver{repo: p.Repository}
}

func (r *resolver) EffectiveAt(ctx context.Context, tenantID snowflake.ID, at time.Time) ([]modifierdomain.BillingModifier, error) {
	return r.repo.FindEffectiveAt(ctx, tenantID, at)
}
