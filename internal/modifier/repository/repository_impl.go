package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) modifierdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, modifier *modifierdomain.BillingModifier) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_modifiers (
			id, tenant_id, kind, label, pct, effective_from, effective_to,
			is_enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		modifier.ID,
		modifier.TenantID,
		modifier.Kind,
		modifier.Label,
		modifier.Pct,
		modifier.EffectiveFrom,
		modifier.EffectiveTo,
		modifier.IsEnabled,
		modifier.CreatedAt,
		modifier.UpdatedAt,
	).Error
}

func (r *repository) Update(ctx context.Context, modifier *modifierdomain.BillingModifier) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE billing_modifiers
		 SET label = ?, pct = ?, effective_from = ?, effective_to = ?,
		     is_enabled = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ?`,
		modifier.Label,
		modifier.Pct,
		modifier.EffectiveFrom,
		modifier.EffectiveTo,
		modifier.IsEnabled,
		modifier.UpdatedAt,
		modifier.TenantID,
		modifier.ID,
	).Error
}

func (r *repository) Delete(ctx context.Context, tenantID, id snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`DELETE FROM billing_modifiers WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Error
}

func (r *repository) FindByID(ctx context.Context, tenantID, id snowflake.ID) (*modifierdomain.BillingModifier, error) {
	var modifier modifierdomain.BillingModifier
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, kind, label, pct, effective_from, effective_to,
		        is_enabled, created_at, updated_at
		 FROM billing_modifiers
		 WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&modifier).Error
	if err != nil {
		return nil, err
	}
	if modifier.ID == 0 {
		return nil, nil
	}
	return &modifier, nil
}

func (r *repository) List(ctx context.Context, tenantID snowflake.ID, filter modifierdomain.ListRequest) ([]modifierdomain.BillingModifier, error) {
	query := `SELECT id, tenant_id, kind, label, pct, effective_from, effective_to,
	          is_enabled, created_at, updated_at
	          FROM billing_modifiers
	          WHERE tenant_id = ?`
	args := []any{tenantID}

	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	if filter.IsEnabled != nil {
		query += ` AND is_enabled = ?`
		args = append(args, *filter.IsEnabled)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var modifiers []modifierdomain.BillingModifier
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&modifiers).Error; err != nil {
		return nil, err
	}
	return modifiers, nil
}

func (r *repository) FindEffectiveAt(ctx context.Context, tenantID snowflake.ID, at time.Time) ([]modifierdomain.BillingModifier, error) {
	var modifiers []modifierdomain.BillingModifier
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, kind, label, pct, effective_from, effective_to,
		        is_enabled, created_at, updated_at
		 FROM billing_modifiers
		 WHERE tenant_id = ?
		   AND is_enabled = true
		   AND (effective_from IS NULL OR effective_from <= ?)
		   AND (effective_to IS NULL OR effective_to > ?)
		 ORDER BY created_at ASC, id ASC`,
		tenantID,
		at,
		at,
	).Scan(&modifiers).Error
	if err != nil {
		return nil, err
	}
	return modifiers, nil
}
