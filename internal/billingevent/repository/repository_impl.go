package repository

import (
	"context"
	"strings"

	"github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, gdb *gorm.DB, event *domain.BillingEvent) error {
	if event == nil {
		return nil
	}
	err := gdb.WithContext(ctx).Exec(
		`INSERT INTO billing_events (
			id, tenant_id, event_type, actor_type, actor_id, target_type,
			target_id, payload, dedupe_key, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.TenantID,
		event.EventType,
		event.ActorType,
		event.ActorID,
		event.TargetType,
		event.TargetID,
		event.Payload,
		event.DedupeKey,
		event.IPAddress,
		event.UserAgent,
		event.CreatedAt,
	).Error
	if err != nil && event.DedupeKey != nil && db.IsDuplicateKeyErr(err) {
		// A replayed emission; the first write already recorded it.
		return nil
	}
	return err
}

func (r *repo) List(ctx context.Context, gdb *gorm.DB, filter domain.ListFilter) ([]*domain.BillingEvent, error) {
	var events []*domain.BillingEvent
	stmt := gdb.WithContext(ctx).Model(&domain.BillingEvent{}).
		Where("tenant_id = ?", filter.TenantID)

	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		stmt = stmt.Where("event_type = ?", eventType)
	}
	if targetType := strings.TrimSpace(filter.TargetType); targetType != "" {
		stmt = stmt.Where("target_type = ?", targetType)
	}
	if targetID := strings.TrimSpace(filter.TargetID); targetID != "" {
		stmt = stmt.Where("target_id = ?", targetID)
	}
	if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
		stmt = stmt.Where("actor_type = ?", actorType)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
