package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/billingevent/masking"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/rumbosoft/rumbo/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("billingevent.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *service) Append(ctx context.Context, tx *gorm.DB, req domain.AppendRequest) error {
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		return domain.ErrInvalidEventType
	}

	// Platform-level events (bank batch builds, imports) legitimately carry
	// no tenant; everything tenant-scoped resolves one here.
	tenantID := req.TenantID
	if tenantID == nil {
		if ctxTenant, ok := tenantctx.TenantIDFromContext(ctx); ok {
			tenantID = &ctxTenant
		}
	}

	actorType, actorID := tenantctx.ActorFromContext(ctx)
	if actorType == "" {
		actorType = domain.ActorTypeSystem
	}

	targetType := strings.TrimSpace(req.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	payload := masking.MaskJSON(req.Payload)
	if requestID := tenantctx.RequestIDFromContext(ctx); requestID != "" {
		if payload == nil {
			payload = map[string]any{}
		}
		if _, exists := payload["request_id"]; !exists {
			payload["request_id"] = requestID
		}
	}

	event := &domain.BillingEvent{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		EventType:  eventType,
		ActorType:  actorType,
		TargetType: targetType,
		TargetID:   req.TargetID,
		Payload:    datatypes.JSONMap(payload),
		DedupeKey:  req.DedupeKey,
		CreatedAt:  s.clock.Now(),
	}
	if actorID != "" {
		event.ActorID = &actorID
	}
	if ip := tenantctx.ClientIPFromContext(ctx); ip != "" {
		event.IPAddress = &ip
	}
	if ua := tenantctx.UserAgentFromContext(ctx); ua != "" {
		event.UserAgent = &ua
	}

	exec := s.db
	if tx != nil {
		exec = tx
	}

	if err := s.repo.Insert(ctx, exec, event); err != nil {
		s.log.Error("append billing event failed",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *service) List(ctx context.Context, req domain.ListEventsRequest) (domain.ListEventsResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return domain.ListEventsResponse{}, domain.ErrInvalidTenant
	}

	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return domain.ListEventsResponse{}, domain.ErrInvalidTimeRange
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filter := domain.ListFilter{
		TenantID:   tenantID,
		EventType:  req.EventType,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Limit:      pageSize,
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := decodeEventCursor(token)
		if err != nil {
			return domain.ListEventsResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = cursor
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		s.log.Error("list billing events failed", zap.Error(err))
		return domain.ListEventsResponse{}, err
	}

	rows, pageInfo := pagination.BuildCursorPageInfo(rows, int32(pageSize), encodeEventCursor)

	events := make([]domain.BillingEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, *row)
	}

	return domain.ListEventsResponse{
		PageInfo: *pageInfo,
		Events:   events,
	}, nil
}

func encodeEventCursor(event *domain.BillingEvent) string {
	token, _ := pagination.EncodeCursor(pagination.Cursor{
		ID:        event.ID.String(),
		CreatedAt: event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	return token
}

func decodeEventCursor(token string) (*domain.EventCursor, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &domain.EventCursor{ID: id, CreatedAt: createdAt}, nil
}
