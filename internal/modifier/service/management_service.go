package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     modifierdomain.Repository
	EventSvc billingeventdomain.Service
}

type Service struct {
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   modifierdomain.Repository
	events billingeventdomain.Service
}

func NewService(p Params) modifierdomain.Service {
	return &Service{
		log:    p.Log.Named("modifier.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		events: p.EventSvc,
	}
}

func (s *Service) List(ctx context.Context, req modifierdomain.ListRequest) ([]modifierdomain.Response, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, modifierdomain.ErrInvalidTenant
	}

	items, err := s.repo.List(ctx, tenantID, modifierdomain.ListRequest{
		Kind:      strings.TrimSpace(req.Kind),
		IsEnabled: req.IsEnabled,
	})
	if err != nil {
		return nil, err
	}

	resp := make([]modifierdomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req modifierdomain.CreateRequest) (*modifierdomain.Response, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, modifierdomain.ErrInvalidTenant
	}

	isEnabled := true
	if req.IsEnabled != nil {
		isEnabled = *req.IsEnabled
	}

	now := s.clock.Now()
	record := &modifierdomain.BillingModifier{
		ID:            s.genID.Generate(),
		TenantID:      tenantID,
		Kind:          modifierdomain.Kind(strings.ToUpper(strings.TrimSpace(string(req.Kind)))),
		Label:         strings.TrimSpace(req.Label),
		Pct:           req.Pct,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		IsEnabled:     isEnabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, tenantID, billingeventdomain.EventModifierCreated, record)

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req modifierdomain.UpdateRequest) (*modifierdomain.Response, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, modifierdomain.ErrInvalidTenant
	}

	modifierID, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, modifierdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, tenantID, modifierID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, modifierdomain.ErrNotFound
	}

	if req.Label != nil {
		item.Label = strings.TrimSpace(*req.Label)
	}
	if req.Pct != nil {
		item.Pct = *req.Pct
	}
	if req.EffectiveFrom != nil {
		item.EffectiveFrom = req.EffectiveFrom
	}
	if req.EffectiveTo != nil {
		item.EffectiveTo = req.EffectiveTo
	}
	if req.IsEnabled != nil {
		item.IsEnabled = *req.IsEnabled
	}

	item.UpdatedAt = s.clock.Now()
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, tenantID, billingeventdomain.EventModifierUpdated, item)

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return modifierdomain.ErrInvalidTenant
	}

	modifierID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return modifierdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, tenantID, modifierID)
	if err != nil {
		return err
	}
	if item == nil {
		return modifierdomain.ErrNotFound
	}

	if err := s.repo.Delete(ctx, tenantID, modifierID); err != nil {
		return err
	}
	s.appendEvent(ctx, tenantID, billingeventdomain.EventModifierDeleted, item)
	return nil
}

func (s *Service) appendEvent(ctx context.Context, tenantID snowflake.ID, eventType string, m *modifierdomain.BillingModifier) {
	targetID := m.ID.String()
	err := s.events.Append(ctx, nil, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  eventType,
		TargetType: "billing_modifier",
		TargetID:   &targetID,
		Payload: map[string]any{
			"kind":  string(m.Kind),
			"label": m.Label,
			"pct":   m.Pct,
		},
	})
	if err != nil {
		s.log.Warn("modifier event append failed",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func toResponse(m *modifierdomain.BillingModifier) modifierdomain.Response {
	return modifierdomain.Response{
		ID:            m.ID.String(),
		TenantID:      m.TenantID.String(),
		Kind:          m.Kind,
		Label:         m.Label,
		Pct:           m.Pct,
		EffectiveFrom: m.EffectiveFrom,
		EffectiveTo:   m.EffectiveTo,
		IsEnabled:     m.IsEnabled,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
