package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/config"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/rumbosoft/rumbo/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	clock  clock.Clock
	repo   subscriptiondomain.Repository
	config *config.CollectionsConfigHolder
	events billingeventdomain.Service
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         subscriptiondomain.Repository
	ConfigHolder *config.CollectionsConfigHolder
	EventSvc     billingeventdomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("subscription.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		config: p.ConfigHolder,
		events: p.EventSvc,
	}
}

// EnsureForTenant implements domain.Service.
func (s *Service) EnsureForTenant(ctx context.Context) (*subscriptiondomain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}

	existing, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	cfg := s.config.Get()
	if !subscriptiondomain.ValidAnchorDay(cfg.AnchorDayDefault) {
		return nil, subscriptiondomain.ErrInvalidAnchorDay
	}
	loc, err := time.LoadLocation(cfg.TimezoneDefault)
	if err != nil {
		return nil, subscriptiondomain.ErrInvalidTimezone
	}

	now := s.clock.Now()
	next := subscriptiondomain.NextAnchorDate(now, cfg.AnchorDayDefault, loc)

	sub := &subscriptiondomain.Subscription{
		ID:                     s.genID.Generate(),
		TenantID:               tenantID,
		Status:                 subscriptiondomain.StatusActive,
		AnchorDay:              cfg.AnchorDayDefault,
		Timezone:               cfg.TimezoneDefault,
		DirectDebitDiscountPct: cfg.DirectDebitDiscountPct,
		PlanAmountCents:        cfg.PlanAmountUSDCents,
		PlanCurrency:           "USD",
		NextAnchorDate:         &next,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	subID := sub.ID.String()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, sub); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			TenantID:   &tenantID,
			EventType:  billingeventdomain.EventSubscriptionCreated,
			TargetType: "subscription",
			TargetID:   &subID,
			Payload: map[string]any{
				"anchor_day":       sub.AnchorDay,
				"timezone":         sub.Timezone,
				"plan_amount":      sub.PlanAmountCents,
				"next_anchor_date": next.Format("2006-01-02"),
			},
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Concurrent ensure won the insert; serve its row.
			return s.repo.FindByTenant(ctx, s.db, tenantID)
		}
		s.log.Error("ensure subscription failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subID),
		zap.Int("anchor_day", sub.AnchorDay),
		zap.String("timezone", sub.Timezone),
	)
	return sub, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context) (*subscriptiondomain.Subscription, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, subscriptiondomain.ErrInvalidTenant
	}

	sub, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Cancel implements domain.Service. Canceling an already canceled
// subscription is a no-op.
func (s *Service) Cancel(ctx context.Context) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return subscriptiondomain.ErrInvalidTenant
	}

	sub, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status == subscriptiondomain.StatusCanceled {
		return nil
	}

	now := s.clock.Now()
	subID := sub.ID.String()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.MarkCanceled(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			TenantID:   &tenantID,
			EventType:  billingeventdomain.EventSubscriptionCanceled,
			TargetType: "subscription",
			TargetID:   &subID,
			Payload: map[string]any{
				"canceled_at": now.Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		s.log.Error("cancel subscription failed",
			zap.String("subscription_id", subID),
			zap.Error(err),
		)
		return err
	}

	s.log.Info("subscription canceled", zap.String("subscription_id", subID))
	return nil
}

// RecomputeAnchor implements domain.Service.
func (s *Service) RecomputeAnchor(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, from time.Time) (*subscriptiondomain.Subscription, error) {
	exec := s.db
	if tx != nil {
		exec = tx
	}

	sub, err := s.repo.FindByID(ctx, exec, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status == subscriptiondomain.StatusCanceled {
		return nil, subscriptiondomain.ErrSubscriptionCanceled
	}

	next := subscriptiondomain.NextAnchorDate(from, sub.AnchorDay, sub.Location())
	if err := s.repo.UpdateNextAnchor(ctx, exec, sub.ID, &next, s.clock.Now()); err != nil {
		return nil, err
	}

	sub.NextAnchorDate = &next
	return sub, nil
}
