package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     chargedomain.Repository
	SubRepo  subscriptiondomain.Repository
	EventSvc billingeventdomain.Service
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    chargedomain.Repository
	subRepo subscriptiondomain.Repository
	events  billingeventdomain.Service
}

func NewService(p Params) chargedomain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("charge.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		subRepo: p.SubRepo,
		events:  p.EventSvc,
	}
}

func (s *service) CreateExtra(ctx context.Context, req chargedomain.CreateExtraRequest) (*chargedomain.Charge, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, chargedomain.ErrInvalidTenant
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, chargedomain.ErrInvalidDescription
	}
	if req.AmountCents <= 0 {
		return nil, chargedomain.ErrInvalidAmount
	}

	sub, err := s.subRepo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	dueDate := req.DueDate
	if dueDate.IsZero() {
		dueDate = now
	}

	charge := &chargedomain.Charge{
		ID:                   s.genID.Generate(),
		TenantID:             tenantID,
		SubscriptionID:       sub.ID,
		Kind:                 chargedomain.KindExtra,
		Status:               chargedomain.StatusPending,
		ExternalReference:    ulid.Make().String(),
		Description:          &description,
		DueDate:              dueDate,
		AmountDueCents:       req.AmountCents,
		Currency:             chargedomain.PresentmentCurrency,
		ReconciliationStatus: chargedomain.ReconciliationPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	chargeID := charge.ID.String()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertCharge(ctx, tx, charge); err != nil {
			return err
		}
		return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			TenantID:   &tenantID,
			EventType:  billingeventdomain.EventChargeCreated,
			TargetType: "charge",
			TargetID:   &chargeID,
			Payload: map[string]any{
				"kind":               string(charge.Kind),
				"amount_due_cents":   charge.AmountDueCents,
				"currency":           charge.Currency,
				"external_reference": charge.ExternalReference,
				"due_date":           dueDate.Format("2006-01-02"),
			},
		})
	})
	if err != nil {
		s.log.Error("create extra charge failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("extra charge created",
		zap.String("charge_id", chargeID),
		zap.Int64("amount_due_cents", charge.AmountDueCents),
	)
	return charge, nil
}

func (s *service) Get(ctx context.Context, id string) (*chargedomain.Charge, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, chargedomain.ErrInvalidTenant
	}

	chargeID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, chargedomain.ErrInvalidID
	}

	charge, err := s.repo.FindChargeByID(ctx, s.db, tenantID, chargeID)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, chargedomain.ErrChargeNotFound
	}
	return charge, nil
}

func (s *service) List(ctx context.Context, req chargedomain.ListRequest) ([]chargedomain.Charge, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, chargedomain.ErrInvalidTenant
	}

	sub, err := s.subRepo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return []chargedomain.Charge{}, nil
	}

	return s.repo.ListChargesBySubscription(ctx, s.db, sub.ID, req)
}
