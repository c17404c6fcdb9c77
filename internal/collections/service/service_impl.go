package service

import (
	"context"

	billingcycledomain "github.com/rumbosoft/rumbo/internal/billingcycle/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	collectionsdomain "github.com/rumbosoft/rumbo/internal/collections/domain"
	"github.com/rumbosoft/rumbo/internal/config"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Collections *config.CollectionsConfigHolder
	SubRepo     subscriptiondomain.Repository
	CycleRepo   billingcycledomain.Repository
	ChargeRepo  chargedomain.Repository
	MandateSvc  mandatedomain.Service
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	collections *config.CollectionsConfigHolder
	subRepo     subscriptiondomain.Repository
	cycleRepo   billingcycledomain.Repository
	chargeRepo  chargedomain.Repository
	mandateSvc  mandatedomain.Service
}

func NewService(p Params) collectionsdomain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("collections.service"),
		clock:       p.Clock,
		collections: p.Collections,
		subRepo:     p.SubRepo,
		cycleRepo:   p.CycleRepo,
		chargeRepo:  p.ChargeRepo,
		mandateSvc:  p.MandateSvc,
	}
}

// GetOverview implements domain.Service. It loads the subscription, the
// latest cycle's charge and attempts, and the live dunning config, then
// hands everything to the pure state machine.
func (s *service) GetOverview(ctx context.Context) (*collectionsdomain.Overview, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, collectionsdomain.ErrInvalidTenant
	}

	cfg := s.collections.Get()
	out := &collectionsdomain.Overview{
		SuspendAfterDays: cfg.SuspendAfterDays,
		RetryOffsetsDays: cfg.RetryOffsetsDays,
	}

	sub, err := s.subRepo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	input := collectionsdomain.StatusInput{
		Now:              s.clock.Now(),
		SuspendAfterDays: cfg.SuspendAfterDays,
	}

	if sub != nil {
		loc := sub.Location()
		input.Location = loc
		out.Subscription = &collectionsdomain.SubscriptionSummary{
			ID:                     sub.ID.String(),
			Status:                 string(sub.Status),
			AnchorDay:              sub.AnchorDay,
			Timezone:               sub.Timezone,
			NextAnchorDate:         sub.NextAnchorDate,
			PlanAmountCents:        sub.PlanAmountCents,
			PlanCurrency:           sub.PlanCurrency,
			DirectDebitDiscountPct: sub.DirectDebitDiscountPct,
		}

		cycle, err := s.cycleRepo.LatestBySubscription(ctx, s.db, sub.ID)
		if err != nil {
			return nil, err
		}
		if cycle != nil {
			out.CurrentCycle = &collectionsdomain.CycleSummary{
				ID:            cycle.ID.String(),
				AnchorDate:    cycle.AnchorDate.Format("2006-01-02"),
				PeriodStart:   cycle.PeriodStart,
				PeriodEnd:     cycle.PeriodEnd,
				Status:        string(cycle.Status),
				FXRate:        cycle.FXRate,
				TotalUSDCents: cycle.TotalUSDCents,
				TotalARSCents: cycle.TotalARSCents,
			}
			anchor := cycle.PeriodStart.In(loc)
			input.AnchorDate = &anchor

			charge, err := s.chargeRepo.FindChargeByCycle(ctx, s.db, cycle.ID)
			if err != nil {
				return nil, err
			}
			if charge != nil {
				attempts, err := s.chargeRepo.FindAttemptsByCharge(ctx, s.db, charge.ID)
				if err != nil {
					return nil, err
				}
				input.HasCharge = true
				input.ChargeStatus = charge.Status
				input.ChargePaidAt = charge.PaidAt
				input.Attempts = attempts
				out.CurrentCharge = chargeSummary(charge, len(attempts))
			}
		}

		methods, err := s.mandateSvc.ListPaymentMethods(ctx)
		if err != nil {
			return nil, err
		}
		for i := range methods {
			if methods[i].IsDefault {
				out.PaymentMethod = &methods[i]
				break
			}
		}
	}

	result := collectionsdomain.ComputeOverviewStatus(input)
	out.Status = result.Status
	out.InCollection = result.InCollection
	out.IsPastDue = result.IsPastDue
	out.IsSuspended = result.IsSuspended
	out.RetriesExhausted = result.RetriesExhausted
	out.NextAttemptAt = result.NextAttemptAt
	out.DaysSinceAnchor = result.DaysSinceAnchor
	return out, nil
}

func chargeSummary(charge *chargedomain.Charge, attemptCount int) *collectionsdomain.ChargeSummary {
	return &collectionsdomain.ChargeSummary{
		ID:                charge.ID.String(),
		ExternalReference: charge.ExternalReference,
		Status:            string(charge.Status),
		DueDate:           charge.DueDate,
		AmountDueCents:    charge.AmountDueCents,
		Currency:          charge.Currency,
		AmountPaidCents:   charge.AmountPaidCents,
		PaidAt:            charge.PaidAt,
		AttemptCount:      attemptCount,
	}
}
