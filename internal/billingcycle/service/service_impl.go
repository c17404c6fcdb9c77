package service

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	billingcycledomain "github.com/rumbosoft/rumbo/internal/billingcycle/domain"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/config"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultBatchSize = 100
	defaultListLimit = 24
	maxListLimit     = 100
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Collections *config.CollectionsConfigHolder
	Repo        billingcycledomain.Repository
	SubSvc      subscriptiondomain.Service
	SubRepo     subscriptiondomain.Repository
	ChargeRepo  chargedomain.Repository
	MandateRepo mandatedomain.Repository
	Modifiers   modifierdomain.Resolver
	EventSvc    billingeventdomain.Service
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	collections *config.CollectionsConfigHolder
	repo        billingcycledomain.Repository
	subSvc      subscriptiondomain.Service
	subRepo     subscriptiondomain.Repository
	chargeRepo  chargedomain.Repository
	mandateRepo mandatedomain.Repository
	modifiers   modifierdomain.Resolver
	events      billingeventdomain.Service
}

func NewService(p Params) billingcycledomain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("billingcycle.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		collections: p.Collections,
		repo:        p.Repo,
		subSvc:      p.SubSvc,
		subRepo:     p.SubRepo,
		chargeRepo:  p.ChargeRepo,
		mandateRepo: p.MandateRepo,
		modifiers:   p.Modifiers,
		events:      p.EventSvc,
	}
}

// MaterializeDue implements domain.Service. The whole batch runs in one
// transaction: the SKIP LOCKED claim keeps concurrent workers off the same
// subscriptions, and the unique (subscription, anchor_date) index is the
// backstop if two drivers race anyway.
func (s *service) MaterializeDue(ctx context.Context, asOf time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}

	created := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		subs, err := s.subRepo.FindDueForMaterialization(ctx, tx, asOf, limit)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			_, wasCreated, err := s.materialize(ctx, tx, sub, asOf)
			if err != nil {
				return err
			}
			if wasCreated {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// MaterializeForSubscription implements domain.Service.
func (s *service) MaterializeForSubscription(ctx context.Context, sub *subscriptiondomain.Subscription, asOf time.Time) (*billingcycledomain.Cycle, bool, error) {
	var (
		cycle   *billingcycledomain.Cycle
		created bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		cycle, created, err = s.materialize(ctx, tx, sub, asOf)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return cycle, created, nil
}

// List implements domain.Service.
func (s *service) List(ctx context.Context, req billingcycledomain.ListRequest) ([]billingcycledomain.Cycle, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, billingcycledomain.ErrInvalidTenant
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByTenant(ctx, s.db, tenantID, limit)
}

// materialize freezes the cycle for the subscription's pending anchor and
// creates its recurring charge, then advances next_anchor_date past the
// anchor just billed. Anchors already materialized are returned unchanged
// so re-runs converge instead of failing.
func (s *service) materialize(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, asOf time.Time) (*billingcycledomain.Cycle, bool, error) {
	if sub == nil || sub.Status != subscriptiondomain.StatusActive || sub.NextAnchorDate == nil {
		return nil, false, billingcycledomain.ErrAnchorNotDue
	}

	loc := sub.Location()
	anchor := sub.NextAnchorDate.In(loc)
	if anchor.After(asOf) {
		return nil, false, billingcycledomain.ErrAnchorNotDue
	}

	anchorMarker := billingcycledomain.DateMarker(anchor, loc)
	existing, err := s.repo.FindBySubscriptionAnchor(ctx, tx, sub.ID, anchorMarker)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		// Another run already froze this anchor; make sure the pointer
		// moved past it so the subscription is not claimed forever.
		if _, err := s.subSvc.RecomputeAnchor(ctx, tx, sub.ID, anchor.AddDate(0, 0, 1)); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	periodStart := anchor
	periodEnd := subscriptiondomain.NextAnchorDate(anchor.AddDate(0, 0, 1), sub.AnchorDay, loc)
	if !periodEnd.After(periodStart) {
		return nil, false, billingcycledomain.ErrInvalidCyclePeriod
	}

	totals, err := s.freezeTotals(ctx, tx, sub, anchor)
	if err != nil {
		return nil, false, err
	}

	cfg := s.collections.Get()
	rateDate := anchorMarker
	if cfg.FX.Date != "" {
		parsed, err := time.Parse("2006-01-02", cfg.FX.Date)
		if err == nil {
			rateDate = parsed.UTC()
		}
	}

	now := s.clock.Now()

	prior, err := s.repo.FindOpenBySubscription(ctx, tx, sub.ID)
	if err != nil {
		return nil, false, err
	}
	if prior != nil && prior.AnchorDate.Before(anchorMarker) {
		if _, err := s.repo.Close(ctx, tx, prior.ID, now); err != nil {
			return nil, false, err
		}
	}

	cycle := &billingcycledomain.Cycle{
		ID:             s.genID.Generate(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		AnchorDate:     anchorMarker,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Status:         billingcycledomain.StatusOpen,
		FXRate:         cfg.FX.Rate,
		FXRateDate:     rateDate,
		TotalUSDCents:  totals.usdCents,
		TotalARSCents:  totals.arsCents(cfg.FX.Rate),
		Modifiers:      totals.snapshot(),
		FrozenAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, tx, cycle); err != nil {
		return nil, false, err
	}

	cycleID := cycle.ID
	charge := &chargedomain.Charge{
		ID:                   s.genID.Generate(),
		TenantID:             sub.TenantID,
		SubscriptionID:       sub.ID,
		CycleID:              &cycleID,
		Kind:                 chargedomain.KindRecurring,
		Status:               chargedomain.StatusPending,
		ExternalReference:    ulid.Make().String(),
		DueDate:              anchor,
		AmountDueCents:       cycle.TotalARSCents,
		Currency:             chargedomain.PresentmentCurrency,
		ReconciliationStatus: chargedomain.ReconciliationPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.chargeRepo.InsertCharge(ctx, tx, charge); err != nil {
		return nil, false, err
	}

	tenantID := sub.TenantID
	cycleIDStr := cycle.ID.String()
	chargeIDStr := charge.ID.String()
	err = s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  billingeventdomain.EventCycleMaterialized,
		TargetType: "billing_cycle",
		TargetID:   &cycleIDStr,
		Payload: map[string]any{
			"anchor_date":     anchorMarker.Format("2006-01-02"),
			"period_start":    periodStart.Format(time.RFC3339),
			"period_end":      periodEnd.Format(time.RFC3339),
			"fx_rate":         cycle.FXRate,
			"total_usd_cents": cycle.TotalUSDCents,
			"total_ars_cents": cycle.TotalARSCents,
		},
	})
	if err != nil {
		return nil, false, err
	}
	err = s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  billingeventdomain.EventChargeCreated,
		TargetType: "charge",
		TargetID:   &chargeIDStr,
		Payload: map[string]any{
			"kind":               string(charge.Kind),
			"amount_due_cents":   charge.AmountDueCents,
			"currency":           charge.Currency,
			"external_reference": charge.ExternalReference,
			"due_date":           anchor.Format("2006-01-02"),
		},
	})
	if err != nil {
		return nil, false, err
	}

	if _, err := s.subSvc.RecomputeAnchor(ctx, tx, sub.ID, anchor.AddDate(0, 0, 1)); err != nil {
		return nil, false, err
	}

	s.log.Info("billing cycle materialized",
		zap.String("tenant_id", tenantID.String()),
		zap.String("cycle_id", cycleIDStr),
		zap.String("anchor_date", anchorMarker.Format("2006-01-02")),
		zap.Int64("total_ars_cents", cycle.TotalARSCents),
	)
	return cycle, true, nil
}

// cycleTotals carries the frozen pricing inputs for one cycle.
type cycleTotals struct {
	usdCents        int64
	taxPct          float64
	discountPct     float64
	mandateDiscount bool
	applied         []map[string]any
}

// freezeTotals prices the cycle: the plan amount folded through the
// tenant's active modifiers, plus the direct-debit incentive as one more
// discount when a collectible mandate is on file.
func (s *service) freezeTotals(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, anchor time.Time) (*cycleTotals, error) {
	totals := &cycleTotals{}

	mods, err := s.modifiers.EffectiveAt(ctx, sub.TenantID, anchor)
	if err != nil {
		return nil, err
	}
	for _, mod := range mods {
		switch mod.Kind {
		case modifierdomain.KindTax:
			totals.taxPct += mod.Pct
		case modifierdomain.KindDiscount:
			totals.discountPct += mod.Pct
		}
		totals.applied = append(totals.applied, map[string]any{
			"kind":  string(mod.Kind),
			"label": mod.Label,
			"pct":   mod.Pct,
		})
	}

	hasMandate, err := s.mandateRepo.HasCollectibleMandate(ctx, tx, sub.ID)
	if err != nil {
		return nil, err
	}
	if hasMandate && sub.DirectDebitDiscountPct > 0 {
		mods = append(mods, modifierdomain.BillingModifier{
			Kind:  modifierdomain.KindDiscount,
			Label: "direct_debit",
			Pct:   sub.DirectDebitDiscountPct,
		})
		totals.discountPct += sub.DirectDebitDiscountPct
		totals.mandateDiscount = true
	}

	totals.usdCents = modifierdomain.ApplyModifiers(sub.PlanAmountCents, mods)
	return totals, nil
}

func (t *cycleTotals) arsCents(fxRate float64) int64 {
	return roundHalfUp(float64(t.usdCents) * fxRate)
}

func (t *cycleTotals) snapshot() datatypes.JSONMap {
	applied := make([]any, 0, len(t.applied))
	for _, mod := range t.applied {
		applied = append(applied, mod)
	}
	return datatypes.JSONMap{
		"tax_pct":               t.taxPct,
		"discount_pct":          t.discountPct,
		"direct_debit_discount": t.mandateDiscount,
		"applied":               applied,
	}
}

// roundHalfUp rounds a non-negative amount to the nearest integer cent.
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
