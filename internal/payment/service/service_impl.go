package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	"github.com/rumbosoft/rumbo/internal/payment/providers"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// intentTTL bounds how long a payer can sit on an open intent before
	// the local EXPIRED mapping closes it.
	intentTTL = 24 * time.Hour

	defaultExpireLimit = 100
)

// errIntentConflict aborts the creation transaction when the
// (tenant, idempotency_key) insert lost a race; the winner is reloaded.
var errIntentConflict = errors.New("intent_conflict")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	ChargeRepo chargedomain.Repository
	Registry   *providers.Registry
	EventSvc   billingeventdomain.Service
}

type service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	chargeRepo chargedomain.Repository
	registry   *providers.Registry
	events     billingeventdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		chargeRepo: p.ChargeRepo,
		registry:   p.Registry,
		events:     p.EventSvc,
	}
}

func (s *service) CreateIntentForCharge(ctx context.Context, req paymentdomain.CreateIntentForChargeRequest) (*paymentdomain.FallbackIntent, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, paymentdomain.ErrInvalidTenant
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, paymentdomain.ErrInvalidIdempotencyKey
	}

	if existing, err := s.repo.FindIntentByIdempotencyKey(ctx, s.db, tenantID, key); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	charge, err := s.chargeRepo.FindChargeByID(ctx, s.db, tenantID, req.ChargeID)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, paymentdomain.ErrChargeNotFound
	}
	if !chargePayable(charge.Status) {
		return nil, paymentdomain.ErrChargeNotPayable
	}

	provider := s.registry.Resolve(req.Provider)
	now := s.clock.Now()
	expiresAt := now.Add(intentTTL)

	// The provider call happens before the insert; the same
	// X-Idempotency-Key makes a racing retry converge on the provider
	// side, and the unique index converges it here.
	result, err := provider.CreateIntent(ctx, paymentdomain.CreateIntentRequest{
		Charge:            charge,
		AmountCents:       charge.AmountDueCents,
		Currency:          charge.Currency,
		ExternalReference: charge.ExternalReference,
		IdempotencyKey:    key,
		ExpiresAt:         expiresAt,
	})
	if err != nil {
		return nil, err
	}

	status := result.Status
	if !status.Open() {
		status = paymentdomain.IntentStatusCreated
	}
	intent := &paymentdomain.FallbackIntent{
		ID:                s.genID.Generate(),
		TenantID:          tenantID,
		ChargeID:          charge.ID,
		Provider:          provider.Key(),
		ExternalReference: charge.ExternalReference,
		IdempotencyKey:    key,
		Status:            status,
		PaymentURL:        result.PaymentURL,
		QRPayload:         result.QRPayload,
		AmountCents:       charge.AmountDueCents,
		Currency:          charge.Currency,
		ExpiresAt:         expiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if id := strings.TrimSpace(result.ProviderPaymentID); id != "" {
		intent.ProviderPaymentID = &id
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		attempt, err := s.linkFallbackAttempt(ctx, tx, charge, now)
		if err != nil {
			return err
		}
		intent.AttemptID = &attempt.ID

		inserted, err := s.repo.InsertIntent(ctx, tx, intent)
		if err != nil {
			return err
		}
		if !inserted {
			return errIntentConflict
		}

		intentIDStr := intent.ID.String()
		return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			TenantID:   &tenantID,
			EventType:  billingeventdomain.EventIntentCreated,
			TargetType: "fallback_intent",
			TargetID:   &intentIDStr,
			Payload: map[string]any{
				"charge_id":    charge.ID.String(),
				"provider":     intent.Provider,
				"amount_cents": intent.AmountCents,
				"status":       string(intent.Status),
				"expires_at":   expiresAt.Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		if errors.Is(err, errIntentConflict) {
			return s.loadConflictWinner(ctx, tenantID, key)
		}
		return nil, err
	}

	s.log.Info("fallback intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("charge_id", charge.ID.String()),
		zap.String("provider", intent.Provider),
		zap.Int64("amount_cents", intent.AmountCents),
	)
	return intent, nil
}

func (s *service) loadConflictWinner(ctx context.Context, tenantID snowflake.ID, key string) (*paymentdomain.FallbackIntent, error) {
	winner, err := s.repo.FindIntentByIdempotencyKey(ctx, s.db, tenantID, key)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}
	return winner, nil
}

// linkFallbackAttempt reuses the charge's open FALLBACK attempt or
// schedules the next one.
func (s *service) linkFallbackAttempt(ctx context.Context, tx *gorm.DB, charge *chargedomain.Charge, now time.Time) (*chargedomain.Attempt, error) {
	attempts, err := s.chargeRepo.FindAttemptsByCharge(ctx, tx, charge.ID)
	if err != nil {
		return nil, err
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Channel == chargedomain.ChannelFallback &&
			attempts[i].Status == chargedomain.AttemptStatusPending {
			return &attempts[i], nil
		}
	}

	maxNo, err := s.chargeRepo.MaxAttemptNo(ctx, tx, charge.ID)
	if err != nil {
		return nil, err
	}
	attempt := &chargedomain.Attempt{
		ID:           s.genID.Generate(),
		TenantID:     charge.TenantID,
		ChargeID:     charge.ID,
		AttemptNo:    maxNo + 1,
		Channel:      chargedomain.ChannelFallback,
		Status:       chargedomain.AttemptStatusPending,
		ScheduledFor: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.chargeRepo.InsertAttempt(ctx, tx, attempt); err != nil {
		return nil, err
	}

	tenantID := charge.TenantID
	attemptIDStr := attempt.ID.String()
	err = s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  billingeventdomain.EventAttemptScheduled,
		TargetType: "attempt",
		TargetID:   &attemptIDStr,
		Payload: map[string]any{
			"charge_id":  charge.ID.String(),
			"attempt_no": attempt.AttemptNo,
			"channel":    string(attempt.Channel),
		},
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *service) GetIntent(ctx context.Context, intentID snowflake.ID) (*paymentdomain.FallbackIntent, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok {
		return nil, paymentdomain.ErrInvalidTenant
	}
	intent, err := s.repo.FindIntentByID(ctx, s.db, tenantID, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, paymentdomain.ErrIntentNotFound
	}
	return intent, nil
}

func (s *service) PollIntent(ctx context.Context, intentID snowflake.ID) (*paymentdomain.FallbackIntent, error) {
	intent, err := s.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() {
		return intent, nil
	}

	provider := s.registry.Resolve(intent.Provider)
	result, err := provider.GetStatus(ctx, snapshotOf(intent))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := s.mapPolledStatus(result.Status, intent.ExpiresAt, now)
	if status == paymentdomain.IntentStatusPending || status == intent.Status {
		return intent, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.applyIntentOutcome(ctx, tx, intent, status, result.PaidAt, now)
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *service) CancelIntent(ctx context.Context, intentID snowflake.ID) (*paymentdomain.FallbackIntent, error) {
	intent, err := s.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() {
		return intent, nil
	}

	provider := s.registry.Resolve(intent.Provider)
	result, err := provider.Cancel(ctx, snapshotOf(intent))
	if err != nil {
		return nil, err
	}

	// A payment that completed while the cancel was in flight lands as
	// PAID, never silently dropped.
	to := paymentdomain.IntentStatusCanceled
	if result.FinalStatus == paymentdomain.IntentStatusPaid {
		to = paymentdomain.IntentStatusPaid
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.applyIntentOutcome(ctx, tx, intent, to, nil, now)
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

func (s *service) ExpireStaleIntents(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultExpireLimit
	}
	now := s.clock.Now()

	expired := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		intents, err := s.repo.ClaimExpiredIntents(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range intents {
			if err := s.applyIntentOutcome(ctx, tx, &intents[i], paymentdomain.IntentStatusExpired, nil, now); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		s.log.Info("stale fallback intents expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *service) HandleWebhook(ctx context.Context, providerKey string, payload []byte, headers http.Header) error {
	provider, ok := s.registry.Lookup(providerKey)
	if !ok {
		return paymentdomain.ErrProviderNotFound
	}
	hook, ok := provider.(paymentdomain.WebhookAdapter)
	if !ok {
		return paymentdomain.ErrWebhookUnsupported
	}

	if err := hook.VerifyWebhook(payload, headers); err != nil {
		return err
	}
	event, err := hook.ParseWebhook(payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	// Notification payment ids differ from the stored checkout handle;
	// the external reference is the reliable join.
	intent, err := s.repo.FindIntentByProviderPaymentID(ctx, s.db, provider.Key(), event.ProviderPaymentID)
	if err != nil {
		return err
	}
	if intent == nil && event.ExternalReference != "" {
		intent, err = s.repo.FindIntentByExternalReference(ctx, s.db, provider.Key(), event.ExternalReference)
		if err != nil {
			return err
		}
	}
	if intent == nil {
		// Acked so the provider stops retrying a notification we cannot
		// match.
		s.log.Warn("webhook for unknown intent",
			zap.String("provider", provider.Key()),
			zap.String("provider_payment_id", event.ProviderPaymentID),
			zap.String("external_reference", event.ExternalReference),
		)
		return nil
	}
	if intent.Status.Terminal() {
		return nil
	}

	// The payload is only a trigger; the state is re-read from the
	// provider API.
	result, err := provider.GetStatus(ctx, snapshotOf(intent))
	if err != nil {
		return err
	}

	now := s.clock.Now()
	status := s.mapPolledStatus(result.Status, intent.ExpiresAt, now)
	if status == paymentdomain.IntentStatusPending || status == intent.Status {
		return nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.applyIntentOutcome(ctx, tx, intent, status, result.PaidAt, now)
	})
	if err != nil {
		return err
	}

	s.log.Info("webhook applied",
		zap.String("provider", provider.Key()),
		zap.String("intent_id", intent.ID.String()),
		zap.String("status", string(intent.Status)),
	)
	return nil
}

// mapPolledStatus applies the local EXPIRED rule: an overdue intent with
// no terminal provider status expires even though the provider has not
// confirmed it.
func (s *service) mapPolledStatus(status paymentdomain.IntentStatus, expiresAt, now time.Time) paymentdomain.IntentStatus {
	if status == paymentdomain.IntentStatusPending && now.After(expiresAt) {
		return paymentdomain.IntentStatusExpired
	}
	return status
}

// applyIntentOutcome settles the intent, its linked attempt, and the
// charge in the caller's transaction, then mutates the passed struct.
// A compare-and-set on open statuses makes repeated applications no-ops.
func (s *service) applyIntentOutcome(ctx context.Context, tx *gorm.DB, intent *paymentdomain.FallbackIntent, to paymentdomain.IntentStatus, providerPaidAt *time.Time, now time.Time) error {
	var paidAt *time.Time
	if to == paymentdomain.IntentStatusPaid {
		at := now
		if providerPaidAt != nil {
			at = *providerPaidAt
		}
		paidAt = &at
	}

	changed, err := s.repo.TransitionIntent(ctx, tx, intent.ID, paymentdomain.OpenStatuses, to, paidAt, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	tenantID := intent.TenantID
	if intent.AttemptID != nil {
		attemptStatus, reason := attemptOutcomeFor(to)
		code := intent.Provider
		settled, err := s.chargeRepo.SettleAttempt(ctx, tx, *intent.AttemptID, attemptStatus, &code, reason, now)
		if err != nil {
			return err
		}
		if settled {
			obsmetrics.Collections().IncAttemptResult(string(chargedomain.ChannelFallback), string(attemptStatus))
			attemptIDStr := intent.AttemptID.String()
			err := s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
				TenantID:   &tenantID,
				EventType:  billingeventdomain.EventAttemptSettled,
				TargetType: "attempt",
				TargetID:   &attemptIDStr,
				Payload: map[string]any{
					"charge_id": intent.ChargeID.String(),
					"channel":   string(chargedomain.ChannelFallback),
					"status":    string(attemptStatus),
					"provider":  intent.Provider,
				},
			})
			if err != nil {
				return err
			}
		}
	}

	chargeIDStr := intent.ChargeID.String()
	switch to {
	case paymentdomain.IntentStatusPaid:
		chargeChanged, err := s.chargeRepo.MarkChargePaid(ctx, tx, intent.ChargeID,
			intent.AmountCents, intent.Currency, *paidAt, chargedomain.ReconciliationMatched)
		if err != nil {
			return err
		}
		if chargeChanged {
			err := s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
				TenantID:   &tenantID,
				EventType:  billingeventdomain.EventChargePaid,
				TargetType: "charge",
				TargetID:   &chargeIDStr,
				Payload: map[string]any{
					"amount_paid_cents": intent.AmountCents,
					"provider":          intent.Provider,
					"intent_id":         intent.ID.String(),
				},
			})
			if err != nil {
				return err
			}
		}

	case paymentdomain.IntentStatusFailed:
		// A terminal provider failure rejects a still-pending charge so
		// dunning picks it up; bank-presented charges are left to the
		// settlement file.
		chargeChanged, err := s.chargeRepo.TransitionCharge(ctx, tx, intent.ChargeID,
			[]chargedomain.Status{chargedomain.StatusPending},
			chargedomain.StatusRejected, now)
		if err != nil {
			return err
		}
		if chargeChanged {
			err := s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
				TenantID:   &tenantID,
				EventType:  billingeventdomain.EventChargeRejected,
				TargetType: "charge",
				TargetID:   &chargeIDStr,
				Payload: map[string]any{
					"provider":  intent.Provider,
					"intent_id": intent.ID.String(),
				},
			})
			if err != nil {
				return err
			}
		}
	}

	intentIDStr := intent.ID.String()
	err = s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  intentEventFor(to),
		TargetType: "fallback_intent",
		TargetID:   &intentIDStr,
		Payload: map[string]any{
			"charge_id": intent.ChargeID.String(),
			"provider":  intent.Provider,
			"status":    string(to),
		},
	})
	if err != nil {
		return err
	}

	intent.Status = to
	intent.PaidAt = paidAt
	intent.UpdatedAt = now
	return nil
}

func snapshotOf(intent *paymentdomain.FallbackIntent) paymentdomain.IntentSnapshot {
	snap := paymentdomain.IntentSnapshot{
		ExternalReference: intent.ExternalReference,
		AmountCents:       intent.AmountCents,
		Currency:          intent.Currency,
		ExpiresAt:         intent.ExpiresAt,
	}
	if intent.ProviderPaymentID != nil {
		snap.ProviderPaymentID = *intent.ProviderPaymentID
	}
	return snap
}

func chargePayable(status chargedomain.Status) bool {
	switch status {
	case chargedomain.StatusPending, chargedomain.StatusRejected, chargedomain.StatusError:
		return true
	}
	return false
}

func attemptOutcomeFor(status paymentdomain.IntentStatus) (chargedomain.AttemptStatus, *string) {
	reason := func(r string) *string { return &r }
	switch status {
	case paymentdomain.IntentStatusPaid:
		return chargedomain.AttemptStatusPaid, nil
	case paymentdomain.IntentStatusFailed:
		return chargedomain.AttemptStatusRejected, reason("provider_rejected")
	case paymentdomain.IntentStatusExpired:
		return chargedomain.AttemptStatusExpired, reason("intent_expired")
	default:
		return chargedomain.AttemptStatusCanceled, reason("intent_canceled")
	}
}

func intentEventFor(status paymentdomain.IntentStatus) string {
	switch status {
	case paymentdomain.IntentStatusPaid:
		return billingeventdomain.EventIntentPaid
	case paymentdomain.IntentStatusFailed:
		return billingeventdomain.EventIntentFailed
	case paymentdomain.IntentStatusExpired:
		return billingeventdomain.EventIntentExpired
	default:
		return billingeventdomain.EventIntentCanceled
	}
}
