// Package scheduler drives the collections pipeline: it materializes due
// billing cycles, walks charges down the dunning ladder, expires stale
// fallback intents, and optionally cuts presentment files. Every job is
// safe to run repeatedly and on more than one replica at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
	billingcycledomain "github.com/rumbosoft/rumbo/internal/billingcycle/domain"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/cloudmetrics"
	"github.com/rumbosoft/rumbo/internal/config"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	"github.com/rumbosoft/rumbo/internal/ratelimit"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_config")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	CycleSvc    billingcycledomain.Service
	PaymentSvc  paymentdomain.Service
	BankSvc     bankfiledomain.Service
	ChargeRepo  chargedomain.Repository
	MandateRepo mandatedomain.Repository
	EventSvc    billingeventdomain.Service
	Collections *config.CollectionsConfigHolder

	Locker *ratelimit.Locker       `optional:"true"`
	Cloud  *cloudmetrics.Collector `optional:"true"`
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config Config `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	cycleSvc    billingcycledomain.Service
	paymentSvc  paymentdomain.Service
	bankSvc     bankfiledomain.Service
	chargeRepo  chargedomain.Repository
	mandateRepo mandatedomain.Repository
	eventSvc    billingeventdomain.Service
	collections *config.CollectionsConfigHolder
	locker      *ratelimit.Locker
	cloud       *cloudmetrics.Collector
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.CycleSvc == nil || p.PaymentSvc == nil || p.BankSvc == nil || p.ChargeRepo == nil || p.MandateRepo == nil || p.EventSvc == nil || p.Collections == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		cycleSvc:    p.CycleSvc,
		paymentSvc:  p.PaymentSvc,
		bankSvc:     p.BankSvc,
		chargeRepo:  p.ChargeRepo,
		mandateRepo: p.MandateRepo,
		eventSvc:    p.EventSvc,
		collections: p.Collections,
		locker:      p.Locker,
		cloud:       p.Cloud,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = tenantctx.WithActor(ctx, tenantctx.ActorTypeSystem, "scheduler")

	if s.locker != nil {
		token, ok, lockErr := s.locker.TryLock(ctx, jobLeaseKey(name), s.cfg.LockTTL)
		switch {
		case lockErr != nil:
			// Redis being down must not stop collections; run unleased
			// and let SKIP LOCKED plus unique indexes absorb overlap.
			s.log.Warn("job lease unavailable", zap.String("job", name), zap.Error(lockErr))
		case !ok:
			s.log.Debug("job lease held elsewhere", zap.String("job", name))
			return nil
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), jobLeaseKey(name), token); err != nil {
					s.log.Debug("job lease release failed", zap.String("job", name), zap.Error(err))
				}
			}()
		}
	}

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	collMetrics := obsmetrics.Collections()
	collMetrics.IncJobRun(name)

	err := fn(ctx)
	collMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft stop: the next tick resumes where this one
	// left off.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		collMetrics.IncJobTimeout(name)
	}
	collMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func jobLeaseKey(name string) string {
	return "rumbo:scheduler:job:" + name
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"ensure_cycles", s.isJobEnabled("ensure_cycles"), func(ctx context.Context) error {
			return s.runJob(ctx, "ensure_cycles", s.cfg.MaxCycleBatchSize, 30*time.Second, s.EnsureCyclesJob)
		}},
		{"schedule_attempts", s.isJobEnabled("schedule_attempts"), func(ctx context.Context) error {
			return s.runJob(ctx, "schedule_attempts", s.cfg.MaxAttemptBatchSize, 30*time.Second, s.ScheduleAttemptsJob)
		}},
		{"expire_intents", s.isJobEnabled("expire_intents"), func(ctx context.Context) error {
			return s.runJob(ctx, "expire_intents", s.cfg.MaxIntentBatchSize, 30*time.Second, s.ExpireIntentsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	if s.cfg.BuildPresentments && s.isJobEnabled("build_presentments") {
		err = errors.Join(err, s.runJob(parent, "build_presentments", s.cfg.MaxOutboundRows, time.Minute, s.BuildPresentmentsJob))
	}

	if s.cloud != nil && s.isJobEnabled("push_metrics") {
		err = errors.Join(err, s.runJob(parent, "push_metrics", 1, 30*time.Second, s.PushMetricsJob))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	collMetrics := obsmetrics.Collections()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			collMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means monolith mode: everything runs.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// EnsureCyclesJob freezes cycles and recurring charges for every
// subscription whose anchor has arrived. The cycle service claims with
// SKIP LOCKED and skips already-frozen anchors, so draining in a loop is
// safe.
func (s *Scheduler) EnsureCyclesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "ensure_cycles", s.cfg.MaxCycleBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		created, err := s.cycleSvc.MaterializeDue(ctx, now, s.cfg.MaxCycleBatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.cycle.materialize.failed", "ensure_cycles", 0, err)
			return err
		}
		if created == 0 {
			break
		}
		run.AddProcessed(created)
		obsmetrics.Collections().AddBatchProcessed("ensure_cycles", "billing_cycles", created)
	}

	return nil
}

// ScheduleAttemptsJob walks collectible charges down the retry ladder:
// each pass creates at most one pending attempt per charge, placed at
// the charge's due day plus the configured offset for its attempt
// number, on the channel the subscription's mandate coverage dictates.
func (s *Scheduler) ScheduleAttemptsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "schedule_attempts", s.cfg.MaxAttemptBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	offsets := s.collections.Get().RetryOffsetsDays
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		processed, batchErr := s.scheduleAttemptsBatch(ctx, run, now, offsets)
		if batchErr != nil {
			jobErr = errors.Join(jobErr, batchErr)
		}
		if processed == 0 {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) scheduleAttemptsBatch(ctx context.Context, run *jobRun, now time.Time, offsets []int) (int, error) {
	collMetrics := obsmetrics.Collections()
	jobName := "schedule_attempts"

	// Claim the batch in a short transaction; the claim lock drops at
	// commit and the unique attempt index arbitrates from there on.
	var charges []WorkCharge
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var err error
		charges, err = s.fetchChargesForAttemptWork(ctx, tx, len(offsets), s.cfg.MaxAttemptBatchSize)
		return err
	})
	if err != nil {
		collMetrics.IncBatchDeferred(jobName, obsmetrics.ClassifyJobReason(err))
		s.logSchedulerError(ctx, run, "scheduler.attempt.claim.failed", jobName, 0, err)
		return 0, err
	}
	if len(charges) == 0 {
		collMetrics.IncBatchDeferred(jobName, obsmetrics.BatchDeferredReasonSkipLockedEmpty)
		return 0, nil
	}

	processed := 0
	var batchErr error

	for _, charge := range charges {
		if ctx.Err() != nil {
			batchErr = errors.Join(batchErr, ctx.Err())
			collMetrics.IncBatchDeferred(jobName, obsmetrics.ClassifyJobReason(ctx.Err()))
			break
		}

		s.logChargeClaimed(ctx, jobName, charge)

		scheduled := false
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			scheduled, err = s.scheduleAttemptTx(ctx, tx, charge, now, offsets)
			return err
		})
		if txErr != nil {
			batchErr = errors.Join(batchErr, txErr)
			collMetrics.IncBatchDeferred(jobName, obsmetrics.ClassifyJobReason(txErr))
			s.logSchedulerError(ctx, run, "scheduler.attempt.schedule.failed", jobName, charge.TenantID, txErr,
				zap.String("charge_id", idString(charge.ID)),
				zap.String("subscription_id", idString(charge.SubscriptionID)),
			)
			continue
		}
		if !scheduled {
			continue
		}
		processed++
		run.AddProcessed(1)
	}

	if processed > 0 {
		collMetrics.AddBatchProcessed(jobName, "charges", processed)
	}
	return processed, batchErr
}

// scheduleAttemptTx places the next attempt for one claimed charge. It
// reports false without error when the ladder is exhausted or a
// concurrent writer got there first in a way the claim missed.
func (s *Scheduler) scheduleAttemptTx(ctx context.Context, tx *gorm.DB, charge WorkCharge, now time.Time, offsets []int) (bool, error) {
	maxNo, err := s.chargeRepo.MaxAttemptNo(ctx, tx, charge.ID)
	if err != nil {
		return false, err
	}
	nextNo := maxNo + 1
	if nextNo > len(offsets) {
		// Ladder exhausted: the overview reports RETRIES_EXHAUSTED and
		// suspension takes it from here.
		return false, nil
	}

	loc, err := time.LoadLocation(charge.Timezone)
	if err != nil {
		loc = time.UTC
	}
	scheduledFor := localMidnight(charge.DueDate, loc).AddDate(0, 0, offsets[nextNo-1])

	channel := chargedomain.ChannelFallback
	hasMandate, err := s.mandateRepo.HasCollectibleMandate(ctx, tx, charge.SubscriptionID)
	if err != nil {
		return false, err
	}
	if hasMandate {
		channel = chargedomain.ChannelDirectDebit
	}

	attempt := &chargedomain.Attempt{
		ID:           s.genID.Generate(),
		TenantID:     charge.TenantID,
		ChargeID:     charge.ID,
		AttemptNo:    nextNo,
		Channel:      channel,
		Status:       chargedomain.AttemptStatusPending,
		ScheduledFor: &scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.chargeRepo.InsertAttempt(ctx, tx, attempt); err != nil {
		return false, err
	}

	tenantID := charge.TenantID
	chargeIDStr := charge.ID.String()
	if err := s.eventSvc.Append(ctx, tx, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  billingeventdomain.EventAttemptScheduled,
		TargetType: "charge",
		TargetID:   &chargeIDStr,
		Payload: map[string]any{
			"attempt_id":    attempt.ID.String(),
			"attempt_no":    nextNo,
			"channel":       string(channel),
			"scheduled_for": scheduledFor.Format(time.RFC3339),
		},
	}); err != nil {
		return false, err
	}

	return true, nil
}

// ExpireIntentsJob closes fallback intents past their TTL so abandoned
// checkout links do not hold charges open.
func (s *Scheduler) ExpireIntentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "expire_intents", s.cfg.MaxIntentBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		expired, err := s.paymentSvc.ExpireStaleIntents(ctx, s.cfg.MaxIntentBatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.intent.expire.failed", "expire_intents", 0, err)
			return err
		}
		if expired == 0 {
			break
		}
		run.AddProcessed(expired)
		obsmetrics.Collections().AddBatchProcessed("expire_intents", "fallback_intents", expired)
	}

	return nil
}

// BuildPresentmentsJob cuts one outbound presentment file for attempts
// due today. One file per run: the bank window takes a single daily
// submission, and the empty case records nothing.
func (s *Scheduler) BuildPresentmentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "build_presentments", s.cfg.MaxOutboundRows)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	resp, err := s.bankSvc.BuildOutbound(ctx, bankfiledomain.BuildOutboundRequest{Limit: s.cfg.MaxOutboundRows})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.presentment.build.failed", "build_presentments", 0, err)
		return err
	}
	run.AddProcessed(resp.RowCount)
	if resp.Batch != nil {
		s.logger(ctx).Info("presentment batch built",
			zap.String("batch_id", idString(resp.Batch.ID)),
			zap.Int("row_count", resp.RowCount),
			zap.Int64("amount_cents", resp.Totals.AmountCents),
		)
	}

	return nil
}

// PushMetricsJob ships one accounting snapshot to the cloud aggregator.
func (s *Scheduler) PushMetricsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "push_metrics", 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if err := s.cloud.Push(ctx); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.metrics.push.failed", "push_metrics", 0, err)
		return err
	}
	run.AddProcessed(1)

	return nil
}

// localMidnight returns midnight of t's calendar date in loc.
func localMidnight(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
