package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/rumbosoft/rumbo/internal/observability/logger"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/zap"
)

// JobRun is the persisted record of one job execution, kept so operators
// can answer "when did attempts last get scheduled" from the database.
type JobRun struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Job            string       `gorm:"type:text;not null;index"`
	BatchSize      int          `gorm:"not null"`
	StartedAt      time.Time    `gorm:"not null"`
	FinishedAt     *time.Time   `gorm:""`
	ProcessedCount int          `gorm:"not null;default:0"`
	ErrorCount     int          `gorm:"not null;default:0"`
}

// TableName sets the database table name.
func (JobRun) TableName() string { return "job_runs" }

type jobRun struct {
	id             snowflake.ID
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	id := s.genID.Generate()
	run := &jobRun{
		id:        id,
		job:       job,
		runID:     id.String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = s.withLogContext(ctx, 0)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withLogContext(ctx context.Context, tenantID snowflake.ID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tenantctx.WithActor(ctx, tenantctx.ActorTypeSystem, "scheduler")
	if tenantID != 0 {
		ctx = tenantctx.WithTenantID(ctx, int64(tenantID))
	}
	return ctx
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.persistJobRunStart(ctx, run)
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.persistJobRunFinish(ctx, run)
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

// persistJobRunStart records the run row. Best effort: bookkeeping must
// never fail a job, and unit tests run without a database.
func (s *Scheduler) persistJobRunStart(ctx context.Context, run *jobRun) {
	if s.db == nil || run == nil {
		return
	}
	record := JobRun{
		ID:        run.id,
		Job:       run.job,
		BatchSize: run.batchSize,
		StartedAt: run.startedAt,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.log.Debug("job run insert failed", zap.String("run_id", run.runID), zap.Error(err))
	}
}

func (s *Scheduler) persistJobRunFinish(ctx context.Context, run *jobRun) {
	if s.db == nil || run == nil {
		return
	}
	// The run context may already be past its deadline when a job timed
	// out; the final update still has to land.
	ctx = context.WithoutCancel(ctx)
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE job_runs
		 SET finished_at = ?, processed_count = ?, error_count = ?
		 WHERE id = ?`,
		time.Now(),
		run.processedCount,
		run.errorCount,
		run.id,
	).Error; err != nil {
		s.log.Debug("job run update failed", zap.String("run_id", run.runID), zap.Error(err))
	}
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, tenantID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	if run != nil {
		run.IncError()
	}
	ctx = s.withLogContext(ctx, tenantID)
	errorType := obsmetrics.ClassifyErrorType(err)
	retryable := obsmetrics.IsRetryableError(err)
	baseFields := []zap.Field{
		zap.String("job", job),
		zap.String("tenant_id", idString(tenantID)),
		zap.String("error_type", errorType),
		zap.String("error", err.Error()),
		zap.Bool("retryable", retryable),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

func (s *Scheduler) logChargeClaimed(ctx context.Context, job string, charge WorkCharge) {
	ctx = s.withLogContext(ctx, charge.TenantID)
	s.logger(ctx).Debug("scheduler.charge.claimed",
		zap.String("job", job),
		zap.String("charge_id", idString(charge.ID)),
		zap.String("tenant_id", idString(charge.TenantID)),
		zap.String("subscription_id", idString(charge.SubscriptionID)),
		zap.String("status", string(charge.Status)),
		zap.String("kind", string(charge.Kind)),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
