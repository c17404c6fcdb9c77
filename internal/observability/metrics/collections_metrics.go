package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rumbosoft/rumbo/internal/authorization"
	"gorm.io/gorm"
)

const (
	CollectionsErrorTypeDeadlineExceeded = "deadline_exceeded"
	CollectionsErrorTypeAuthorization    = "authorization"
	CollectionsErrorTypeBusinessRule     = "business_rule"
	CollectionsErrorTypeDB               = "db"
	CollectionsErrorTypeUnknown          = "unknown"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonForbidden            = "forbidden"
	JobReasonUnknown              = "unknown"

	BatchDeferredReasonSkipLockedEmpty = "skip_locked_empty"
)

const (
	LockResourceSubscriptionsForWork   = "subscriptions_for_work"
	LockResourceChargesForWork         = "charges_for_work"
	LockResourceFallbackIntentsForWork = "fallback_intents_for_work"
)

// CollectionsMetrics captures collections pipeline health signals for Cloud
// SLOs: scheduler job outcomes, debit attempt results, and bank file volume.
type CollectionsMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	batchDeferred  *prometheus.CounterVec
	runLoopLag     prometheus.Observer
	attemptResults *prometheus.CounterVec
	bankFileRows   *prometheus.CounterVec
	dbLockWait     *prometheus.HistogramVec

	lockWaitObserver map[string]prometheus.Observer
}

var (
	collectionsMetricsOnce sync.Once
	collectionsMetrics     *CollectionsMetrics
)

// Collections returns the singleton collections metrics registry.
func Collections() *CollectionsMetrics {
	return CollectionsWithConfig(Config{})
}

// CollectionsWithConfig returns the singleton collections metrics registry
// using config labels.
func CollectionsWithConfig(cfg Config) *CollectionsMetrics {
	collectionsMetricsOnce.Do(func() {
		collectionsMetrics = newCollectionsMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return collectionsMetrics
}

// ResetCollectionsMetricsForTest resets the metrics singleton for tests.
func ResetCollectionsMetricsForTest() {
	collectionsMetricsOnce = sync.Once{}
	collectionsMetrics = nil
}

func newCollectionsMetrics(registerer prometheus.Registerer, cfg Config) *CollectionsMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "rumbo"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rumbo_collections_job_runs_total",
		Help:        "Collections scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "rumbo_collections_job_duration_seconds",
		Help:        "Collections job latency to protect presentment cutoffs.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rumbo_collections_job_timeouts_total",
		Help:        "Collections job timeouts that threaten debit presentment SLAs.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rumbo_collections_job_errors_total",
		Help:        "Collections job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rumbo_collections_batch_processed_total",
		Help:        "Collections batch items processed to gauge throughput.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	batchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rumbo_collections_batch_deferred_total",
		Help:        "Collections batch deferrals by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "rumbo_collections_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	attemptResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rumbo_collection_attempts_total",
		Help:        "Collection attempt outcomes by channel.",
		ConstLabels: constLabels,
	}, []string{"channel", "status"})
	bankFileRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rumbo_bank_file_rows_total",
		Help:        "Bank presentment and response file rows by direction.",
		ConstLabels: constLabels,
	}, []string{"direction", "status"})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "rumbo_collections_db_lock_wait_seconds",
		Help:        "DB lock wait time for SELECT FOR UPDATE claims.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		batchDeferred,
		runLoopLag,
		attemptResults,
		bankFileRows,
		dbLockWait,
	)

	lockWaitObserver := map[string]prometheus.Observer{
		LockResourceSubscriptionsForWork:   dbLockWait.WithLabelValues(LockResourceSubscriptionsForWork),
		LockResourceChargesForWork:         dbLockWait.WithLabelValues(LockResourceChargesForWork),
		LockResourceFallbackIntentsForWork: dbLockWait.WithLabelValues(LockResourceFallbackIntentsForWork),
	}

	return &CollectionsMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		batchProcessed:   batchProcessed,
		batchDeferred:    batchDeferred,
		runLoopLag:       runLoopLag,
		attemptResults:   attemptResults,
		bankFileRows:     bankFileRows,
		dbLockWait:       dbLockWait,
		lockWaitObserver: lockWaitObserver,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *CollectionsMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *CollectionsMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *CollectionsMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *CollectionsMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, classifyJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter for a resource by count.
func (m *CollectionsMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 || m.batchProcessed == nil {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// IncBatchDeferred increments the batch deferred counter for a job and reason.
func (m *CollectionsMetrics) IncBatchDeferred(job, reason string) {
	if m == nil || m.batchDeferred == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *CollectionsMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// IncAttemptResult increments attempt outcome counters.
func (m *CollectionsMetrics) IncAttemptResult(channel, status string) {
	if m == nil || m.attemptResults == nil {
		return
	}
	m.attemptResults.WithLabelValues(channel, status).Inc()
}

// AddBankFileRows increments bank file row counters by direction and status.
func (m *CollectionsMetrics) AddBankFileRows(direction, status string, count int) {
	if m == nil || count <= 0 || m.bankFileRows == nil {
		return
	}
	m.bankFileRows.WithLabelValues(direction, status).Add(float64(count))
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *CollectionsMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserver[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifyErrorType returns a low-cardinality error type for logging.
func ClassifyErrorType(err error) string {
	if err == nil {
		return CollectionsErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CollectionsErrorTypeDeadlineExceeded
	}
	if isAuthorizationError(err) {
		return CollectionsErrorTypeAuthorization
	}
	if isDBError(err) {
		return CollectionsErrorTypeDB
	}
	return CollectionsErrorTypeBusinessRule
}

// IsRetryableError reports whether a scheduler job error should be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return isDBError(err)
}

// ClassifyJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	return classifyJobReason(err)
}

func classifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if isAuthorizationError(err) {
		return JobReasonForbidden
	}
	if isDBLockTimeout(err) {
		return JobReasonDBLockTimeout
	}
	if isSerializationFailure(err) {
		return JobReasonSerializationFailure
	}
	if isUniqueViolation(err) {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

func isDBLockTimeout(err error) bool {
	return hasPGCode(err, "55P03")
}

func isSerializationFailure(err error) bool {
	return hasPGCode(err, "40001")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isAuthorizationError(err error) bool {
	return errors.Is(err, authorization.ErrForbidden) ||
		errors.Is(err, authorization.ErrInvalidActor) ||
		errors.Is(err, authorization.ErrInvalidTenant) ||
		errors.Is(err, authorization.ErrInvalidObject) ||
		errors.Is(err, authorization.ErrInvalidAction)
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrRegistered) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) ||
		errors.Is(err, gorm.ErrDryRunModeUnsupported) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
