package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	"gorm.io/gorm"
)

// WorkCharge is the claim-time projection of a collectible charge. For a
// recurring charge DueDate is the tenant-local midnight of its anchor
// day; for an extra charge it is whatever the operator set.
type WorkCharge struct {
	ID             snowflake.ID
	TenantID       snowflake.ID
	SubscriptionID snowflake.ID
	Kind           chargedomain.Kind
	Status         chargedomain.Status
	DueDate        time.Time
	Timezone       string
}

// fetchChargesForAttemptWork claims collectible charges that have no
// pending attempt and headroom left on the retry ladder. FOR UPDATE OF c
// keeps two replicas from picking the same charge inside the claim
// window; the unique (charge_id, attempt_no) index is the final arbiter
// either way.
func (s *Scheduler) fetchChargesForAttemptWork(ctx context.Context, tx *gorm.DB, maxAttempts, limit int) ([]WorkCharge, error) {
	if limit <= 0 {
		limit = s.cfg.MaxAttemptBatchSize
	}
	var charges []WorkCharge
	collMetrics := obsmetrics.Collections()
	lockStart := time.Now()
	err := tx.WithContext(ctx).Raw(
		`SELECT c.id, c.tenant_id, c.subscription_id, c.kind, c.status,
		        c.due_date, s.timezone
		 FROM charges c
		 JOIN subscriptions s ON s.id = c.subscription_id
		 WHERE c.status IN (?, ?, ?)
		   AND NOT EXISTS (
		       SELECT 1 FROM attempts a
		       WHERE a.charge_id = c.id AND a.status = ?
		   )
		   AND (SELECT COUNT(1) FROM attempts a2 WHERE a2.charge_id = c.id) < ?
		 ORDER BY c.due_date ASC, c.id ASC
		 LIMIT ?
		 FOR UPDATE OF c SKIP LOCKED`,
		chargedomain.StatusPending,
		chargedomain.StatusRejected,
		chargedomain.StatusError,
		chargedomain.AttemptStatusPending,
		maxAttempts,
		limit,
	).Scan(&charges).Error
	collMetrics.ObserveDBLockWait(obsmetrics.LockResourceChargesForWork, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return charges, nil
}
