package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"gorm.io/gorm"
)

const chargeColumns = `id, tenant_id, subscription_id, cycle_id, kind, status,
	 external_reference, description, due_date, amount_due_cents, currency,
	 amount_paid_cents, paid_currency, paid_at, reconciliation_status,
	 created_at, updated_at`

const attemptColumns = `id, tenant_id, charge_id, attempt_no, channel, status,
	 scheduled_for, processed_at, result_code, result_reason, batch_id,
	 created_at, updated_at`

type repo struct{}

func Provide() chargedomain.Repository {
	return &repo{}
}

func (r *repo) InsertCharge(ctx context.Context, db *gorm.DB, charge *chargedomain.Charge) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO charges (
			id, tenant_id, subscription_id, cycle_id, kind, status,
			external_reference, description, due_date, amount_due_cents,
			currency, amount_paid_cents, paid_currency, paid_at,
			reconciliation_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		charge.ID,
		charge.TenantID,
		charge.SubscriptionID,
		charge.CycleID,
		charge.Kind,
		charge.Status,
		charge.ExternalReference,
		charge.Description,
		charge.DueDate,
		charge.AmountDueCents,
		charge.Currency,
		charge.AmountPaidCents,
		charge.PaidCurrency,
		charge.PaidAt,
		charge.ReconciliationStatus,
		charge.CreatedAt,
		charge.UpdatedAt,
	).Error
}

func (r *repo) FindChargeByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) FindChargeByExternalReference(ctx context.Context, db *gorm.DB, ref string) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE external_reference = ?`,
		strings.TrimSpace(ref),
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) FindChargeByCycle(ctx context.Context, db *gorm.DB, cycleID snowflake.ID) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+`
		 FROM charges WHERE cycle_id = ? AND kind = ?
		 ORDER BY id ASC LIMIT 1`,
		cycleID,
		chargedomain.KindRecurring,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) ListChargesBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, filter chargedomain.ListRequest) ([]chargedomain.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE subscription_id = ?`
	args := []any{subscriptionID}

	if status := strings.TrimSpace(filter.Status); status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY due_date DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	var charges []chargedomain.Charge
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&charges).Error; err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *repo) TransitionCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, from []chargedomain.Status, to chargedomain.Status, updatedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE charges SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		to,
		updatedAt,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkChargePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, amountPaidCents int64, paidCurrency string, paidAt time.Time, reconciliation chargedomain.ReconciliationStatus) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE charges
		 SET status = ?, amount_paid_cents = ?, paid_currency = ?, paid_at = ?,
		     reconciliation_status = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN ?`,
		chargedomain.StatusPaid,
		amountPaidCents,
		paidCurrency,
		paidAt,
		reconciliation,
		paidAt,
		id,
		[]chargedomain.Status{chargedomain.StatusPaid, chargedomain.StatusCanceled},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertAttempt(ctx context.Context, db *gorm.DB, attempt *chargedomain.Attempt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO attempts (
			id, tenant_id, charge_id, attempt_no, channel, status,
			scheduled_for, processed_at, result_code, result_reason, batch_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.TenantID,
		attempt.ChargeID,
		attempt.AttemptNo,
		attempt.Channel,
		attempt.Status,
		attempt.ScheduledFor,
		attempt.ProcessedAt,
		attempt.ResultCode,
		attempt.ResultReason,
		attempt.BatchID,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	).Error
}

func (r *repo) FindAttemptsByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]chargedomain.Attempt, error) {
	var attempts []chargedomain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+`
		 FROM attempts WHERE charge_id = ? ORDER BY attempt_no ASC`,
		chargeID,
	).Scan(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repo) MaxAttemptNo(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (int, error) {
	var max *int
	err := db.WithContext(ctx).Raw(
		`SELECT MAX(attempt_no) FROM attempts WHERE charge_id = ?`,
		chargeID,
	).Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *repo) FindAttemptByChargeAndBatch(ctx context.Context, db *gorm.DB, chargeID, batchID snowflake.ID) (*chargedomain.Attempt, error) {
	var attempt chargedomain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+`
		 FROM attempts WHERE charge_id = ? AND batch_id = ?
		 ORDER BY attempt_no DESC LIMIT 1`,
		chargeID,
		batchID,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repo) MarkAttemptPresented(ctx context.Context, db *gorm.DB, id, batchID snowflake.ID, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE attempts SET batch_id = ?, updated_at = ? WHERE id = ?`,
		batchID,
		updatedAt,
		id,
	).Error
}

func (r *repo) SettleAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, status chargedomain.AttemptStatus, resultCode, resultReason *string, processedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE attempts
		 SET status = ?, result_code = ?, result_reason = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		resultCode,
		resultReason,
		processedAt,
		processedAt,
		id,
		chargedomain.AttemptStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
