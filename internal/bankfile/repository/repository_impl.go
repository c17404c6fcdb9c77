package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	"gorm.io/gorm"
)

const batchColumns = `id, direction, channel, business_date, status, file_name,
	 storage_key, record_count, amount_cents, checksum, warnings,
	 created_at, updated_at`

const batchRowColumns = `id, batch_id, row_hash, line_no, external_reference,
	 amount_cents, result_code, result_message, outcome, created_at`

type repo struct{}

func Provide() bankfiledomain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, batch *bankfiledomain.PresentmentBatch) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO presentment_batches (
			id, direction, channel, business_date, status, file_name,
			storage_key, record_count, amount_cents, checksum, warnings,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.Direction,
		batch.Channel,
		batch.BusinessDate,
		batch.Status,
		batch.FileName,
		batch.StorageKey,
		batch.RecordCount,
		batch.AmountCents,
		batch.Checksum,
		batch.Warnings,
		batch.CreatedAt,
		batch.UpdatedAt,
	).Error
}

func (r *repo) FindBatchByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*bankfiledomain.PresentmentBatch, error) {
	var batch bankfiledomain.PresentmentBatch
	err := db.WithContext(ctx).Raw(
		`SELECT `+batchColumns+` FROM presentment_batches WHERE id = ?`,
		id,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) FindBatchByChecksum(ctx context.Context, db *gorm.DB, direction bankfiledomain.Direction, checksum string) (*bankfiledomain.PresentmentBatch, error) {
	var batch bankfiledomain.PresentmentBatch
	err := db.WithContext(ctx).Raw(
		`SELECT `+batchColumns+`
		 FROM presentment_batches WHERE direction = ? AND checksum = ?
		 ORDER BY id ASC LIMIT 1`,
		direction,
		checksum,
	).Scan(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) ListBatches(ctx context.Context, db *gorm.DB, direction bankfiledomain.Direction, limit int) ([]bankfiledomain.PresentmentBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM presentment_batches`
	args := []any{}
	if direction != "" {
		query += ` WHERE direction = ?`
		args = append(args, direction)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var batches []bankfiledomain.PresentmentBatch
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) InsertRow(ctx context.Context, db *gorm.DB, row *bankfiledomain.PresentmentBatchRow) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO presentment_batch_rows (
			id, batch_id, row_hash, line_no, external_reference,
			amount_cents, result_code, result_message, outcome, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.BatchID,
		row.RowHash,
		row.LineNo,
		row.ExternalReference,
		row.AmountCents,
		row.ResultCode,
		row.ResultMessage,
		row.Outcome,
		row.CreatedAt,
	).Error
}

func (r *repo) ListRowsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]bankfiledomain.PresentmentBatchRow, error) {
	var rows []bankfiledomain.PresentmentBatchRow
	err := db.WithContext(ctx).Raw(
		`SELECT `+batchRowColumns+`
		 FROM presentment_batch_rows WHERE batch_id = ? ORDER BY line_no ASC, id ASC`,
		batchID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) RowHashExists(ctx context.Context, db *gorm.DB, hash string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM presentment_batch_rows WHERE row_hash = ?`,
		hash,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ClaimOutboundCandidates(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]bankfiledomain.OutboundCandidate, error) {
	var candidates []bankfiledomain.OutboundCandidate
	err := db.WithContext(ctx).Raw(
		`SELECT a.id AS attempt_id, a.charge_id, a.tenant_id, c.subscription_id,
		        c.external_reference, c.amount_due_cents AS amount_cents,
		        c.due_date, pm.holder_tax_id, pm.holder_name, m.account_last4
		 FROM attempts a
		 JOIN charges c ON c.id = a.charge_id
		 JOIN payment_methods pm ON pm.subscription_id = c.subscription_id
		      AND pm.method_type = ? AND pm.is_default = ?
		 JOIN mandates m ON m.payment_method_id = pm.id AND m.status IN ?
		 WHERE a.channel = ?
		   AND a.status = ?
		   AND a.batch_id IS NULL
		   AND a.scheduled_for IS NOT NULL AND a.scheduled_for <= ?
		   AND c.status IN ?
		 ORDER BY c.external_reference ASC
		 LIMIT ? FOR UPDATE OF a SKIP LOCKED`,
		mandatedomain.MethodTypeDirectDebit,
		true,
		[]mandatedomain.MandateStatus{
			mandatedomain.MandateStatusPending,
			mandatedomain.MandateStatusActive,
		},
		chargedomain.ChannelDirectDebit,
		chargedomain.AttemptStatusPending,
		asOf,
		[]chargedomain.Status{
			chargedomain.StatusPending,
			chargedomain.StatusRejected,
			chargedomain.StatusError,
		},
		limit,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *repo) FindPresentedPendingAttempt(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (*chargedomain.Attempt, error) {
	var attempt chargedomain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT a.id, a.tenant_id, a.charge_id, a.attempt_no, a.channel, a.status,
		        a.scheduled_for, a.processed_at, a.result_code, a.result_reason,
		        a.batch_id, a.created_at, a.updated_at
		 FROM attempts a
		 WHERE a.charge_id = ? AND a.status = ? AND a.batch_id IS NOT NULL
		 ORDER BY a.attempt_no DESC LIMIT 1`,
		chargeID,
		chargedomain.AttemptStatusPending,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}
