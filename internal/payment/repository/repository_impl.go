package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	"gorm.io/gorm"
)

const intentColumns = `id, tenant_id, charge_id, attempt_id, provider,
	 external_reference, provider_payment_id, idempotency_key, status,
	 payment_url, qr_payload, amount_cents, currency, expires_at, paid_at,
	 created_at, updated_at`

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIntent(ctx context.Context, db *gorm.DB, intent *paymentdomain.FallbackIntent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO fallback_intents (
			id, tenant_id, charge_id, attempt_id, provider,
			external_reference, provider_payment_id, idempotency_key, status,
			payment_url, qr_payload, amount_cents, currency, expires_at,
			paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		intent.ID,
		intent.TenantID,
		intent.ChargeID,
		intent.AttemptID,
		intent.Provider,
		intent.ExternalReference,
		intent.ProviderPaymentID,
		intent.IdempotencyKey,
		intent.Status,
		intent.PaymentURL,
		intent.QRPayload,
		intent.AmountCents,
		intent.Currency,
		intent.ExpiresAt,
		intent.PaidAt,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindIntentByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*paymentdomain.FallbackIntent, error) {
	var intent paymentdomain.FallbackIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM fallback_intents WHERE tenant_id = ? AND id = ?`,
		tenantID,
		id,
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) FindIntentByIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*paymentdomain.FallbackIntent, error) {
	var intent paymentdomain.FallbackIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM fallback_intents
		 WHERE tenant_id = ? AND idempotency_key = ?`,
		tenantID,
		strings.TrimSpace(key),
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) FindIntentByProviderPaymentID(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*paymentdomain.FallbackIntent, error) {
	var intent paymentdomain.FallbackIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM fallback_intents
		 WHERE provider = ? AND provider_payment_id = ?
		 ORDER BY id DESC LIMIT 1`,
		provider,
		strings.TrimSpace(providerPaymentID),
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) FindIntentByExternalReference(ctx context.Context, db *gorm.DB, provider, externalReference string) (*paymentdomain.FallbackIntent, error) {
	var intent paymentdomain.FallbackIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM fallback_intents
		 WHERE provider = ? AND external_reference = ?
		 ORDER BY id DESC LIMIT 1`,
		provider,
		strings.TrimSpace(externalReference),
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) ListIntentsByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]paymentdomain.FallbackIntent, error) {
	var intents []paymentdomain.FallbackIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM fallback_intents
		 WHERE charge_id = ? ORDER BY id DESC`,
		chargeID,
	).Scan(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repo) TransitionIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, from []paymentdomain.IntentStatus, to paymentdomain.IntentStatus, paidAt *time.Time, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE fallback_intents
		 SET status = ?, paid_at = COALESCE(?, paid_at), updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		paidAt,
		updatedAt,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimExpiredIntents(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]paymentdomain.FallbackIntent, error) {
	var intents []paymentdomain.FallbackIntent
	err := db.WithContext(ctx).Raw(
		`SELECT `+intentColumns+` FROM fallback_intents
		 WHERE status IN ? AND expires_at < ?
		 ORDER BY expires_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		paymentdomain.OpenStatuses,
		asOf,
		limit,
	).Scan(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}
