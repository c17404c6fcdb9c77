package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	"gorm.io/gorm"
)

const methodColumns = `id, tenant_id, subscription_id, method_type, status,
	 holder_name, holder_tax_id, is_default, created_at, updated_at`

const mandateColumns = `id, tenant_id, payment_method_id,
	 encrypted_account_number, account_last4, bank_code, account_fingerprint,
	 consent_version, consent_scopes, consent_ip, consent_at,
	 status, status_reason, activated_at, revoked_at, created_at, updated_at`

type repo struct{}

func Provide() mandatedomain.Repository {
	return &repo{}
}

func (r *repo) FindMethodsBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]mandatedomain.PaymentMethod, error) {
	var methods []mandatedomain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT `+methodColumns+`
		 FROM payment_methods WHERE subscription_id = ?
		 ORDER BY is_default DESC, created_at ASC`,
		subscriptionID,
	).Scan(&methods).Error
	if err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repo) FindDirectDebitMethod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*mandatedomain.PaymentMethod, error) {
	var method mandatedomain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT `+methodColumns+`
		 FROM payment_methods
		 WHERE subscription_id = ? AND method_type = ?
		 ORDER BY id ASC LIMIT 1`,
		subscriptionID,
		mandatedomain.MethodTypeDirectDebit,
	).Scan(&method).Error
	if err != nil {
		return nil, err
	}
	if method.ID == 0 {
		return nil, nil
	}
	return &method, nil
}

func (r *repo) ClearDefaults(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_methods SET is_default = ?, updated_at = ?
		 WHERE subscription_id = ? AND is_default = ?`,
		false,
		updatedAt,
		subscriptionID,
		true,
	).Error
}

func (r *repo) InsertMethod(ctx context.Context, db *gorm.DB, method *mandatedomain.PaymentMethod) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_methods (
			id, tenant_id, subscription_id, method_type, status,
			holder_name, holder_tax_id, is_default, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		method.ID,
		method.TenantID,
		method.SubscriptionID,
		method.MethodType,
		method.Status,
		method.HolderName,
		method.HolderTaxID,
		method.IsDefault,
		method.CreatedAt,
		method.UpdatedAt,
	).Error
}

func (r *repo) UpdateMethod(ctx context.Context, db *gorm.DB, method *mandatedomain.PaymentMethod) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_methods
		 SET status = ?, holder_name = ?, holder_tax_id = ?, is_default = ?, updated_at = ?
		 WHERE id = ?`,
		method.Status,
		method.HolderName,
		method.HolderTaxID,
		method.IsDefault,
		method.UpdatedAt,
		method.ID,
	).Error
}

func (r *repo) FindMandateByMethod(ctx context.Context, db *gorm.DB, methodID snowflake.ID) (*mandatedomain.Mandate, error) {
	var mandate mandatedomain.Mandate
	err := db.WithContext(ctx).Raw(
		`SELECT `+mandateColumns+` FROM mandates WHERE payment_method_id = ?`,
		methodID,
	).Scan(&mandate).Error
	if err != nil {
		return nil, err
	}
	if mandate.ID == 0 {
		return nil, nil
	}
	return &mandate, nil
}

func (r *repo) FindMandateBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*mandatedomain.Mandate, error) {
	var mandate mandatedomain.Mandate
	err := db.WithContext(ctx).Raw(
		`SELECT m.id, m.tenant_id, m.payment_method_id,
		        m.encrypted_account_number, m.account_last4, m.bank_code,
		        m.account_fingerprint, m.consent_version, m.consent_scopes,
		        m.consent_ip, m.consent_at, m.status, m.status_reason,
		        m.activated_at, m.revoked_at, m.created_at, m.updated_at
		 FROM mandates m
		 JOIN payment_methods pm ON pm.id = m.payment_method_id
		 WHERE pm.subscription_id = ? AND pm.method_type = ?
		 ORDER BY m.id ASC LIMIT 1`,
		subscriptionID,
		mandatedomain.MethodTypeDirectDebit,
	).Scan(&mandate).Error
	if err != nil {
		return nil, err
	}
	if mandate.ID == 0 {
		return nil, nil
	}
	return &mandate, nil
}

func (r *repo) InsertMandate(ctx context.Context, db *gorm.DB, mandate *mandatedomain.Mandate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO mandates (
			id, tenant_id, payment_method_id, encrypted_account_number,
			account_last4, bank_code, account_fingerprint, consent_version,
			consent_scopes, consent_ip, consent_at, status, status_reason,
			activated_at, revoked_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mandate.ID,
		mandate.TenantID,
		mandate.PaymentMethodID,
		mandate.EncryptedAccountNumber,
		mandate.AccountLast4,
		mandate.BankCode,
		mandate.AccountFingerprint,
		mandate.ConsentVersion,
		mandate.ConsentScopes,
		mandate.ConsentIP,
		mandate.ConsentAt,
		mandate.Status,
		mandate.StatusReason,
		mandate.ActivatedAt,
		mandate.RevokedAt,
		mandate.CreatedAt,
		mandate.UpdatedAt,
	).Error
}

func (r *repo) UpdateMandate(ctx context.Context, db *gorm.DB, mandate *mandatedomain.Mandate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE mandates
		 SET encrypted_account_number = ?, account_last4 = ?, bank_code = ?,
		     account_fingerprint = ?, consent_version = ?, consent_scopes = ?,
		     consent_ip = ?, consent_at = ?, status = ?, status_reason = ?,
		     activated_at = ?, revoked_at = ?, updated_at = ?
		 WHERE id = ?`,
		mandate.EncryptedAccountNumber,
		mandate.AccountLast4,
		mandate.BankCode,
		mandate.AccountFingerprint,
		mandate.ConsentVersion,
		mandate.ConsentScopes,
		mandate.ConsentIP,
		mandate.ConsentAt,
		mandate.Status,
		mandate.StatusReason,
		mandate.ActivatedAt,
		mandate.RevokedAt,
		mandate.UpdatedAt,
		mandate.ID,
	).Error
}

func (r *repo) TransitionMandateBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, from []mandatedomain.MandateStatus, to mandatedomain.MandateStatus, reason *string, at time.Time) (bool, error) {
	activatedAt := (*time.Time)(nil)
	if to == mandatedomain.MandateStatusActive {
		activatedAt = &at
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE mandates
		 SET status = ?, status_reason = ?,
		     activated_at = COALESCE(activated_at, ?), updated_at = ?
		 WHERE status IN ? AND payment_method_id IN (
			SELECT id FROM payment_methods
			WHERE subscription_id = ? AND method_type = ?
		 )`,
		to,
		reason,
		activatedAt,
		at,
		from,
		subscriptionID,
		mandatedomain.MethodTypeDirectDebit,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) HasCollectibleMandate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM mandates m
		 JOIN payment_methods pm ON pm.id = m.payment_method_id
		 WHERE pm.subscription_id = ?
		   AND pm.method_type = ?
		   AND pm.is_default = ?
		   AND m.status IN ?`,
		subscriptionID,
		mandatedomain.MethodTypeDirectDebit,
		true,
		[]mandatedomain.MandateStatus{
			mandatedomain.MandateStatusPending,
			mandatedomain.MandateStatusActive,
		},
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
