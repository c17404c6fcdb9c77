package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCharge(ctx context.Context, db *gorm.DB, charge *Charge) error
	FindChargeByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Charge, error)
	// FindChargeByExternalReference is platform-scoped: inbound bank rows
	// carry no tenant.
	FindChargeByExternalReference(ctx context.Context, db *gorm.DB, ref string) (*Charge, error)
	FindChargeByCycle(ctx context.Context, db *gorm.DB, cycleID snowflake.ID) (*Charge, error)
	ListChargesBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, filter ListRequest) ([]Charge, error)
	// TransitionCharge applies the status change only when the current
	// status is in `from`; it reports whether a row changed.
	TransitionCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, updatedAt time.Time) (bool, error)
	MarkChargePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, amountPaidCents int64, paidCurrency string, paidAt time.Time, reconciliation ReconciliationStatus) (bool, error)

	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *Attempt) error
	FindAttemptsByCharge(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) ([]Attempt, error)
	MaxAttemptNo(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (int, error)
	FindAttemptByChargeAndBatch(ctx context.Context, db *gorm.DB, chargeID, batchID snowflake.ID) (*Attempt, error)
	MarkAttemptPresented(ctx context.Context, db *gorm.DB, id, batchID snowflake.ID, updatedAt time.Time) error
	// SettleAttempt records a result on a non-terminal attempt; it reports
	// whether a row changed (false means the attempt was already settled).
	SettleAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, status AttemptStatus, resultCode, resultReason *string, processedAt time.Time) (bool, error)
}
