package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"gorm.io/gorm"
)

// OutboundCandidate is one due direct-debit attempt joined with the data
// the bank record needs: the charge's reference and amount plus the
// default method's holder and account tail.
type OutboundCandidate struct {
	AttemptID         snowflake.ID
	ChargeID          snowflake.ID
	TenantID          snowflake.ID
	SubscriptionID    snowflake.ID
	ExternalReference string
	AmountCents       int64
	DueDate           time.Time
	HolderTaxID       string
	HolderName        string
	AccountLast4      string
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, batch *PresentmentBatch) error
	FindBatchByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PresentmentBatch, error)
	// FindBatchByChecksum detects whole-file replays on import.
	FindBatchByChecksum(ctx context.Context, db *gorm.DB, direction Direction, checksum string) (*PresentmentBatch, error)
	ListBatches(ctx context.Context, db *gorm.DB, direction Direction, limit int) ([]PresentmentBatch, error)

	InsertRow(ctx context.Context, db *gorm.DB, row *PresentmentBatchRow) error
	ListRowsByBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]PresentmentBatchRow, error)
	// RowHashExists looks across every batch; a settlement line already
	// applied once must never apply again.
	RowHashExists(ctx context.Context, db *gorm.DB, hash string) (bool, error)

	// ClaimOutboundCandidates locks due, unbatched direct-debit attempts
	// whose charge is still collectible and whose subscription has a
	// default direct-debit method with a usable mandate. Rows locked by a
	// concurrent builder are skipped.
	ClaimOutboundCandidates(ctx context.Context, db *gorm.DB, asOf time.Time, limit int) ([]OutboundCandidate, error)

	// FindPresentedPendingAttempt finds the attempt a settlement row
	// answers: the charge's newest pending attempt already carried by an
	// outbound batch.
	FindPresentedPendingAttempt(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (*chargedomain.Attempt, error)
}
