package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

type BatchStatus string

const (
	BatchStatusBuilt    BatchStatus = "BUILT"
	BatchStatusImported BatchStatus = "IMPORTED"
)

// PresentmentBatch is the ledger record of one file that crossed the bank
// boundary, either direction. The stored totals let any later rebuild or
// audit be checked against what was actually sent or received.
type PresentmentBatch struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	Direction    Direction      `gorm:"type:text;not null;index"`
	Channel      string         `gorm:"type:text;not null"`
	BusinessDate time.Time      `gorm:"not null"`
	Status       BatchStatus    `gorm:"type:text;not null"`
	FileName     string         `gorm:"type:text;not null"`
	StorageKey   string         `gorm:"type:text;not null"`
	RecordCount  int            `gorm:"not null"`
	AmountCents  int64          `gorm:"not null"`
	Checksum     string         `gorm:"type:text;not null;index"`
	Warnings     pq.StringArray `gorm:"type:text[]"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PresentmentBatch) TableName() string { return "presentment_batches" }

// RowOutcome records what importing (or building) did with one file row.
type RowOutcome string

const (
	RowPresented             RowOutcome = "PRESENTED"
	RowApplied               RowOutcome = "APPLIED"
	RowSkippedDuplicate      RowOutcome = "SKIPPED_DUPLICATE"
	RowSkippedUnknownRef     RowOutcome = "SKIPPED_UNKNOWN_REFERENCE"
	RowSkippedUnknownCode    RowOutcome = "SKIPPED_UNKNOWN_CODE"
	RowSkippedAlreadySettled RowOutcome = "SKIPPED_ALREADY_SETTLED"
)

// PresentmentBatchRow is the per-line ledger. The row hash is unique per
// batch, and looked up across batches to make re-imports of the same
// settlement line a no-op.
type PresentmentBatchRow struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	BatchID           snowflake.ID `gorm:"not null;uniqueIndex:ux_batch_rows_hash,priority:1"`
	RowHash           string       `gorm:"type:text;not null;uniqueIndex:ux_batch_rows_hash,priority:2;index"`
	LineNo            int          `gorm:"not null"`
	ExternalReference string       `gorm:"type:text;not null;index"`
	AmountCents       int64        `gorm:"not null"`
	ResultCode        *string      `gorm:"type:text"`
	ResultMessage     *string      `gorm:"type:text"`
	Outcome           RowOutcome   `gorm:"type:text;not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PresentmentBatchRow) TableName() string { return "presentment_batch_rows" }
