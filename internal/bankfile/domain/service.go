package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrBatchNotFound         = errors.New("batch_not_found")
	ErrEmptyFile             = errors.New("empty_file")
	ErrDuplicateImport       = errors.New("duplicate_import")
	ErrControlTotalsMismatch = errors.New("control_totals_mismatch")
	ErrArtifactUnavailable   = errors.New("artifact_unavailable")
)

type BuildOutboundRequest struct {
	// BusinessDate defaults to the current date when nil.
	BusinessDate *time.Time
	Limit        int
}

type BuildOutboundResponse struct {
	// Batch is nil when no attempt was due; nothing is recorded then.
	Batch    *PresentmentBatch
	Totals   ControlTotals
	RowCount int
}

type ImportInboundRequest struct {
	FileName string
	Data     []byte
}

type ImportInboundResponse struct {
	Batch      *PresentmentBatch
	Validation ValidationResult
	Applied    int
	Skipped    int
	Warnings   []string
}

type ListBatchesRequest struct {
	// Direction filters when set; empty lists both.
	Direction Direction
	Limit     int
}

// Service moves money orders across the bank boundary. These are platform
// operations: one file carries every tenant's due collections.
type Service interface {
	BuildOutbound(ctx context.Context, req BuildOutboundRequest) (*BuildOutboundResponse, error)
	ImportInbound(ctx context.Context, req ImportInboundRequest) (*ImportInboundResponse, error)
	ListBatches(ctx context.Context, req ListBatchesRequest) ([]PresentmentBatch, error)
	GetBatchFile(ctx context.Context, id snowflake.ID) (*PresentmentBatch, []byte, error)
	// BuildManifest renders a PDF cover sheet for a recorded batch.
	BuildManifest(ctx context.Context, id snowflake.ID) (*PresentmentBatch, []byte, error)
}
