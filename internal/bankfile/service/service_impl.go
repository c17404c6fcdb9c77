package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/rumbosoft/rumbo/internal/artifact"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/config"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultClaimLimit = 500
	defaultListLimit  = 50
	maxListLimit      = 200
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        bankfiledomain.Repository
	ChargeRepo  chargedomain.Repository
	MandateRepo mandatedomain.Repository
	Artifacts   artifact.Store
	EventSvc    billingeventdomain.Service
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	repo        bankfiledomain.Repository
	chargeRepo  chargedomain.Repository
	mandateRepo mandatedomain.Repository
	artifacts   artifact.Store
	events      billingeventdomain.Service
}

func NewService(p Params) bankfiledomain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("bankfile.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Config,
		repo:        p.Repo,
		chargeRepo:  p.ChargeRepo,
		mandateRepo: p.MandateRepo,
		artifacts:   p.Artifacts,
		events:      p.EventSvc,
	}
}

// BuildOutbound claims every due direct-debit attempt and freezes them
// into one presentment file. Claim, file build, batch ledger, charge
// transitions and events land in a single transaction; the artifact write
// happens before commit so a stored batch always has its file.
func (s *service) BuildOutbound(ctx context.Context, req bankfiledomain.BuildOutboundRequest) (*bankfiledomain.BuildOutboundResponse, error) {
	now := s.clock.Now()
	businessDate := now
	if req.BusinessDate != nil {
		businessDate = *req.BusinessDate
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultClaimLimit
	}

	resp := &bankfiledomain.BuildOutboundResponse{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		candidates, err := s.repo.ClaimOutboundCandidates(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		header := bankfiledomain.FileHeader{
			Version:      s.cfg.Bank.FileVersion,
			BusinessDate: businessDate,
			Channel:      string(chargedomain.ChannelDirectDebit),
			Company:      s.cfg.Bank.CompanyCode,
		}
		rows := make([]bankfiledomain.OutboundRow, 0, len(candidates))
		for _, cand := range candidates {
			rows = append(rows, bankfiledomain.OutboundRow{
				ExternalReference: cand.ExternalReference,
				AmountCents:       cand.AmountCents,
				HolderTaxID:       cand.HolderTaxID,
				HolderName:        cand.HolderName,
				AccountLast4:      cand.AccountLast4,
				DueDate:           cand.DueDate,
			})
		}
		file, totals, err := bankfiledomain.BuildOutboundFile(header, rows)
		if err != nil {
			return err
		}

		digest := artifact.Digest(file)
		storageKey := fmt.Sprintf("bank/outbound/%s/%s.txt",
			businessDate.Format("20060102"), digest)
		fileName := fmt.Sprintf("%s-%s-%s.txt",
			slug.Make(header.Channel), businessDate.Format("20060102"), digest[:12])

		if err := s.artifacts.Put(ctx, storageKey, file, "text/plain"); err != nil {
			return fmt.Errorf("%w: %v", bankfiledomain.ErrArtifactUnavailable, err)
		}

		batch := &bankfiledomain.PresentmentBatch{
			ID:           s.genID.Generate(),
			Direction:    bankfiledomain.DirectionOutbound,
			Channel:      header.Channel,
			BusinessDate: dateMarker(businessDate),
			Status:       bankfiledomain.BatchStatusBuilt,
			FileName:     fileName,
			StorageKey:   storageKey,
			RecordCount:  totals.RecordCount,
			AmountCents:  totals.AmountCents,
			Checksum:     totals.Checksum,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}

		// Candidates come back ordered by external reference, the same
		// order BuildOutboundFile renders, so ledger line numbers line up
		// with the file (header is line 1).
		for i, cand := range candidates {
			if err := s.chargeRepo.MarkAttemptPresented(ctx, tx, cand.AttemptID, batch.ID, now); err != nil {
				return err
			}
			if _, err := s.chargeRepo.TransitionCharge(ctx, tx, cand.ChargeID,
				[]chargedomain.Status{
					chargedomain.StatusPending,
					chargedomain.StatusRejected,
					chargedomain.StatusError,
				},
				chargedomain.StatusPresented, now); err != nil {
				return err
			}

			record := &bankfiledomain.PresentmentBatchRow{
				ID:                s.genID.Generate(),
				BatchID:           batch.ID,
				RowHash:           bankfiledomain.OutboundRowHash(rows[i]),
				LineNo:            i + 2,
				ExternalReference: cand.ExternalReference,
				AmountCents:       cand.AmountCents,
				Outcome:           bankfiledomain.RowPresented,
				CreatedAt:         now,
			}
			if err := s.repo.InsertRow(ctx, tx, record); err != nil {
				return err
			}

			tenantID := cand.TenantID
			chargeIDStr := cand.ChargeID.String()
			err := s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
				TenantID:   &tenantID,
				EventType:  billingeventdomain.EventChargePresented,
				TargetType: "charge",
				TargetID:   &chargeIDStr,
				Payload: map[string]any{
					"batch_id":           batch.ID.String(),
					"attempt_id":         cand.AttemptID.String(),
					"amount_cents":       cand.AmountCents,
					"external_reference": cand.ExternalReference,
					"due_date":           cand.DueDate.Format("2006-01-02"),
				},
			})
			if err != nil {
				return err
			}
		}

		batchIDStr := batch.ID.String()
		err = s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			EventType:  billingeventdomain.EventBankBatchBuilt,
			TargetType: "presentment_batch",
			TargetID:   &batchIDStr,
			Payload: map[string]any{
				"business_date": batch.BusinessDate.Format("2006-01-02"),
				"record_count":  totals.RecordCount,
				"amount_cents":  totals.AmountCents,
				"checksum":      totals.Checksum,
				"file_name":     fileName,
			},
		})
		if err != nil {
			return err
		}

		resp.Batch = batch
		resp.Totals = totals
		resp.RowCount = totals.RecordCount
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.Batch != nil {
		obsmetrics.Collections().AddBankFileRows("outbound", "presented", resp.RowCount)
		s.log.Info("outbound presentment batch built",
			zap.String("batch_id", resp.Batch.ID.String()),
			zap.Int("rows", resp.RowCount),
			zap.Int64("amount_cents", resp.Totals.AmountCents),
			zap.String("file_name", resp.Batch.FileName),
		)
	}
	return resp, nil
}

// ImportInbound applies one settlement file. Structure and control totals
// are verified before anything mutates; each already-seen row (by hash)
// is skipped, and every applied row settles its attempt, moves its charge
// and adjusts the mandate when the code calls for it — all in one
// transaction.
func (s *service) ImportInbound(ctx context.Context, req bankfiledomain.ImportInboundRequest) (*bankfiledomain.ImportInboundResponse, error) {
	if len(bytes.TrimSpace(req.Data)) == 0 {
		return nil, bankfiledomain.ErrEmptyFile
	}

	parsed, err := bankfiledomain.ParseInboundFile(req.Data)
	if err != nil {
		return nil, err
	}
	validation := bankfiledomain.ValidateInboundControlTotals(parsed)
	if !validation.OK {
		s.log.Warn("inbound file rejected on control totals",
			zap.Strings("errors", validation.Errors),
		)
		return &bankfiledomain.ImportInboundResponse{Validation: validation}, bankfiledomain.ErrControlTotalsMismatch
	}

	if existing, err := s.repo.FindBatchByChecksum(ctx, s.db, bankfiledomain.DirectionInbound, parsed.Computed.Checksum); err != nil {
		return nil, err
	} else if existing != nil {
		return &bankfiledomain.ImportInboundResponse{Batch: existing, Validation: validation}, bankfiledomain.ErrDuplicateImport
	}

	now := s.clock.Now()
	digest := artifact.Digest(req.Data)
	storageKey := fmt.Sprintf("bank/inbound/%s/%s.txt",
		parsed.Header.BusinessDate.Format("20060102"), digest)
	if err := s.artifacts.Put(ctx, storageKey, req.Data, "text/plain"); err != nil {
		return nil, fmt.Errorf("%w: %v", bankfiledomain.ErrArtifactUnavailable, err)
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = fmt.Sprintf("%s-%s-%s.txt",
			slug.Make(parsed.Header.Channel),
			parsed.Header.BusinessDate.Format("20060102"), digest[:12])
	}

	resp := &bankfiledomain.ImportInboundResponse{Validation: validation}
	warnings := append([]string{}, parsed.Warnings...)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		batch := &bankfiledomain.PresentmentBatch{
			ID:           s.genID.Generate(),
			Direction:    bankfiledomain.DirectionInbound,
			Channel:      parsed.Header.Channel,
			BusinessDate: dateMarker(parsed.Header.BusinessDate),
			Status:       bankfiledomain.BatchStatusImported,
			FileName:     fileName,
			StorageKey:   storageKey,
			RecordCount:  parsed.Computed.RecordCount,
			AmountCents:  parsed.Computed.AmountCents,
			Checksum:     parsed.Computed.Checksum,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		applied := 0
		records := make([]*bankfiledomain.PresentmentBatchRow, 0, len(parsed.Rows))
		for _, row := range parsed.Rows {
			outcome, warn, err := s.applyInboundRow(ctx, tx, row, now)
			if err != nil {
				return err
			}
			if warn != "" {
				warnings = append(warnings, warn)
			}
			if outcome == bankfiledomain.RowApplied {
				applied++
			}

			code := row.ResultCode
			message := row.ResultMessage
			records = append(records, &bankfiledomain.PresentmentBatchRow{
				ID:                s.genID.Generate(),
				BatchID:           batch.ID,
				RowHash:           row.RowHash,
				LineNo:            row.LineNo,
				ExternalReference: row.ExternalReference,
				AmountCents:       row.AmountCents,
				ResultCode:        &code,
				ResultMessage:     &message,
				Outcome:           outcome,
				CreatedAt:         now,
			})
		}

		batch.Warnings = warnings
		if err := s.repo.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}
		for _, record := range records {
			if err := s.repo.InsertRow(ctx, tx, record); err != nil {
				return err
			}
		}

		batchIDStr := batch.ID.String()
		err := s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			EventType:  billingeventdomain.EventBankBatchImported,
			TargetType: "presentment_batch",
			TargetID:   &batchIDStr,
			Payload: map[string]any{
				"business_date": batch.BusinessDate.Format("2006-01-02"),
				"record_count":  batch.RecordCount,
				"amount_cents":  batch.AmountCents,
				"applied":       applied,
				"skipped":       len(parsed.Rows) - applied,
				"warnings":      len(warnings),
			},
		})
		if err != nil {
			return err
		}

		resp.Batch = batch
		resp.Applied = applied
		resp.Skipped = len(parsed.Rows) - applied
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.Warnings = warnings
	obsmetrics.Collections().AddBankFileRows("inbound", "applied", resp.Applied)
	obsmetrics.Collections().AddBankFileRows("inbound", "skipped", resp.Skipped)
	s.log.Info("inbound settlement file imported",
		zap.String("batch_id", resp.Batch.ID.String()),
		zap.Int("applied", resp.Applied),
		zap.Int("skipped", resp.Skipped),
		zap.Int("warnings", len(warnings)),
	)
	return resp, nil
}

// applyInboundRow settles one result line. Unknown references, unknown
// codes and replayed rows are skipped with a warning; nothing about them
// mutates. Returns the ledger outcome for the row.
func (s *service) applyInboundRow(ctx context.Context, tx *gorm.DB, row bankfiledomain.InboundRow, now time.Time) (bankfiledomain.RowOutcome, string, error) {
	seen, err := s.repo.RowHashExists(ctx, tx, row.RowHash)
	if err != nil {
		return "", "", err
	}
	if seen {
		return bankfiledomain.RowSkippedDuplicate,
			fmt.Sprintf("line %d: row already imported", row.LineNo), nil
	}

	charge, err := s.chargeRepo.FindChargeByExternalReference(ctx, tx, row.ExternalReference)
	if err != nil {
		return "", "", err
	}
	if charge == nil {
		return bankfiledomain.RowSkippedUnknownRef,
			fmt.Sprintf("line %d: unknown external reference %q", row.LineNo, row.ExternalReference), nil
	}

	if row.Mapping.Status == bankfiledomain.ResultUnknown {
		return bankfiledomain.RowSkippedUnknownCode,
			fmt.Sprintf("line %d: unknown result code %q", row.LineNo, row.ResultCode), nil
	}

	attempt, err := s.repo.FindPresentedPendingAttempt(ctx, tx, charge.ID)
	if err != nil {
		return "", "", err
	}

	attemptStatus := attemptStatusFor(row.Mapping.Status)
	code := row.ResultCode
	var reason *string
	if row.Mapping.Reason != "" {
		r := row.Mapping.Reason
		reason = &r
	}

	attemptChanged := false
	if attempt != nil {
		attemptChanged, err = s.chargeRepo.SettleAttempt(ctx, tx, attempt.ID, attemptStatus, &code, reason, now)
		if err != nil {
			return "", "", err
		}
		if attemptChanged {
			obsmetrics.Collections().IncAttemptResult(string(attempt.Channel), string(attemptStatus))
			attemptIDStr := attempt.ID.String()
			tenantID := attempt.TenantID
			err := s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
				TenantID:   &tenantID,
				EventType:  billingeventdomain.EventAttemptSettled,
				TargetType: "attempt",
				TargetID:   &attemptIDStr,
				Payload: map[string]any{
					"charge_id":      charge.ID.String(),
					"attempt_no":     attempt.AttemptNo,
					"status":         string(attemptStatus),
					"result_code":    row.ResultCode,
					"result_message": row.ResultMessage,
				},
			})
			if err != nil {
				return "", "", err
			}
		}
	}

	chargeChanged := false
	switch row.Mapping.Status {
	case bankfiledomain.ResultPaid:
		reconciliation := chargedomain.ReconciliationMatched
		if row.AmountCents != charge.AmountDueCents {
			reconciliation = chargedomain.ReconciliationMismatched
		}
		chargeChanged, err = s.chargeRepo.MarkChargePaid(ctx, tx, charge.ID,
			row.AmountCents, chargedomain.PresentmentCurrency, row.SettledDate, reconciliation)
		if err != nil {
			return "", "", err
		}
		if chargeChanged {
			if err := s.appendChargeEvent(ctx, tx, charge, billingeventdomain.EventChargePaid, map[string]any{
				"amount_paid_cents": row.AmountCents,
				"settled_date":      row.SettledDate.Format("2006-01-02"),
				"reconciliation":    string(reconciliation),
				"result_code":       row.ResultCode,
			}); err != nil {
				return "", "", err
			}
			// First successful debit confirms the adhesion.
			activated, err := s.mandateRepo.TransitionMandateBySubscription(ctx, tx, charge.SubscriptionID,
				[]mandatedomain.MandateStatus{mandatedomain.MandateStatusPending},
				mandatedomain.MandateStatusActive, nil, now)
			if err != nil {
				return "", "", err
			}
			if activated {
				if err := s.appendMandateEvent(ctx, tx, charge, billingeventdomain.EventMandateActivated, map[string]any{
					"result_code": row.ResultCode,
				}); err != nil {
					return "", "", err
				}
			}
		}

	case bankfiledomain.ResultRejected:
		chargeChanged, err = s.chargeRepo.TransitionCharge(ctx, tx, charge.ID,
			[]chargedomain.Status{chargedomain.StatusPresented, chargedomain.StatusPending},
			chargedomain.StatusRejected, now)
		if err != nil {
			return "", "", err
		}
		if chargeChanged {
			if err := s.appendChargeEvent(ctx, tx, charge, billingeventdomain.EventChargeRejected, map[string]any{
				"result_code":    row.ResultCode,
				"result_reason":  row.Mapping.Reason,
				"result_message": row.ResultMessage,
			}); err != nil {
				return "", "", err
			}
		}
		// The bank says the adhesion itself is dead, not just this debit.
		if row.ResultCode == bankfiledomain.CodeMandateInvalid {
			rejected, err := s.mandateRepo.TransitionMandateBySubscription(ctx, tx, charge.SubscriptionID,
				[]mandatedomain.MandateStatus{
					mandatedomain.MandateStatusPending,
					mandatedomain.MandateStatusActive,
				},
				mandatedomain.MandateStatusRejected, reason, now)
			if err != nil {
				return "", "", err
			}
			if rejected {
				if err := s.appendMandateEvent(ctx, tx, charge, billingeventdomain.EventMandateRejected, map[string]any{
					"result_code":   row.ResultCode,
					"result_reason": row.Mapping.Reason,
				}); err != nil {
					return "", "", err
				}
			}
		}

	case bankfiledomain.ResultError:
		chargeChanged, err = s.chargeRepo.TransitionCharge(ctx, tx, charge.ID,
			[]chargedomain.Status{chargedomain.StatusPresented, chargedomain.StatusPending},
			chargedomain.StatusError, now)
		if err != nil {
			return "", "", err
		}
	}

	if !attemptChanged && !chargeChanged {
		return bankfiledomain.RowSkippedAlreadySettled,
			fmt.Sprintf("line %d: charge %s already settled", row.LineNo, row.ExternalReference), nil
	}
	return bankfiledomain.RowApplied, "", nil
}

func (s *service) appendChargeEvent(ctx context.Context, tx *gorm.DB, charge *chargedomain.Charge, eventType string, payload map[string]any) error {
	tenantID := charge.TenantID
	chargeIDStr := charge.ID.String()
	return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  eventType,
		TargetType: "charge",
		TargetID:   &chargeIDStr,
		Payload:    payload,
	})
}

func (s *service) appendMandateEvent(ctx context.Context, tx *gorm.DB, charge *chargedomain.Charge, eventType string, payload map[string]any) error {
	tenantID := charge.TenantID
	subIDStr := charge.SubscriptionID.String()
	return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  eventType,
		TargetType: "subscription",
		TargetID:   &subIDStr,
		Payload:    payload,
	})
}

func (s *service) ListBatches(ctx context.Context, req bankfiledomain.ListBatchesRequest) ([]bankfiledomain.PresentmentBatch, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListBatches(ctx, s.db, req.Direction, limit)
}

func (s *service) GetBatchFile(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error) {
	batch, err := s.repo.FindBatchByID(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	if batch == nil {
		return nil, nil, bankfiledomain.ErrBatchNotFound
	}
	data, err := s.artifacts.Get(ctx, batch.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", bankfiledomain.ErrArtifactUnavailable, err)
	}
	return batch, data, nil
}

func attemptStatusFor(status bankfiledomain.ResultStatus) chargedomain.AttemptStatus {
	switch status {
	case bankfiledomain.ResultPaid:
		return chargedomain.AttemptStatusPaid
	case bankfiledomain.ResultRejected:
		return chargedomain.AttemptStatusRejected
	default:
		return chargedomain.AttemptStatusError
	}
}

// dateMarker is the UTC midnight of a timestamp's calendar date; batch
// business dates are stored as date markers like cycle anchors.
func dateMarker(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
