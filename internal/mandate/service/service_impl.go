package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/clock"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	obsmetrics "github.com/rumbosoft/rumbo/internal/observability/metrics"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/rumbosoft/rumbo/internal/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const taxIDLength = 11

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	vault   *vault.Vault
	repo    mandatedomain.Repository
	subs    subscriptiondomain.Service
	events  billingeventdomain.Service
	metrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Vault      *vault.Vault
	Repo       mandatedomain.Repository
	SubSvc     subscriptiondomain.Service
	EventSvc   billingeventdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) mandatedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("mandate.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		vault:   p.Vault,
		repo:    p.Repo,
		subs:    p.SubSvc,
		events:  p.EventSvc,
		metrics: p.ObsMetrics,
	}
}

// UpsertDirectDebitMandate implements domain.Service. The method row, the
// mandate row, the default flip, and the audit events land in one
// transaction; a reader never observes a half-installed instrument.
func (s *Service) UpsertDirectDebitMandate(ctx context.Context, req mandatedomain.UpsertDirectDebitMandateRequest) (*mandatedomain.UpsertDirectDebitMandateResponse, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, mandatedomain.ErrInvalidTenant
	}

	holderName := strings.TrimSpace(req.HolderName)
	if holderName == "" {
		return nil, mandatedomain.ErrInvalidHolderName
	}
	taxID := mandatedomain.NormalizeCBU(req.HolderTaxID)
	if len(taxID) != taxIDLength {
		return nil, mandatedomain.ErrInvalidTaxID
	}
	if !req.ConsentAccepted {
		return nil, mandatedomain.ErrConsentRequired
	}
	consentVersion := strings.TrimSpace(req.ConsentVersion)
	if consentVersion == "" {
		consentVersion = "v1"
	}

	account, err := mandatedomain.ValidateCBU(req.AccountNumber)
	if err != nil {
		s.recordSubmission(ctx, "invalid_account")
		return nil, err
	}

	encrypted, err := s.vault.Encrypt(account)
	if err != nil {
		// Key trouble, not caller trouble. Log without the account.
		s.log.Error("mandate account encryption failed", zap.Error(err))
		s.recordSubmission(ctx, "vault_error")
		return nil, err
	}
	fingerprint := vault.Fingerprint(account)

	sub, err := s.subs.EnsureForTenant(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	consentIP := tenantctx.ClientIPFromContext(ctx)

	var (
		method  *mandatedomain.PaymentMethod
		mandate *mandatedomain.Mandate
		created bool
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.ClearDefaults(ctx, tx, sub.ID, now); err != nil {
			return err
		}

		method, err = s.repo.FindDirectDebitMethod(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		created = method == nil

		if created {
			method = &mandatedomain.PaymentMethod{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				SubscriptionID: sub.ID,
				MethodType:     mandatedomain.MethodTypeDirectDebit,
				Status:         mandatedomain.MethodStatusPending,
				HolderName:     holderName,
				HolderTaxID:    taxID,
				IsDefault:      true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.repo.InsertMethod(ctx, tx, method); err != nil {
				return err
			}
		} else {
			method.Status = mandatedomain.MethodStatusPending
			method.HolderName = holderName
			method.HolderTaxID = taxID
			method.IsDefault = true
			method.UpdatedAt = now
			if err := s.repo.UpdateMethod(ctx, tx, method); err != nil {
				return err
			}
		}

		mandate, err = s.repo.FindMandateByMethod(ctx, tx, method.ID)
		if err != nil {
			return err
		}

		scopes := []string{
			mandatedomain.ConsentScopeDirectDebit,
			mandatedomain.ConsentScopeRecurring,
		}
		if mandate == nil {
			mandate = &mandatedomain.Mandate{
				ID:                     s.genID.Generate(),
				TenantID:               tenantID,
				PaymentMethodID:        method.ID,
				EncryptedAccountNumber: encrypted,
				AccountLast4:           mandatedomain.LastFour(account),
				BankCode:               mandatedomain.BankCode(account),
				AccountFingerprint:     fingerprint,
				ConsentVersion:         consentVersion,
				ConsentScopes:          scopes,
				ConsentIP:              consentIP,
				ConsentAt:              now,
				Status:                 mandatedomain.MandateStatusPending,
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			if err := s.repo.InsertMandate(ctx, tx, mandate); err != nil {
				return err
			}
		} else {
			mandate.EncryptedAccountNumber = encrypted
			mandate.AccountLast4 = mandatedomain.LastFour(account)
			mandate.BankCode = mandatedomain.BankCode(account)
			mandate.AccountFingerprint = fingerprint
			mandate.ConsentVersion = consentVersion
			mandate.ConsentScopes = scopes
			mandate.ConsentIP = consentIP
			mandate.ConsentAt = now
			mandate.Status = mandatedomain.MandateStatusPending
			mandate.StatusReason = nil
			mandate.ActivatedAt = nil
			mandate.RevokedAt = nil
			mandate.UpdatedAt = now
			if err := s.repo.UpdateMandate(ctx, tx, mandate); err != nil {
				return err
			}
		}

		mandateEvent := billingeventdomain.EventMandateUpdated
		if created {
			mandateEvent = billingeventdomain.EventMandateCreated
		}
		mandateID := mandate.ID.String()
		if err := s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			TenantID:   &tenantID,
			EventType:  mandateEvent,
			TargetType: "mandate",
			TargetID:   &mandateID,
			Payload: map[string]any{
				"account_last4":   mandate.AccountLast4,
				"bank_code":       mandate.BankCode,
				"holder_tax_id":   taxID,
				"consent_version": consentVersion,
				"consent_ip":      consentIP,
			},
		}); err != nil {
			return err
		}

		subID := sub.ID.String()
		return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			TenantID:   &tenantID,
			EventType:  billingeventdomain.EventSubscriptionUpdated,
			TargetType: "subscription",
			TargetID:   &subID,
			Payload: map[string]any{
				"default_method": string(mandatedomain.MethodTypeDirectDebit),
			},
		})
	})
	if err != nil {
		s.log.Error("mandate upsert failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err),
		)
		s.recordSubmission(ctx, "error")
		return nil, err
	}

	s.recordSubmission(ctx, "accepted")
	s.log.Info("direct debit mandate upserted",
		zap.String("mandate_id", mandate.ID.String()),
		zap.String("bank_code", mandate.BankCode),
		zap.Bool("created", created),
	)

	return &mandatedomain.UpsertDirectDebitMandateResponse{
		PaymentMethod:  methodView(method, mandate),
		MandateStatus:  mandate.Status,
		ConsentVersion: mandate.ConsentVersion,
		Created:        created,
	}, nil
}

// RevokeMandate implements domain.Service. Revocation keeps the rows (the
// audit trail outlives the instrument) but removes the mandate from every
// collectible path.
func (s *Service) RevokeMandate(ctx context.Context) error {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return mandatedomain.ErrInvalidTenant
	}

	sub, err := s.subs.Get(ctx)
	if err != nil {
		return err
	}

	mandate, err := s.repo.FindMandateBySubscription(ctx, s.db, sub.ID)
	if err != nil {
		return err
	}
	if mandate == nil {
		return mandatedomain.ErrMandateNotFound
	}
	if mandate.Status == mandatedomain.MandateStatusRevoked {
		return mandatedomain.ErrMandateRevoked
	}

	now := s.clock.Now()
	mandateID := mandate.ID.String()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		mandate.Status = mandatedomain.MandateStatusRevoked
		mandate.RevokedAt = &now
		mandate.UpdatedAt = now
		if err := s.repo.UpdateMandate(ctx, tx, mandate); err != nil {
			return err
		}

		method, err := s.repo.FindDirectDebitMethod(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if method != nil {
			method.Status = mandatedomain.MethodStatusRevoked
			method.IsDefault = false
			method.UpdatedAt = now
			if err := s.repo.UpdateMethod(ctx, tx, method); err != nil {
				return err
			}
		}

		return s.events.Append(ctx, tx, billingeventdomain.AppendRequest{
			TenantID:   &tenantID,
			EventType:  billingeventdomain.EventMandateRevoked,
			TargetType: "mandate",
			TargetID:   &mandateID,
			Payload: map[string]any{
				"account_last4": mandate.AccountLast4,
				"revoked_at":    now.Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		s.log.Error("mandate revoke failed", zap.String("mandate_id", mandateID), zap.Error(err))
		return err
	}

	s.log.Info("mandate revoked", zap.String("mandate_id", mandateID))
	return nil
}

// ListPaymentMethods implements domain.Service.
func (s *Service) ListPaymentMethods(ctx context.Context) ([]mandatedomain.PaymentMethodView, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return nil, mandatedomain.ErrInvalidTenant
	}

	sub, err := s.subs.Get(ctx)
	if err != nil {
		return nil, err
	}

	methods, err := s.repo.FindMethodsBySubscription(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}

	views := make([]mandatedomain.PaymentMethodView, 0, len(methods))
	for i := range methods {
		method := &methods[i]
		var mandate *mandatedomain.Mandate
		if method.MethodType == mandatedomain.MethodTypeDirectDebit {
			mandate, err = s.repo.FindMandateByMethod(ctx, s.db, method.ID)
			if err != nil {
				return nil, err
			}
		}
		views = append(views, methodView(method, mandate))
	}
	return views, nil
}

func methodView(method *mandatedomain.PaymentMethod, mandate *mandatedomain.Mandate) mandatedomain.PaymentMethodView {
	view := mandatedomain.PaymentMethodView{
		ID:          method.ID.String(),
		MethodType:  method.MethodType,
		Status:      string(method.Status),
		HolderName:  method.HolderName,
		HolderTaxID: method.HolderTaxID,
		IsDefault:   method.IsDefault,
		CreatedAt:   method.CreatedAt,
	}
	if mandate != nil {
		view.Status = string(mandate.Status)
		view.AccountMasked = mandatedomain.MaskAccountNumber(mandate.AccountLast4)
		view.BankCode = mandate.BankCode
	}
	return view
}

func (s *Service) recordSubmission(ctx context.Context, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordMandateSubmission(ctx, result)
}
