package domain

import (
	"context"
	"errors"
	"time"
)

type UpsertDirectDebitMandateRequest struct {
	HolderName      string `json:"holder_name"`
	HolderTaxID     string `json:"holder_tax_id"`
	AccountNumber   string `json:"account_number"`
	ConsentAccepted bool   `json:"consent_accepted"`
	ConsentVersion  string `json:"consent_version"`
}

// PaymentMethodView is the masked representation returned to callers. The
// plaintext account number never appears in any response after creation.
type PaymentMethodView struct {
	ID            string     `json:"id"`
	MethodType    MethodType `json:"method_type"`
	Status        string     `json:"status"`
	HolderName    string     `json:"holder_name"`
	HolderTaxID   string     `json:"holder_tax_id"`
	IsDefault     bool       `json:"is_default"`
	AccountMasked string     `json:"account_masked,omitempty"`
	BankCode      string     `json:"bank_code,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type UpsertDirectDebitMandateResponse struct {
	PaymentMethod  PaymentMethodView `json:"payment_method"`
	MandateStatus  MandateStatus     `json:"mandate_status"`
	ConsentVersion string            `json:"consent_version"`
	Created        bool              `json:"created"`
}

type Service interface {
	// UpsertDirectDebitMandate validates the CBU, ensures the tenant
	// subscription, and atomically installs the direct-debit method and
	// its mandate as the subscription's default instrument.
	UpsertDirectDebitMandate(ctx context.Context, req UpsertDirectDebitMandateRequest) (*UpsertDirectDebitMandateResponse, error)
	RevokeMandate(ctx context.Context) error
	ListPaymentMethods(ctx context.Context) ([]PaymentMethodView, error)
}

var (
	ErrInvalidTenant        = errors.New("invalid_tenant")
	ErrInvalidAccountNumber = errors.New("invalid_account_number")
	ErrInvalidHolderName    = errors.New("invalid_holder_name")
	ErrInvalidTaxID         = errors.New("invalid_tax_id")
	ErrConsentRequired      = errors.New("consent_required")
	ErrMandateNotFound      = errors.New("mandate_not_found")
	ErrMandateRevoked       = errors.New("mandate_revoked")
)
