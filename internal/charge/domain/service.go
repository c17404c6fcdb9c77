package domain

import (
	"context"
	"errors"
	"time"
)

// PresentmentCurrency is the currency charges are collected in. Plans are
// priced in USD; cycles freeze the conversion at materialization.
const PresentmentCurrency = "ARS"

type CreateExtraRequest struct {
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	DueDate     time.Time `json:"due_date"`
}

type ListRequest struct {
	Status string
	Limit  int
}

type Service interface {
	// CreateExtra records an ad-hoc charge against the tenant's
	// subscription, due on the given date, in the presentment currency.
	CreateExtra(ctx context.Context, req CreateExtraRequest) (*Charge, error)
	Get(ctx context.Context, id string) (*Charge, error)
	List(ctx context.Context, req ListRequest) ([]Charge, error)
}

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidID          = errors.New("invalid_id")
	ErrChargeNotFound     = errors.New("charge_not_found")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidDescription = errors.New("invalid_description")
	ErrChargeImmutable    = errors.New("charge_immutable")
	ErrInvalidTransition  = errors.New("invalid_charge_transition")
)
