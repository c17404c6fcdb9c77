// Package authorization gates the admin surface. Tenant identity and
// role arrive pre-verified in the context; this package only decides
// whether that role may perform an action on an object.
package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize resolves the actor from the context and enforces
	// (role, tenant, object, action). A nil return means allowed.
	Authorize(ctx context.Context, object, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	ObjectModifier     = "modifier"
	ObjectBankBatch    = "bank_batch"
	ObjectBillingEvent = "billing_event"
	ObjectSubscription = "subscription"
	ObjectMandate      = "mandate"
	ObjectCharge       = "charge"
)

const (
	ActionModifierView   = "modifier.view"
	ActionModifierCreate = "modifier.create"
	ActionModifierUpdate = "modifier.update"
	ActionModifierDelete = "modifier.delete"

	ActionBankBatchView   = "bank_batch.view"
	ActionBankBatchBuild  = "bank_batch.build"
	ActionBankBatchImport = "bank_batch.import"

	ActionBillingEventView = "billing_event.view"

	ActionSubscriptionView = "subscription.view"

	ActionMandateRevoke = "mandate.revoke"

	ActionChargeView   = "charge.view"
	ActionChargeCreate = "charge.create"
)
