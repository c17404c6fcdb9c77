package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
)

type createExtraChargeRequest struct {
	Description string     `json:"description"`
	AmountCents int64      `json:"amount_cents"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type chargeView struct {
	ID                   string     `json:"id"`
	SubscriptionID       string     `json:"subscription_id"`
	CycleID              *string    `json:"cycle_id,omitempty"`
	Kind                 string     `json:"kind"`
	Status               string     `json:"status"`
	ExternalReference    string     `json:"external_reference"`
	Description          *string    `json:"description,omitempty"`
	DueDate              time.Time  `json:"due_date"`
	AmountDueCents       int64      `json:"amount_due_cents"`
	Currency             string     `json:"currency"`
	AmountPaidCents      *int64     `json:"amount_paid_cents,omitempty"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	ReconciliationStatus string     `json:"reconciliation_status"`
	CreatedAt            time.Time  `json:"created_at"`
}

func viewOfCharge(charge *chargedomain.Charge) chargeView {
	view := chargeView{
		ID:                   charge.ID.String(),
		SubscriptionID:       charge.SubscriptionID.String(),
		Kind:                 string(charge.Kind),
		Status:               string(charge.Status),
		ExternalReference:    charge.ExternalReference,
		Description:          charge.Description,
		DueDate:              charge.DueDate,
		AmountDueCents:       charge.AmountDueCents,
		Currency:             charge.Currency,
		AmountPaidCents:      charge.AmountPaidCents,
		PaidAt:               charge.PaidAt,
		ReconciliationStatus: string(charge.ReconciliationStatus),
		CreatedAt:            charge.CreatedAt,
	}
	if charge.CycleID != nil {
		id := charge.CycleID.String()
		view.CycleID = &id
	}
	return view
}

// CreateExtraCharge records an operator one-off against the tenant's
// subscription. It collects like any other charge: direct debit when a
// mandate exists, fallback intents otherwise.
func (s *Server) CreateExtraCharge(c *gin.Context) {
	var req createExtraChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var dueDate time.Time
	if req.DueDate != nil {
		dueDate = *req.DueDate
	}

	charge, err := s.chargeSvc.CreateExtra(c.Request.Context(), chargedomain.CreateExtraRequest{
		Description: strings.TrimSpace(req.Description),
		AmountCents: req.AmountCents,
		DueDate:     dueDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": viewOfCharge(charge)})
}

func (s *Server) ListCharges(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	charges, err := s.chargeSvc.List(c.Request.Context(), chargedomain.ListRequest{
		Status: strings.ToUpper(strings.TrimSpace(query.Status)),
		Limit:  query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]chargeView, 0, len(charges))
	for i := range charges {
		views = append(views, viewOfCharge(&charges[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"charges": views}})
}

func (s *Server) GetCharge(c *gin.Context) {
	charge, err := s.chargeSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": viewOfCharge(charge)})
}
