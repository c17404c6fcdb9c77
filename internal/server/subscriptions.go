package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
)

type subscriptionView struct {
	ID                     string     `json:"id"`
	TenantID               string     `json:"tenant_id"`
	Status                 string     `json:"status"`
	AnchorDay              int        `json:"anchor_day"`
	Timezone               string     `json:"timezone"`
	DirectDebitDiscountPct float64    `json:"direct_debit_discount_pct"`
	PlanAmountCents        int64      `json:"plan_amount_cents"`
	PlanCurrency           string     `json:"plan_currency"`
	NextAnchorDate         *time.Time `json:"next_anchor_date,omitempty"`
	CanceledAt             *time.Time `json:"canceled_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func viewOfSubscription(sub *subscriptiondomain.Subscription) subscriptionView {
	return subscriptionView{
		ID:                     sub.ID.String(),
		TenantID:               sub.TenantID.String(),
		Status:                 string(sub.Status),
		AnchorDay:              sub.AnchorDay,
		Timezone:               sub.Timezone,
		DirectDebitDiscountPct: sub.DirectDebitDiscountPct,
		PlanAmountCents:        sub.PlanAmountCents,
		PlanCurrency:           sub.PlanCurrency,
		NextAnchorDate:         sub.NextAnchorDate,
		CanceledAt:             sub.CanceledAt,
		CreatedAt:              sub.CreatedAt,
		UpdatedAt:              sub.UpdatedAt,
	}
}

func (s *Server) GetSubscriptionDetail(c *gin.Context) {
	sub, err := s.subscriptionSvc.Get(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": viewOfSubscription(sub)})
}

// CancelSubscription stops future cycles; charges already materialized
// keep collecting until their ladder runs out.
func (s *Server) CancelSubscription(c *gin.Context) {
	if err := s.subscriptionSvc.Cancel(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}
