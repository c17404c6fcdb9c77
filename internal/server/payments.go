package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
)

type createIntentRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) CreateChargeIntent(c *gin.Context) {
	chargeID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_charge_id", "invalid charge id"))
		return
	}

	// Body is optional; an empty POST falls back to the default provider.
	var req createIntentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	intent, err := s.paymentSvc.CreateIntentForCharge(c.Request.Context(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID:       chargeID,
		Provider:       strings.TrimSpace(req.Provider),
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": intent.View()})
}

func (s *Server) GetIntent(c *gin.Context) {
	intentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_intent_id", "invalid intent id"))
		return
	}

	intent, err := s.paymentSvc.GetIntent(c.Request.Context(), intentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent.View()})
}

func (s *Server) CancelIntent(c *gin.Context) {
	intentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_intent_id", "invalid intent id"))
		return
	}

	intent, err := s.paymentSvc.CancelIntent(c.Request.Context(), intentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent.View()})
}

// HandlePaymentWebhook ingests provider notifications. Events the provider
// retries or that reference unknown intents acknowledge with 200 so the
// provider stops redelivering; only signature and payload problems reject.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.HandleWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) || errors.Is(err, paymentdomain.ErrIntentNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
