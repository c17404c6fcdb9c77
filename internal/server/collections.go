package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
)

type submitMandateRequest struct {
	HolderName      string `json:"holder_name"`
	HolderTaxID     string `json:"holder_tax_id"`
	AccountNumber   string `json:"account_number"`
	ConsentAccepted bool   `json:"consent_accepted"`
	ConsentVersion  string `json:"consent_version"`
}

func (s *Server) GetCollectionsOverview(c *gin.Context) {
	overview, err := s.collectionsSvc.GetOverview(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": overview})
}

func (s *Server) SubmitMandate(c *gin.Context) {
	var req submitMandateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.mandateSvc.UpsertDirectDebitMandate(c.Request.Context(), mandatedomain.UpsertDirectDebitMandateRequest{
		HolderName:      strings.TrimSpace(req.HolderName),
		HolderTaxID:     strings.TrimSpace(req.HolderTaxID),
		AccountNumber:   strings.TrimSpace(req.AccountNumber),
		ConsentAccepted: req.ConsentAccepted,
		ConsentVersion:  strings.TrimSpace(req.ConsentVersion),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": resp})
}

func (s *Server) RevokeMandate(c *gin.Context) {
	if err := s.mandateSvc.RevokeMandate(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// AdminRevokeMandate is the back-office revoke: same mutation, but gated
// by role and policy instead of subscriber self-service.
func (s *Server) AdminRevokeMandate(c *gin.Context) {
	if err := s.mandateSvc.RevokeMandate(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	methods, err := s.mandateSvc.ListPaymentMethods(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": methods})
}
