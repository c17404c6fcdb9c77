package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
)

type createModifierRequest struct {
	Kind          string     `json:"kind"`
	Label         string     `json:"label"`
	Pct           float64    `json:"pct"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsEnabled     *bool      `json:"is_enabled,omitempty"`
}

type updateModifierRequest struct {
	Label         *string    `json:"label,omitempty"`
	Pct           *float64   `json:"pct,omitempty"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsEnabled     *bool      `json:"is_enabled,omitempty"`
}

func (s *Server) CreateModifier(c *gin.Context) {
	var req createModifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.modifierSvc.Create(c.Request.Context(), modifierdomain.CreateRequest{
		Kind:          modifierdomain.Kind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		Label:         strings.TrimSpace(req.Label),
		Pct:           req.Pct,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		IsEnabled:     req.IsEnabled,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListModifiers(c *gin.Context) {
	var query struct {
		Kind    string `form:"kind"`
		Enabled string `form:"enabled"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	enabled, err := parseOptionalBool(query.Enabled)
	if err != nil {
		AbortWithError(c, newValidationError("enabled", "invalid_enabled", "invalid enabled"))
		return
	}

	resp, err := s.modifierSvc.List(c.Request.Context(), modifierdomain.ListRequest{
		Kind:      strings.ToUpper(strings.TrimSpace(query.Kind)),
		IsEnabled: enabled,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateModifier(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	var req updateModifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.modifierSvc.Update(c.Request.Context(), modifierdomain.UpdateRequest{
		ID:            id,
		Label:         trimStringPtr(req.Label),
		Pct:           req.Pct,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		IsEnabled:     req.IsEnabled,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteModifier(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.modifierSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func parseOptionalBool(raw string) (*bool, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return nil, nil
	case "true", "1":
		v := true
		return &v, nil
	case "false", "0":
		v := false
		return &v, nil
	default:
		return nil, ErrInvalidRequest
	}
}

func trimStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	return &trimmed
}
