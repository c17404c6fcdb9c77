package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/zap"
)

// Tenant identity arrives pre-resolved: the edge gateway authenticates the
// subscriber or back-office user and forwards these headers. Rumbo trusts
// them the way it trusts its own database.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// TenantContext moves the gateway headers into the request context. A
// self-hosted install without a gateway falls back to the configured
// default tenant and acts as the system principal, so a bare curl against
// localhost works out of the box.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		rawTenant := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		switch {
		case rawTenant != "":
			tenantID, err := strconv.ParseInt(rawTenant, 10, 64)
			if err != nil || tenantID <= 0 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			ctx = tenantctx.WithTenantID(ctx, tenantID)

			actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
			if actorID != "" {
				ctx = tenantctx.WithActor(ctx, tenantctx.ActorTypeUser, actorID)
			}
			if role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole))); role != "" {
				ctx = tenantctx.WithRole(ctx, role)
			}
		case !s.cfg.IsCloud() && s.cfg.DefaultTenantID != 0:
			ctx = tenantctx.WithTenantID(ctx, s.cfg.DefaultTenantID)
			ctx = tenantctx.WithActor(ctx, tenantctx.ActorTypeSystem, "local")
			ctx = tenantctx.WithRole(ctx, tenantctx.RoleOwner)
		default:
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx = tenantctx.WithClientIP(ctx, c.ClientIP())
		ctx = tenantctx.WithUserAgent(ctx, c.Request.UserAgent())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := tenantctx.RoleFromContext(c.Request.Context())
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}

// authorizeAction enforces the casbin policy for the acting principal.
// Denials are recorded as billing events by the authorization service.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// MandateSubmitRateLimit throttles mandate submissions per tenant and per
// client IP. A redis outage fails open: losing the throttle for a window
// beats refusing enrollments.
func (s *Server) MandateSubmitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.mandateLimiter == nil || !s.mandateLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		if tenantID, ok := tenantctx.TenantIDFromContext(ctx); ok && tenantID != 0 {
			res, err := s.mandateLimiter.AllowTenant(ctx, tenantID)
			if err != nil {
				s.log.Warn("mandate tenant rate limit unavailable", zap.Error(err))
			} else if !res.Allowed {
				retryAfterHeader(c, res.RetryAfter.Seconds())
				AbortWithError(c, ErrTooManyRequests)
				return
			}
		}

		if ip := strings.TrimSpace(c.ClientIP()); ip != "" {
			res, err := s.mandateLimiter.AllowIP(ctx, ip)
			if err != nil {
				s.log.Warn("mandate ip rate limit unavailable", zap.Error(err))
			} else if !res.Allowed {
				retryAfterHeader(c, res.RetryAfter.Seconds())
				AbortWithError(c, ErrTooManyRequests)
				return
			}
		}

		c.Next()
	}
}

func retryAfterHeader(c *gin.Context, seconds float64) {
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(int(seconds)))
}
