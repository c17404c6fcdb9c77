package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rumbosoft/rumbo/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyMandateTenant = "rumbo:ratelimit:mandate:tenant:%s"
	keyMandateIP     = "rumbo:ratelimit:mandate:ip:%s"
)

// MandateSubmitLimiter throttles mandate submissions. Consent capture is
// a rare, deliberate action; sustained bursts are either a broken client
// or someone probing account numbers.
type MandateSubmitLimiter struct {
	enabled bool
	bucket  *TokenBucket

	tenantRate  float64
	tenantBurst int
	ipRate      float64
	ipBurst     int
}

// NewMandateSubmitLimiter is disabled (always allows) when rate limiting
// is off or no redis client is configured.
func NewMandateSubmitLimiter(cfg config.Config, client *redis.Client) *MandateSubmitLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return &MandateSubmitLimiter{}
	}
	return &MandateSubmitLimiter{
		enabled:     true,
		bucket:      NewTokenBucket(client),
		tenantRate:  limitCfg.MandateTenantRate,
		tenantBurst: limitCfg.MandateTenantBurst,
		ipRate:      limitCfg.MandateIPRate,
		ipBurst:     limitCfg.MandateIPBurst,
	}
}

func (l *MandateSubmitLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *MandateSubmitLimiter) AllowTenant(ctx context.Context, tenantID snowflake.ID) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyMandateTenant, tenantID.String())
	return l.bucket.Allow(ctx, key, l.tenantRate, l.tenantBurst)
}

func (l *MandateSubmitLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyMandateIP, ip), l.ipRate, l.ipBurst)
}
