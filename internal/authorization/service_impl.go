package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// platformDomain scopes grants for the system actor, which acts across
// tenants.
const platformDomain = "platform"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	EventSvc billingeventdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	events   billingeventdomain.Service
}

// NewEnforcer builds the synced enforcer over the casbin_rule table and
// seeds the role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		events:   p.EventSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, domain, err := s.resolveSubject(ctx)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.recordDenied(ctx, subject, roleName, object, action)
		return ErrForbidden
	}
	return nil
}

// resolveSubject maps the context identity onto a casbin subject, role
// and domain. The gateway already verified all three inputs.
func (s *ServiceImpl) resolveSubject(ctx context.Context) (string, string, string, error) {
	actorType, actorID := tenantctx.ActorFromContext(ctx)

	// Internal callers (scheduler, imports) run as the system actor.
	if actorType == "" || actorType == tenantctx.ActorTypeSystem {
		return "system", "role:system", platformDomain, nil
	}

	if actorType != tenantctx.ActorTypeUser {
		return "", "", "", ErrInvalidActor
	}
	if strings.TrimSpace(actorID) == "" {
		return "", "", "", ErrInvalidActor
	}

	tenantID, ok := tenantctx.TenantIDFromContext(ctx)
	if !ok || tenantID == 0 {
		return "", "", "", ErrInvalidTenant
	}

	role := strings.ToLower(strings.TrimSpace(tenantctx.RoleFromContext(ctx)))
	switch role {
	case tenantctx.RoleOwner, tenantctx.RoleAdmin, tenantctx.RoleOperator:
	default:
		return "", "", "", ErrForbidden
	}

	subject := fmt.Sprintf("user:%s", strings.TrimSpace(actorID))
	domain := fmt.Sprintf("tenant:%s", tenantID.String())
	return subject, fmt.Sprintf("role:%s", role), domain, nil
}

// ensureGrouping keeps the subject's role link current: a role change at
// the gateway replaces the old grouping on the next request.
func (s *ServiceImpl) ensureGrouping(subject, roleName, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) recordDenied(ctx context.Context, subject, roleName, object, action string) {
	s.log.Warn("authorization denied",
		zap.String("subject", subject),
		zap.String("role", roleName),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.events == nil {
		return
	}

	var tenantPtr *snowflake.ID
	if tenantID, ok := tenantctx.TenantIDFromContext(ctx); ok && tenantID != 0 {
		tenantPtr = &tenantID
	}
	targetID := object
	_ = s.events.Append(ctx, s.db, billingeventdomain.AppendRequest{
		TenantID:   tenantPtr,
		EventType:  billingeventdomain.EventAuthzDenied,
		TargetType: "authorization",
		TargetID:   &targetID,
		Payload: map[string]any{
			"subject": subject,
			"role":    roleName,
			"object":  object,
			"action":  action,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	readOnly := [][]string{
		{ObjectModifier, ActionModifierView},
		{ObjectBankBatch, ActionBankBatchView},
		{ObjectBillingEvent, ActionBillingEventView},
		{ObjectSubscription, ActionSubscriptionView},
		{ObjectCharge, ActionChargeView},
	}
	mutating := [][]string{
		{ObjectModifier, ActionModifierCreate},
		{ObjectModifier, ActionModifierUpdate},
		{ObjectModifier, ActionModifierDelete},
		{ObjectBankBatch, ActionBankBatchBuild},
		{ObjectBankBatch, ActionBankBatchImport},
		{ObjectMandate, ActionMandateRevoke},
		{ObjectCharge, ActionChargeCreate},
	}

	var policies [][]string
	for _, grant := range readOnly {
		policies = append(policies,
			[]string{"role:operator", grant[0], grant[1]},
			[]string{"role:admin", grant[0], grant[1]},
			[]string{"role:owner", grant[0], grant[1]},
			[]string{"role:system", grant[0], grant[1]},
		)
	}
	for _, grant := range mutating {
		policies = append(policies,
			[]string{"role:admin", grant[0], grant[1]},
			[]string{"role:owner", grant[0], grant[1]},
			[]string{"role:system", grant[0], grant[1]},
		)
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
