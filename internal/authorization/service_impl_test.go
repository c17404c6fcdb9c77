package authorization

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	billingeventrepo "github.com/rumbosoft/rumbo/internal/billingevent/repository"
	billingeventservice "github.com/rumbosoft/rumbo/internal/billingevent/service"
	"github.com/rumbosoft/rumbo/internal/clock"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuthzFixture(t *testing.T) (Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&billingeventdomain.BillingEvent{}))

	enforcer, err := NewEnforcer(gdb)
	require.NoError(t, err)

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	log := zap.NewNop()
	events := billingeventservice.NewService(billingeventservice.Params{
		DB:    gdb,
		Log:   log,
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)),
		Repo:  billingeventrepo.Provide(),
	})

	svc := NewService(Params{
		DB:       gdb,
		Log:      log,
		Enforcer: enforcer,
		EventSvc: events,
	})
	return svc, gdb
}

func userCtx(userID, role string) context.Context {
	ctx := tenantctx.WithTenantID(context.Background(), 7001)
	ctx = tenantctx.WithActor(ctx, tenantctx.ActorTypeUser, userID)
	return tenantctx.WithRole(ctx, role)
}

func TestAuthorizeByRole(t *testing.T) {
	svc, _ := newAuthzFixture(t)

	// Operators read, admins and owners mutate.
	assert.NoError(t, svc.Authorize(userCtx("101", tenantctx.RoleOperator), ObjectModifier, ActionModifierView))
	assert.ErrorIs(t, svc.Authorize(userCtx("101", tenantctx.RoleOperator), ObjectModifier, ActionModifierCreate), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(userCtx("101", tenantctx.RoleOperator), ObjectBankBatch, ActionBankBatchImport), ErrForbidden)

	assert.NoError(t, svc.Authorize(userCtx("102", tenantctx.RoleAdmin), ObjectModifier, ActionModifierCreate))
	assert.NoError(t, svc.Authorize(userCtx("102", tenantctx.RoleAdmin), ObjectBankBatch, ActionBankBatchBuild))

	assert.NoError(t, svc.Authorize(userCtx("103", tenantctx.RoleOwner), ObjectMandate, ActionMandateRevoke))

	// The scheduler runs as the system actor and passes everything seeded.
	systemCtx := tenantctx.WithActor(context.Background(), tenantctx.ActorTypeSystem, "")
	assert.NoError(t, svc.Authorize(systemCtx, ObjectBankBatch, ActionBankBatchImport))
	assert.NoError(t, svc.Authorize(context.Background(), ObjectBillingEvent, ActionBillingEventView))
}

func TestAuthorizeValidation(t *testing.T) {
	svc, _ := newAuthzFixture(t)

	assert.ErrorIs(t, svc.Authorize(userCtx("104", tenantctx.RoleAdmin), "", ActionModifierView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(userCtx("104", tenantctx.RoleAdmin), ObjectModifier, "  "), ErrInvalidAction)

	noTenant := tenantctx.WithRole(
		tenantctx.WithActor(context.Background(), tenantctx.ActorTypeUser, "104"),
		tenantctx.RoleAdmin,
	)
	assert.ErrorIs(t, svc.Authorize(noTenant, ObjectModifier, ActionModifierView), ErrInvalidTenant)

	assert.ErrorIs(t, svc.Authorize(userCtx("", tenantctx.RoleAdmin), ObjectModifier, ActionModifierView), ErrInvalidActor)

	bankCtx := tenantctx.WithTenantID(context.Background(), 7001)
	bankCtx = tenantctx.WithActor(bankCtx, tenantctx.ActorTypeBank, "bank")
	assert.ErrorIs(t, svc.Authorize(bankCtx, ObjectModifier, ActionModifierView), ErrInvalidActor)

	// A role the gateway should never send.
	assert.ErrorIs(t, svc.Authorize(userCtx("104", "viewer"), ObjectModifier, ActionModifierView), ErrForbidden)
}

func TestRoleChangeReplacesGrouping(t *testing.T) {
	svc, _ := newAuthzFixture(t)

	require.NoError(t, svc.Authorize(userCtx("201", tenantctx.RoleAdmin), ObjectModifier, ActionModifierCreate))

	// Demoted at the gateway: the stale admin grouping must not linger.
	assert.ErrorIs(t, svc.Authorize(userCtx("201", tenantctx.RoleOperator), ObjectModifier, ActionModifierCreate), ErrForbidden)
	assert.NoError(t, svc.Authorize(userCtx("201", tenantctx.RoleOperator), ObjectModifier, ActionModifierView))
}

func TestDeniedAuthorizationIsRecorded(t *testing.T) {
	svc, gdb := newAuthzFixture(t)

	require.ErrorIs(t, svc.Authorize(userCtx("301", tenantctx.RoleOperator), ObjectModifier, ActionModifierDelete), ErrForbidden)

	var count int64
	require.NoError(t, gdb.Model(&billingeventdomain.BillingEvent{}).
		Where("event_type = ?", billingeventdomain.EventAuthzDenied).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
