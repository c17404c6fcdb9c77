package service

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
	"github.com/rumbosoft/rumbo/internal/config"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/subscription/repository"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc  subscriptiondomain.Service
	db   *gorm.DB
	fake *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&billingeventdomain.BillingEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	buenosAires, err := time.LoadLocation("America/Argentina/Buenos_Aires")
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2024, 3, 15, 10, 30, 0, 0, buenosAires))

	holder, err := config.NewCollectionsConfigHolderFrom(config.DefaultCollectionsConfig())
	require.NoError(t, err)

	log := zap.NewNop()
	events := billingeventservice.NewService(billingeventservice.Params{
		DB:    gdb,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  billingeventrepo.Provide(),
	})

	svc := NewService(ServiceParam{
		DB:           gdb,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Repo:         repository.Provide(),
		ConfigHolder: holder,
		EventSvc:     events,
	})

	return &fixture{svc: svc, db: gdb, fake: fake}
}

func ctxForTenant(tenantID int64) context.Context {
	ctx := tenantctx.WithTenantID(context.Background(), tenantID)
	return tenantctx.WithActor(ctx, tenantctx.ActorTypeUser, "usr_1")
}

func (f *fixture) eventCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&billingeventdomain.BillingEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error)
	return count
}

func TestEnsureForTenantCreatesWithDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(301)

	sub, err := f.svc.EnsureForTenant(ctx)
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.Equal(t, 10, sub.AnchorDay)
	assert.Equal(t, "America/Argentina/Buenos_Aires", sub.Timezone)
	assert.Equal(t, float64(10), sub.DirectDebitDiscountPct)
	assert.Equal(t, int64(25000), sub.PlanAmountCents)
	assert.Equal(t, "USD", sub.PlanCurrency)

	// March 15 is past the anchor day, so the first anchor lands April 10.
	require.NotNil(t, sub.NextAnchorDate)
	want := time.Date(2024, 4, 10, 0, 0, 0, 0, sub.Location())
	assert.True(t, sub.NextAnchorDate.Equal(want), "got %s", sub.NextAnchorDate)

	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventSubscriptionCreated))
}

func TestEnsureForTenantIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(302)

	first, err := f.svc.EnsureForTenant(ctx)
	require.NoError(t, err)

	second, err := f.svc.EnsureForTenant(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventSubscriptionCreated))
}

func TestEnsureForTenantRequiresTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.EnsureForTenant(context.Background())
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTenant)
}

func TestGetReturnsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(ctxForTenant(303))
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestCancelTransitionsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(304)

	_, err := f.svc.EnsureForTenant(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx))

	sub, err := f.svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	assert.Nil(t, sub.NextAnchorDate)
	require.NotNil(t, sub.CanceledAt)

	// Second cancel is a no-op and emits nothing.
	require.NoError(t, f.svc.Cancel(ctx))
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventSubscriptionCanceled))
}

func TestRecomputeAnchorAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(305)

	sub, err := f.svc.EnsureForTenant(ctx)
	require.NoError(t, err)

	// Recompute from the day after the April anchor: next lands May 10.
	from := time.Date(2024, 4, 11, 0, 0, 0, 0, sub.Location())
	updated, err := f.svc.RecomputeAnchor(ctx, nil, sub.ID, from)
	require.NoError(t, err)

	want := time.Date(2024, 5, 10, 0, 0, 0, 0, sub.Location())
	require.NotNil(t, updated.NextAnchorDate)
	assert.True(t, updated.NextAnchorDate.Equal(want), "got %s", updated.NextAnchorDate)
}

func TestRecomputeAnchorRejectsCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(306)

	sub, err := f.svc.EnsureForTenant(ctx)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx))

	_, err = f.svc.RecomputeAnchor(ctx, nil, sub.ID, f.fake.Now())
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionCanceled)
}

func TestRecomputeAnchorUnknownSubscription(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecomputeAnchor(ctxForTenant(307), nil, snowflake.ID(999999), f.fake.Now())
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}
