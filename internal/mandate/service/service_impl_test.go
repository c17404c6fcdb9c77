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
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	"github.com/rumbosoft/rumbo/internal/mandate/repository"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	subscriptionrepo "github.com/rumbosoft/rumbo/internal/subscription/repository"
	subscriptionservice "github.com/rumbosoft/rumbo/internal/subscription/service"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/rumbosoft/rumbo/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testVaultKey = "mandate-service-test-passphrase"

type fixture struct {
	svc  mandatedomain.Service
	db   *gorm.DB
	fake *clock.FakeClock
	v    *vault.Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&mandatedomain.PaymentMethod{},
		&mandatedomain.Mandate{},
		&billingeventdomain.BillingEvent{},
	))

	node, err := snowflake.NewNode(2)
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
	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:           gdb,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Repo:         subscriptionrepo.Provide(),
		ConfigHolder: holder,
		EventSvc:     events,
	})

	v := vault.New(testVaultKey)
	svc := NewService(ServiceParam{
		DB:       gdb,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Vault:    v,
		Repo:     repository.Provide(),
		SubSvc:   subs,
		EventSvc: events,
	})

	return &fixture{svc: svc, db: gdb, fake: fake, v: v}
}

func ctxForTenant(tenantID int64) context.Context {
	ctx := tenantctx.WithTenantID(context.Background(), tenantID)
	ctx = tenantctx.WithActor(ctx, tenantctx.ActorTypeUser, "usr_1")
	return tenantctx.WithClientIP(ctx, "181.47.10.2")
}

func upsertReq(cbu string) mandatedomain.UpsertDirectDebitMandateRequest {
	return mandatedomain.UpsertDirectDebitMandateRequest{
		HolderName:      "Agencia Horizonte SRL",
		HolderTaxID:     "30-71234567-8",
		AccountNumber:   cbu,
		ConsentAccepted: true,
		ConsentVersion:  "v2",
	}
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&count).Error)
	return count
}

func TestUpsertCreatesMethodAndMandate(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(401)
	cbu := mandatedomain.ComposeCBU("2850590", "9409418135201")

	resp, err := f.svc.UpsertDirectDebitMandate(ctx, upsertReq(cbu))
	require.NoError(t, err)

	assert.True(t, resp.Created)
	assert.Equal(t, mandatedomain.MandateStatusPending, resp.MandateStatus)
	assert.Equal(t, "v2", resp.ConsentVersion)
	assert.True(t, resp.PaymentMethod.IsDefault)
	assert.Equal(t, "****"+cbu[18:], resp.PaymentMethod.AccountMasked)
	assert.Equal(t, "285", resp.PaymentMethod.BankCode)
	assert.NotContains(t, resp.PaymentMethod.AccountMasked, cbu[:14])

	var method mandatedomain.PaymentMethod
	require.NoError(t, f.db.First(&method).Error)
	assert.Equal(t, "30712345678", method.HolderTaxID)

	var mandate mandatedomain.Mandate
	require.NoError(t, f.db.First(&mandate).Error)
	assert.NotEqual(t, cbu, mandate.EncryptedAccountNumber)

	plain, err := f.v.Decrypt(mandate.EncryptedAccountNumber)
	require.NoError(t, err)
	assert.Equal(t, cbu, plain)
	assert.Equal(t, vault.Fingerprint(cbu), mandate.AccountFingerprint)
}

func TestUpsertTwiceUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(402)

	first := mandatedomain.ComposeCBU("2850590", "9409418135201")
	second := mandatedomain.ComposeCBU("0170099", "2000067797370")

	resp1, err := f.svc.UpsertDirectDebitMandate(ctx, upsertReq(first))
	require.NoError(t, err)
	require.True(t, resp1.Created)

	resp2, err := f.svc.UpsertDirectDebitMandate(ctx, upsertReq(second))
	require.NoError(t, err)
	assert.False(t, resp2.Created)

	// Exactly one subscription, one default method, one mandate.
	assert.Equal(t, int64(1), f.count(t, &subscriptiondomain.Subscription{}, "tenant_id = ?", 402))
	assert.Equal(t, int64(1), f.count(t, &mandatedomain.PaymentMethod{}, "is_default = ?", true))
	assert.Equal(t, int64(1), f.count(t, &mandatedomain.Mandate{}, "1 = 1"))

	var mandate mandatedomain.Mandate
	require.NoError(t, f.db.First(&mandate).Error)
	assert.Equal(t, second[18:], mandate.AccountLast4)
	assert.Equal(t, vault.Fingerprint(second), mandate.AccountFingerprint)

	created := f.count(t, &billingeventdomain.BillingEvent{}, "event_type = ?", billingeventdomain.EventMandateCreated)
	updated := f.count(t, &billingeventdomain.BillingEvent{}, "event_type = ?", billingeventdomain.EventMandateUpdated)
	assert.Equal(t, int64(1), created)
	assert.Equal(t, int64(1), updated)
	assert.GreaterOrEqual(t,
		f.count(t, &billingeventdomain.BillingEvent{}, "event_type IN ?", []string{
			billingeventdomain.EventMandateCreated,
			billingeventdomain.EventMandateUpdated,
			billingeventdomain.EventSubscriptionUpdated,
		}),
		int64(2),
	)
}

func TestUpsertRejectsBadCBU(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(403)

	cbu := mandatedomain.ComposeCBU("2850590", "9409418135201")
	flipped := "9" + cbu[1:]

	_, err := f.svc.UpsertDirectDebitMandate(ctx, upsertReq(flipped))
	assert.ErrorIs(t, err, mandatedomain.ErrInvalidAccountNumber)

	// Nothing persisted.
	assert.Equal(t, int64(0), f.count(t, &mandatedomain.PaymentMethod{}, "1 = 1"))
}

func TestUpsertRequiresConsent(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(404)

	req := upsertReq(mandatedomain.ComposeCBU("2850590", "9409418135201"))
	req.ConsentAccepted = false

	_, err := f.svc.UpsertDirectDebitMandate(ctx, req)
	assert.ErrorIs(t, err, mandatedomain.ErrConsentRequired)
}

func TestUpsertValidatesHolder(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(405)
	cbu := mandatedomain.ComposeCBU("2850590", "9409418135201")

	req := upsertReq(cbu)
	req.HolderName = "   "
	_, err := f.svc.UpsertDirectDebitMandate(ctx, req)
	assert.ErrorIs(t, err, mandatedomain.ErrInvalidHolderName)

	req = upsertReq(cbu)
	req.HolderTaxID = "123"
	_, err = f.svc.UpsertDirectDebitMandate(ctx, req)
	assert.ErrorIs(t, err, mandatedomain.ErrInvalidTaxID)
}

func TestUpsertRequiresTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpsertDirectDebitMandate(context.Background(), upsertReq(mandatedomain.ComposeCBU("2850590", "9409418135201")))
	assert.ErrorIs(t, err, mandatedomain.ErrInvalidTenant)
}

func TestUpsertFailsWhenVaultSealed(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(406)

	sealed := NewService(ServiceParam{
		DB:       f.db,
		Log:      zap.NewNop(),
		GenID:    mustNode(t, 3),
		Clock:    f.fake,
		Vault:    vault.New(""),
		Repo:     repository.Provide(),
		SubSvc:   nil,
		EventSvc: nil,
	})

	_, err := sealed.UpsertDirectDebitMandate(ctx, upsertReq(mandatedomain.ComposeCBU("2850590", "9409418135201")))
	assert.ErrorIs(t, err, vault.ErrKeyMissing)
}

func TestRevokeMandate(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(407)
	cbu := mandatedomain.ComposeCBU("2850590", "9409418135201")

	_, err := f.svc.UpsertDirectDebitMandate(ctx, upsertReq(cbu))
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeMandate(ctx))

	var mandate mandatedomain.Mandate
	require.NoError(t, f.db.First(&mandate).Error)
	assert.Equal(t, mandatedomain.MandateStatusRevoked, mandate.Status)
	require.NotNil(t, mandate.RevokedAt)

	var method mandatedomain.PaymentMethod
	require.NoError(t, f.db.First(&method).Error)
	assert.False(t, method.IsDefault)
	assert.Equal(t, mandatedomain.MethodStatusRevoked, method.Status)

	assert.Equal(t, int64(1), f.count(t, &billingeventdomain.BillingEvent{}, "event_type = ?", billingeventdomain.EventMandateRevoked))

	// Revoking again reports the terminal state.
	assert.ErrorIs(t, f.svc.RevokeMandate(ctx), mandatedomain.ErrMandateRevoked)
}

func TestListPaymentMethodsMasks(t *testing.T) {
	f := newFixture(t)
	ctx := ctxForTenant(408)
	cbu := mandatedomain.ComposeCBU("0170099", "2000067797370")

	_, err := f.svc.UpsertDirectDebitMandate(ctx, upsertReq(cbu))
	require.NoError(t, err)

	views, err := f.svc.ListPaymentMethods(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)

	assert.Equal(t, mandatedomain.MethodTypeDirectDebit, views[0].MethodType)
	assert.Equal(t, "****"+cbu[18:], views[0].AccountMasked)
	assert.Equal(t, "017", views[0].BankCode)
	assert.True(t, views[0].IsDefault)
}

func mustNode(t *testing.T, n int64) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(n)
	require.NoError(t, err)
	return node
}
