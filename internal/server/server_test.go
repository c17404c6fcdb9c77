package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/rumbosoft/rumbo/internal/authorization"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
	billingcycledomain "github.com/rumbosoft/rumbo/internal/billingcycle/domain"
	billingcyclerepo "github.com/rumbosoft/rumbo/internal/billingcycle/repository"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	billingeventrepo "github.com/rumbosoft/rumbo/internal/billingevent/repository"
	billingeventservice "github.com/rumbosoft/rumbo/internal/billingevent/service"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	chargerepo "github.com/rumbosoft/rumbo/internal/charge/repository"
	chargeservice "github.com/rumbosoft/rumbo/internal/charge/service"
	"github.com/rumbosoft/rumbo/internal/clock"
	collectionsservice "github.com/rumbosoft/rumbo/internal/collections/service"
	"github.com/rumbosoft/rumbo/internal/config"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	mandaterepo "github.com/rumbosoft/rumbo/internal/mandate/repository"
	mandateservice "github.com/rumbosoft/rumbo/internal/mandate/service"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
	modifierrepo "github.com/rumbosoft/rumbo/internal/modifier/repository"
	modifierservice "github.com/rumbosoft/rumbo/internal/modifier/service"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	"github.com/rumbosoft/rumbo/internal/ratelimit"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	subscriptionrepo "github.com/rumbosoft/rumbo/internal/subscription/repository"
	subscriptionservice "github.com/rumbosoft/rumbo/internal/subscription/service"
	"github.com/rumbosoft/rumbo/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubPaymentSvc keeps the server tests at the HTTP boundary; provider
// behavior is covered by the payment package tests.
type stubPaymentSvc struct {
	createFn  func(ctx context.Context, req paymentdomain.CreateIntentForChargeRequest) (*paymentdomain.FallbackIntent, error)
	getFn     func(ctx context.Context, id snowflake.ID) (*paymentdomain.FallbackIntent, error)
	cancelFn  func(ctx context.Context, id snowflake.ID) (*paymentdomain.FallbackIntent, error)
	webhookFn func(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

func (s *stubPaymentSvc) CreateIntentForCharge(ctx context.Context, req paymentdomain.CreateIntentForChargeRequest) (*paymentdomain.FallbackIntent, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return nil, paymentdomain.ErrChargeNotFound
}

func (s *stubPaymentSvc) GetIntent(ctx context.Context, id snowflake.ID) (*paymentdomain.FallbackIntent, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, paymentdomain.ErrIntentNotFound
}

func (s *stubPaymentSvc) PollIntent(ctx context.Context, id snowflake.ID) (*paymentdomain.FallbackIntent, error) {
	return s.GetIntent(ctx, id)
}

func (s *stubPaymentSvc) CancelIntent(ctx context.Context, id snowflake.ID) (*paymentdomain.FallbackIntent, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return nil, paymentdomain.ErrIntentNotFound
}

func (s *stubPaymentSvc) ExpireStaleIntents(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func (s *stubPaymentSvc) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, provider, payload, headers)
	}
	return nil
}

type stubBankSvc struct {
	buildFn    func(ctx context.Context, req bankfiledomain.BuildOutboundRequest) (*bankfiledomain.BuildOutboundResponse, error)
	importFn   func(ctx context.Context, req bankfiledomain.ImportInboundRequest) (*bankfiledomain.ImportInboundResponse, error)
	listFn     func(ctx context.Context, req bankfiledomain.ListBatchesRequest) ([]bankfiledomain.PresentmentBatch, error)
	fileFn     func(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error)
	manifestFn func(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error)
}

func (s *stubBankSvc) BuildOutbound(ctx context.Context, req bankfiledomain.BuildOutboundRequest) (*bankfiledomain.BuildOutboundResponse, error) {
	if s.buildFn != nil {
		return s.buildFn(ctx, req)
	}
	return &bankfiledomain.BuildOutboundResponse{}, nil
}

func (s *stubBankSvc) ImportInbound(ctx context.Context, req bankfiledomain.ImportInboundRequest) (*bankfiledomain.ImportInboundResponse, error) {
	if s.importFn != nil {
		return s.importFn(ctx, req)
	}
	return nil, bankfiledomain.ErrEmptyFile
}

func (s *stubBankSvc) ListBatches(ctx context.Context, req bankfiledomain.ListBatchesRequest) ([]bankfiledomain.PresentmentBatch, error) {
	if s.listFn != nil {
		return s.listFn(ctx, req)
	}
	return nil, nil
}

func (s *stubBankSvc) GetBatchFile(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error) {
	if s.fileFn != nil {
		return s.fileFn(ctx, id)
	}
	return nil, nil, bankfiledomain.ErrBatchNotFound
}

func (s *stubBankSvc) BuildManifest(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error) {
	if s.manifestFn != nil {
		return s.manifestFn(ctx, id)
	}
	return nil, nil, bankfiledomain.ErrBatchNotFound
}

type serverFixture struct {
	srv     *Server
	engine  *gin.Engine
	db      *gorm.DB
	fake    *clock.FakeClock
	payment *stubPaymentSvc
	bank    *stubBankSvc
}

// newServerFixture boots the surface against sqlite with the real mandate,
// subscription, collections, modifier, billing-event, and authorization
// services; only the provider-facing payment and bank services are stubbed.
func newServerFixture(t *testing.T, cfg config.Config) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&billingcycledomain.Cycle{},
		&chargedomain.Charge{},
		&chargedomain.Attempt{},
		&mandatedomain.PaymentMethod{},
		&mandatedomain.Mandate{},
		&modifierdomain.BillingModifier{},
		&billingeventdomain.BillingEvent{},
	))

	node, err := snowflake.NewNode(9)
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
	mandates := mandateservice.NewService(mandateservice.ServiceParam{
		DB:       gdb,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Vault:    vault.New("server-test-passphrase"),
		Repo:     mandaterepo.Provide(),
		SubSvc:   subs,
		EventSvc: events,
	})
	overview := collectionsservice.NewService(collectionsservice.Params{
		DB:          gdb,
		Log:         log,
		Clock:       fake,
		Collections: holder,
		SubRepo:     subscriptionrepo.Provide(),
		CycleRepo:   billingcyclerepo.Provide(),
		ChargeRepo:  chargerepo.Provide(),
		MandateSvc:  mandates,
	})
	modifiers := modifierservice.NewService(modifierservice.Params{
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     modifierrepo.NewRepository(gdb),
		EventSvc: events,
	})
	charges := chargeservice.NewService(chargeservice.Params{
		DB:       gdb,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     chargerepo.Provide(),
		SubRepo:  subscriptionrepo.Provide(),
		EventSvc: events,
	})

	enforcer, err := authorization.NewEnforcer(gdb)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{
		DB:       gdb,
		Log:      log,
		Enforcer: enforcer,
		EventSvc: events,
	})

	paymentStub := &stubPaymentSvc{}
	bankStub := &stubBankSvc{}

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := &Server{
		engine:          engine,
		cfg:             cfg,
		db:              gdb,
		log:             log,
		genID:           node,
		collectionsSvc:  overview,
		mandateSvc:      mandates,
		subscriptionSvc: subs,
		paymentSvc:      paymentStub,
		bankSvc:         bankStub,
		modifierSvc:     modifiers,
		chargeSvc:       charges,
		eventSvc:        events,
		authzSvc:        authz,
		mandateLimiter:  ratelimit.NewMandateSubmitLimiter(cfg, nil),
	}
	srv.registerAPIRoutes()
	srv.registerAdminRoutes()

	return &serverFixture{
		srv:     srv,
		engine:  engine,
		db:      gdb,
		fake:    fake,
		payment: paymentStub,
		bank:    bankStub,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	f.engine.ServeHTTP(resp, req)
	return resp
}

func tenantHeaders(tenantID int64, role string) map[string]string {
	return map[string]string{
		HeaderTenantID:  fmt.Sprintf("%d", tenantID),
		HeaderActorID:   "usr_9",
		HeaderActorRole: role,
	}
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func validTestCBU() string {
	return mandatedomain.ComposeCBU("2850590", "9409418135201")
}

func mandatePayload(cbu string) map[string]any {
	return map[string]any{
		"holder_name":      "Maria Perez",
		"holder_tax_id":    "27-23456789-4",
		"account_number":   cbu,
		"consent_accepted": true,
		"consent_version":  "v1",
	}
}

func TestSubmitMandateCreatesThenUpserts(t *testing.T) {
	f := newServerFixture(t, config.Config{})
	headers := tenantHeaders(9001, "")

	resp := f.do(t, http.MethodPost, "/api/collections/mandate", mandatePayload(validTestCBU()), headers)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["created"])
	assert.Equal(t, "PENDING", data["mandate_status"])
	method := data["payment_method"].(map[string]any)
	assert.Equal(t, "DIRECT_DEBIT", method["method_type"])
	masked := method["account_masked"].(string)
	assert.NotContains(t, masked, validTestCBU()[:14])

	// Same CBU again is an upsert, not a second method.
	resp = f.do(t, http.MethodPost, "/api/collections/mandate", mandatePayload(validTestCBU()), headers)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body = decodeBody(t, resp)
	assert.Equal(t, false, body["data"].(map[string]any)["created"])

	var methodCount int64
	require.NoError(t, f.db.Model(&mandatedomain.PaymentMethod{}).Count(&methodCount).Error)
	assert.Equal(t, int64(1), methodCount)
}

func TestSubmitMandateRejectsBadCBU(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	payload := mandatePayload(validTestCBU())
	payload["account_number"] = "2850590940094181352012" // wrong length
	resp := f.do(t, http.MethodPost, "/api/collections/mandate", payload, tenantHeaders(9001, ""))
	require.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	body := decodeBody(t, resp)
	errPayload := body["error"].(map[string]any)
	assert.Equal(t, "validation_error", errPayload["type"])
	first := errPayload["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "invalid_account_number", first["code"])
}

func TestSubmitMandateRequiresConsent(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	payload := mandatePayload(validTestCBU())
	payload["consent_accepted"] = false
	resp := f.do(t, http.MethodPost, "/api/collections/mandate", payload, tenantHeaders(9001, ""))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	body := decodeBody(t, resp)
	first := body["error"].(map[string]any)["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "consent_required", first["code"])
}

func TestTenantHeaderRequiredWithoutDefaultTenant(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	resp := f.do(t, http.MethodGet, "/api/collections/overview", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, resp)["error"].(map[string]any)["type"])
}

func TestDefaultTenantFallbackServesStandaloneInstalls(t *testing.T) {
	f := newServerFixture(t, config.Config{DefaultTenantID: 42})

	resp := f.do(t, http.MethodPost, "/api/collections/mandate", mandatePayload(validTestCBU()), nil)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var method mandatedomain.PaymentMethod
	require.NoError(t, f.db.First(&method).Error)
	assert.Equal(t, snowflake.ID(42), method.TenantID)
}

func TestOverviewAfterMandate(t *testing.T) {
	f := newServerFixture(t, config.Config{})
	headers := tenantHeaders(9001, "")

	resp := f.do(t, http.MethodPost, "/api/collections/mandate", mandatePayload(validTestCBU()), headers)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/collections/overview", nil, headers)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "ACTIVE", data["status"])
	assert.Equal(t, false, data["in_collection"])
	sub := data["subscription"].(map[string]any)
	assert.Equal(t, "ACTIVE", sub["status"])
	method := data["payment_method"].(map[string]any)
	assert.Equal(t, "DIRECT_DEBIT", method["method_type"])
}

func TestListPaymentMethodsMasksAccounts(t *testing.T) {
	f := newServerFixture(t, config.Config{})
	headers := tenantHeaders(9001, "")

	resp := f.do(t, http.MethodPost, "/api/collections/mandate", mandatePayload(validTestCBU()), headers)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/collections/payment-methods", nil, headers)
	require.Equal(t, http.StatusOK, resp.Code)

	methods := decodeBody(t, resp)["data"].([]any)
	require.Len(t, methods, 1)
	masked := methods[0].(map[string]any)["account_masked"].(string)
	assert.NotContains(t, resp.Body.String(), validTestCBU())
	assert.Contains(t, masked, "****")
}

func TestRevokeMandate(t *testing.T) {
	f := newServerFixture(t, config.Config{})
	headers := tenantHeaders(9001, "")

	resp := f.do(t, http.MethodPost, "/api/collections/mandate", mandatePayload(validTestCBU()), headers)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = f.do(t, http.MethodDelete, "/api/collections/mandate", nil, headers)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var mandate mandatedomain.Mandate
	require.NoError(t, f.db.First(&mandate).Error)
	assert.Equal(t, mandatedomain.MandateStatusRevoked, mandate.Status)
}

func TestMandateIsTenantScoped(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	resp := f.do(t, http.MethodPost, "/api/collections/mandate", mandatePayload(validTestCBU()), tenantHeaders(9001, ""))
	require.Equal(t, http.StatusCreated, resp.Code)

	// A different tenant has no subscription yet, so nothing leaks.
	other := tenantHeaders(9002, "")
	resp = f.do(t, http.MethodGet, "/api/collections/payment-methods", nil, other)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotContains(t, resp.Body.String(), "account_masked")

	resp = f.do(t, http.MethodDelete, "/api/collections/mandate", nil, other)
	require.Equal(t, http.StatusNotFound, resp.Code)
}
