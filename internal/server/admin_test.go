package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	"github.com/rumbosoft/rumbo/internal/config"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminModifierCRUD(t *testing.T) {
	f := newServerFixture(t, config.Config{})
	admin := tenantHeaders(9001, tenantctx.RoleAdmin)

	resp := f.do(t, http.MethodPost, "/admin/modifiers", map[string]any{
		"kind":  "DISCOUNT",
		"label": "Launch promo",
		"pct":   10,
	}, admin)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	created := decodeBody(t, resp)["data"].(map[string]any)
	id := created["id"].(string)
	assert.Equal(t, "DISCOUNT", created["kind"])
	assert.Equal(t, true, created["is_enabled"])

	resp = f.do(t, http.MethodGet, "/admin/modifiers", nil, admin)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, decodeBody(t, resp)["data"].([]any), 1)

	resp = f.do(t, http.MethodPatch, "/admin/modifiers/"+id, map[string]any{"pct": 12.5}, admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 12.5, decodeBody(t, resp)["data"].(map[string]any)["pct"])

	resp = f.do(t, http.MethodDelete, "/admin/modifiers/"+id, nil, admin)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodGet, "/admin/modifiers", nil, admin)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decodeBody(t, resp)["data"])
}

func TestAdminModifierRoleGates(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	// Operators can read but not mutate.
	operator := tenantHeaders(9001, tenantctx.RoleOperator)
	resp := f.do(t, http.MethodGet, "/admin/modifiers", nil, operator)
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(t, http.MethodPost, "/admin/modifiers", map[string]any{
		"kind":  "TAX",
		"label": "IVA",
		"pct":   21,
	}, operator)
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "forbidden", decodeBody(t, resp)["error"].(map[string]any)["type"])

	// No role at all is rejected before the policy check.
	noRole := map[string]string{HeaderTenantID: "9001", HeaderActorID: "usr_9"}
	resp = f.do(t, http.MethodGet, "/admin/modifiers", nil, noRole)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, http.MethodGet, "/admin/modifiers", nil, tenantHeaders(9001, "viewer"))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestAdminSubscriptionDetailAndCancel(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	ctx := tenantctx.WithTenantID(context.Background(), 9001)
	_, err := f.srv.subscriptionSvc.EnsureForTenant(ctx)
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/admin/subscription", nil, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "ACTIVE", data["status"])
	assert.Equal(t, float64(10), data["anchor_day"])
	assert.Equal(t, "America/Argentina/Buenos_Aires", data["timezone"])

	resp = f.do(t, http.MethodPost, "/admin/subscription/cancel", nil, tenantHeaders(9001, tenantctx.RoleAdmin))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.Where("tenant_id = ?", 9001).First(&sub).Error)
	assert.Equal(t, subscriptiondomain.StatusCanceled, sub.Status)
	assert.Nil(t, sub.NextAnchorDate)

	// Cancel is idempotent.
	resp = f.do(t, http.MethodPost, "/admin/subscription/cancel", nil, tenantHeaders(9001, tenantctx.RoleAdmin))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAdminBillingEventsList(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	tenantID := snowflake.ID(9001)
	targetID := "m_1"
	require.NoError(t, f.srv.eventSvc.Append(context.Background(), nil, billingeventdomain.AppendRequest{
		TenantID:   &tenantID,
		EventType:  billingeventdomain.EventMandateCreated,
		TargetType: "mandate",
		TargetID:   &targetID,
		Payload:    map[string]any{"bank_code": "285"},
	}))

	resp := f.do(t, http.MethodGet, "/admin/billing-events?event_type="+billingeventdomain.EventMandateCreated, nil, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeBody(t, resp)["data"].(map[string]any)
	events := data["events"].([]any)
	require.Len(t, events, 1)
	first := events[0].(map[string]any)
	assert.Equal(t, billingeventdomain.EventMandateCreated, first["event_type"])
	assert.Equal(t, "mandate", first["target_type"])

	resp = f.do(t, http.MethodGet, "/admin/billing-events?start_at=not-a-time", nil, tenantHeaders(9001, tenantctx.RoleAdmin))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	first = decodeBody(t, resp)["error"].(map[string]any)["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "invalid_start_at", first["code"])
}

func TestAdminExtraChargeLifecycle(t *testing.T) {
	f := newServerFixture(t, config.Config{})
	admin := tenantHeaders(9001, tenantctx.RoleAdmin)

	ctx := tenantctx.WithTenantID(context.Background(), 9001)
	_, err := f.srv.subscriptionSvc.EnsureForTenant(ctx)
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/admin/charges", map[string]any{
		"description":  "chargeback recovery April",
		"amount_cents": 150000,
	}, admin)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	created := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "EXTRA", created["kind"])
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, float64(150000), created["amount_due_cents"])
	assert.Equal(t, "ARS", created["currency"])
	assert.NotEmpty(t, created["external_reference"])
	chargeID := created["id"].(string)

	// Operators get read access.
	resp = f.do(t, http.MethodGet, "/admin/charges/"+chargeID, nil, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, chargeID, decodeBody(t, resp)["data"].(map[string]any)["id"])

	resp = f.do(t, http.MethodGet, "/admin/charges?status=pending", nil, admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	charges := decodeBody(t, resp)["data"].(map[string]any)["charges"].([]any)
	require.Len(t, charges, 1)

	// But not write access.
	resp = f.do(t, http.MethodPost, "/admin/charges", map[string]any{
		"description":  "ad hoc",
		"amount_cents": 100,
	}, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusForbidden, resp.Code)

	resp = f.do(t, http.MethodPost, "/admin/charges", map[string]any{
		"description":  "zero amount",
		"amount_cents": 0,
	}, admin)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	first := decodeBody(t, resp)["error"].(map[string]any)["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "invalid_amount", first["code"])
}

func TestBuildOutboundBatchParsesBusinessDate(t *testing.T) {
	f := newServerFixture(t, config.Config{})
	admin := tenantHeaders(9001, tenantctx.RoleAdmin)

	var gotDate *time.Time
	f.bank.buildFn = func(ctx context.Context, req bankfiledomain.BuildOutboundRequest) (*bankfiledomain.BuildOutboundResponse, error) {
		gotDate = req.BusinessDate
		return &bankfiledomain.BuildOutboundResponse{}, nil
	}

	resp := f.do(t, http.MethodPost, "/admin/bank-batches/outbound", map[string]any{"business_date": "2024-04-15"}, admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NotNil(t, gotDate)
	assert.Equal(t, "2024-04-15", gotDate.Format("2006-01-02"))
	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Nil(t, data["batch"])
	assert.Equal(t, float64(0), data["row_count"])

	resp = f.do(t, http.MethodPost, "/admin/bank-batches/outbound", map[string]any{"business_date": "15-04-2024"}, admin)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	first := decodeBody(t, resp)["error"].(map[string]any)["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "invalid_business_date", first["code"])
}

func TestImportInboundBatchUploadsFile(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	var gotName string
	var gotData []byte
	f.bank.importFn = func(ctx context.Context, req bankfiledomain.ImportInboundRequest) (*bankfiledomain.ImportInboundResponse, error) {
		gotName = req.FileName
		gotData = req.Data
		return &bankfiledomain.ImportInboundResponse{
			Batch:      &bankfiledomain.PresentmentBatch{ID: 321, Direction: bankfiledomain.DirectionInbound, FileName: req.FileName, Status: bankfiledomain.BatchStatusImported, BusinessDate: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)},
			Validation: bankfiledomain.ValidationResult{OK: true},
			Applied:    2,
			Skipped:    1,
		}, nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "respuestas-20240415.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("HEADER|x\nROW|y\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/bank-batches/inbound", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	for k, v := range tenantHeaders(9001, tenantctx.RoleAdmin) {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	f.engine.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "respuestas-20240415.txt", gotName)
	assert.Equal(t, []byte("HEADER|x\nROW|y\n"), gotData)
	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["applied"])
	assert.Equal(t, float64(1), data["skipped"])
	assert.Equal(t, true, data["validation"].(map[string]any)["ok"])

	// Missing file part is a validation error, not a 500.
	resp2 := f.do(t, http.MethodPost, "/admin/bank-batches/inbound", nil, tenantHeaders(9001, tenantctx.RoleAdmin))
	require.Equal(t, http.StatusBadRequest, resp2.Code)
}

func TestListBankBatchesRejectsUnknownDirection(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	resp := f.do(t, http.MethodGet, "/admin/bank-batches?direction=SIDEWAYS", nil, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var gotDirection bankfiledomain.Direction
	f.bank.listFn = func(ctx context.Context, req bankfiledomain.ListBatchesRequest) ([]bankfiledomain.PresentmentBatch, error) {
		gotDirection = req.Direction
		return []bankfiledomain.PresentmentBatch{{ID: 1, Direction: bankfiledomain.DirectionOutbound, FileName: "f.txt", Status: bankfiledomain.BatchStatusBuilt, BusinessDate: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)}}, nil
	}
	resp = f.do(t, http.MethodGet, "/admin/bank-batches?direction=outbound", nil, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, bankfiledomain.DirectionOutbound, gotDirection)
	assert.Len(t, decodeBody(t, resp)["data"].([]any), 1)
}

func TestDownloadBankBatchFileSetsDisposition(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	f.bank.fileFn = func(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error) {
		return &bankfiledomain.PresentmentBatch{ID: id, FileName: "rumbo-debitos-20240415-0001.txt"}, []byte("HEADER|x\n"), nil
	}

	resp := f.do(t, http.MethodGet, "/admin/bank-batches/123/file", nil, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, `attachment; filename="rumbo-debitos-20240415-0001.txt"`, resp.Header().Get("Content-Disposition"))
	assert.Equal(t, "HEADER|x\n", resp.Body.String())

	f.bank.manifestFn = func(ctx context.Context, id snowflake.ID) (*bankfiledomain.PresentmentBatch, []byte, error) {
		return &bankfiledomain.PresentmentBatch{ID: id, FileName: "rumbo-debitos-20240415-0001.txt"}, []byte("%PDF-1.4"), nil
	}
	resp = f.do(t, http.MethodGet, "/admin/bank-batches/123/manifest", nil, tenantHeaders(9001, tenantctx.RoleOperator))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "manifest.pdf")
}

func TestCreateIntentForwardsIdempotencyKey(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	var gotReq paymentdomain.CreateIntentForChargeRequest
	f.payment.createFn = func(ctx context.Context, req paymentdomain.CreateIntentForChargeRequest) (*paymentdomain.FallbackIntent, error) {
		gotReq = req
		url := "https://pay.example/abc"
		return &paymentdomain.FallbackIntent{
			ID:                777,
			ChargeID:          req.ChargeID,
			Provider:          "mercadopago",
			Status:            paymentdomain.IntentStatusCreated,
			PaymentURL:        &url,
			AmountCents:       930000,
			Currency:          "ARS",
			ExternalReference: "RMB-000555-01",
			ExpiresAt:         time.Date(2024, 4, 16, 0, 0, 0, 0, time.UTC),
			CreatedAt:         time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC),
		}, nil
	}

	resp := f.do(t, http.MethodPost, "/api/collections/charges/555/intents", map[string]any{"provider": "mercadopago"},
		mergeHeaders(tenantHeaders(9001, ""), map[string]string{"Idempotency-Key": "idem-123"}))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, snowflake.ID(555), gotReq.ChargeID)
	assert.Equal(t, "idem-123", gotReq.IdempotencyKey)
	assert.Equal(t, "mercadopago", gotReq.Provider)

	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "777", data["id"])
	assert.Equal(t, "CREATED", data["status"])
	assert.Equal(t, "https://pay.example/abc", data["payment_url"])

	resp = f.do(t, http.MethodPost, "/api/collections/charges/not-a-number/intents", nil, tenantHeaders(9001, ""))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetIntentNotFoundMapsTo404(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	resp := f.do(t, http.MethodGet, "/api/collections/intents/999", nil, tenantHeaders(9001, ""))
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeBody(t, resp)["error"].(map[string]any)["type"])
}

func TestPaymentWebhookStatuses(t *testing.T) {
	f := newServerFixture(t, config.Config{})

	var gotProvider string
	f.payment.webhookFn = func(ctx context.Context, provider string, payload []byte, headers http.Header) error {
		gotProvider = provider
		return nil
	}
	resp := f.do(t, http.MethodPost, "/api/payments/webhooks/mercadopago", map[string]any{"type": "payment"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "mercadopago", gotProvider)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])

	f.payment.webhookFn = func(ctx context.Context, provider string, payload []byte, headers http.Header) error {
		return paymentdomain.ErrEventIgnored
	}
	resp = f.do(t, http.MethodPost, "/api/payments/webhooks/mercadopago", map[string]any{"type": "test"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ignored", decodeBody(t, resp)["status"])

	f.payment.webhookFn = func(ctx context.Context, provider string, payload []byte, headers http.Header) error {
		return paymentdomain.ErrInvalidSignature
	}
	resp = f.do(t, http.MethodPost, "/api/payments/webhooks/mercadopago", map[string]any{"type": "payment"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
