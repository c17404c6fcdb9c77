package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	billingeventrepo "github.com/rumbosoft/rumbo/internal/billingevent/repository"
	billingeventservice "github.com/rumbosoft/rumbo/internal/billingevent/service"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	chargerepo "github.com/rumbosoft/rumbo/internal/charge/repository"
	"github.com/rumbosoft/rumbo/internal/clock"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	"github.com/rumbosoft/rumbo/internal/payment/providers"
	"github.com/rumbosoft/rumbo/internal/payment/repository"
	"github.com/rumbosoft/rumbo/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testTenantID int64 = 9101

// scriptedProvider lets each test script the provider's answers.
type scriptedProvider struct {
	createCalls   int
	lastCreateReq paymentdomain.CreateIntentRequest

	createResult *paymentdomain.IntentResult
	createErr    error
	statusResult *paymentdomain.StatusResult
	statusErr    error
	cancelResult *paymentdomain.CancelResult
	verifyErr    error
	parseEvent   *paymentdomain.WebhookEvent
	parseErr     error
}

func (s *scriptedProvider) Key() string { return "scripted" }

func (s *scriptedProvider) CreateIntent(_ context.Context, req paymentdomain.CreateIntentRequest) (*paymentdomain.IntentResult, error) {
	s.createCalls++
	s.lastCreateReq = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.createResult, nil
}

func (s *scriptedProvider) GetStatus(context.Context, paymentdomain.IntentSnapshot) (*paymentdomain.StatusResult, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.statusResult, nil
}

func (s *scriptedProvider) Cancel(context.Context, paymentdomain.IntentSnapshot) (*paymentdomain.CancelResult, error) {
	return s.cancelResult, nil
}

func (s *scriptedProvider) VerifyWebhook([]byte, http.Header) error { return s.verifyErr }

func (s *scriptedProvider) ParseWebhook([]byte) (*paymentdomain.WebhookEvent, error) {
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	return s.parseEvent, nil
}

// muteProvider has no webhook surface.
type muteProvider struct{}

func (muteProvider) Key() string { return "mute" }

func (muteProvider) CreateIntent(context.Context, paymentdomain.CreateIntentRequest) (*paymentdomain.IntentResult, error) {
	return &paymentdomain.IntentResult{Status: paymentdomain.IntentStatusCreated}, nil
}

func (muteProvider) GetStatus(context.Context, paymentdomain.IntentSnapshot) (*paymentdomain.StatusResult, error) {
	return &paymentdomain.StatusResult{Status: paymentdomain.IntentStatusPending}, nil
}

func (muteProvider) Cancel(context.Context, paymentdomain.IntentSnapshot) (*paymentdomain.CancelResult, error) {
	return &paymentdomain.CancelResult{FinalStatus: paymentdomain.IntentStatusCanceled}, nil
}

type fixture struct {
	svc      paymentdomain.Service
	db       *gorm.DB
	fake     *clock.FakeClock
	node     *snowflake.Node
	provider *scriptedProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	stripLockingClauses(gdb)
	require.NoError(t, gdb.AutoMigrate(
		&chargedomain.Charge{},
		&chargedomain.Attempt{},
		&paymentdomain.FallbackIntent{},
		&billingeventdomain.BillingEvent{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC))

	provider := &scriptedProvider{
		createResult: &paymentdomain.IntentResult{
			ProviderPaymentID: "pref-1",
			Status:            paymentdomain.IntentStatusCreated,
		},
	}

	log := zap.NewNop()
	events := billingeventservice.NewService(billingeventservice.Params{
		DB:    gdb,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  billingeventrepo.Provide(),
	})

	svc := NewService(Params{
		DB:         gdb,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Repo:       repository.Provide(),
		ChargeRepo: chargerepo.Provide(),
		Registry:   providers.NewRegistry("scripted", provider, muteProvider{}),
		EventSvc:   events,
	})

	return &fixture{svc: svc, db: gdb, fake: fake, node: node, provider: provider}
}

// stripLockingClauses removes FOR UPDATE clauses so the postgres claim
// queries run on sqlite.
func stripLockingClauses(db *gorm.DB) {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE OF a SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_locking", strip)
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_locking_row", strip)
}

func (f *fixture) ctx() context.Context {
	return tenantctx.WithTenantID(context.Background(), testTenantID)
}

func (f *fixture) seedCharge(t *testing.T, ref string, status chargedomain.Status) *chargedomain.Charge {
	t.Helper()
	now := f.fake.Now()
	charge := &chargedomain.Charge{
		ID:                   f.node.Generate(),
		TenantID:             snowflake.ID(testTenantID),
		SubscriptionID:       f.node.Generate(),
		Kind:                 chargedomain.KindRecurring,
		Status:               status,
		ExternalReference:    ref,
		DueDate:              now,
		AmountDueCents:       2126250,
		Currency:             chargedomain.PresentmentCurrency,
		ReconciliationStatus: chargedomain.ReconciliationPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, f.db.Create(charge).Error)
	return charge
}

func (f *fixture) createIntent(t *testing.T, chargeID snowflake.ID, key string) *paymentdomain.FallbackIntent {
	t.Helper()
	intent, err := f.svc.CreateIntentForCharge(f.ctx(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID:       chargeID,
		Provider:       "scripted",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return intent
}

func (f *fixture) reloadCharge(t *testing.T, id snowflake.ID) chargedomain.Charge {
	t.Helper()
	var charge chargedomain.Charge
	require.NoError(t, f.db.First(&charge, "id = ?", id).Error)
	return charge
}

func (f *fixture) reloadAttempt(t *testing.T, id snowflake.ID) chargedomain.Attempt {
	t.Helper()
	var attempt chargedomain.Attempt
	require.NoError(t, f.db.First(&attempt, "id = ?", id).Error)
	return attempt
}

func (f *fixture) reloadIntent(t *testing.T, id snowflake.ID) paymentdomain.FallbackIntent {
	t.Helper()
	var intent paymentdomain.FallbackIntent
	require.NoError(t, f.db.First(&intent, "id = ?", id).Error)
	return intent
}

func (f *fixture) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(model).Count(&count).Error)
	return count
}

func (f *fixture) eventCount(t *testing.T, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&billingeventdomain.BillingEvent{}).
		Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestCreateIntentForCharge(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-001", chargedomain.StatusPending)
	url := "https://pay.example/i/1"
	qr := "00020101qr"
	f.provider.createResult = &paymentdomain.IntentResult{
		ProviderPaymentID: "pref-1",
		Status:            paymentdomain.IntentStatusPending,
		PaymentURL:        &url,
		QRPayload:         &qr,
	}

	intent := f.createIntent(t, charge.ID, "key-001")

	assert.Equal(t, snowflake.ID(testTenantID), intent.TenantID)
	assert.Equal(t, charge.ID, intent.ChargeID)
	assert.Equal(t, "scripted", intent.Provider)
	assert.Equal(t, "REF-FB-001", intent.ExternalReference)
	assert.Equal(t, paymentdomain.IntentStatusPending, intent.Status)
	assert.Equal(t, int64(2126250), intent.AmountCents)
	assert.Equal(t, chargedomain.PresentmentCurrency, intent.Currency)
	assert.True(t, intent.ExpiresAt.Equal(f.fake.Now().Add(24*time.Hour)))
	require.NotNil(t, intent.ProviderPaymentID)
	assert.Equal(t, "pref-1", *intent.ProviderPaymentID)
	require.NotNil(t, intent.PaymentURL)
	assert.Equal(t, url, *intent.PaymentURL)
	require.NotNil(t, intent.QRPayload)
	assert.Equal(t, qr, *intent.QRPayload)

	// The provider saw the charge's money and the caller's key.
	assert.Equal(t, 1, f.provider.createCalls)
	assert.Equal(t, int64(2126250), f.provider.lastCreateReq.AmountCents)
	assert.Equal(t, "REF-FB-001", f.provider.lastCreateReq.ExternalReference)
	assert.Equal(t, "key-001", f.provider.lastCreateReq.IdempotencyKey)

	// The intent rides on a fallback attempt visible to dunning.
	require.NotNil(t, intent.AttemptID)
	attempt := f.reloadAttempt(t, *intent.AttemptID)
	assert.Equal(t, chargedomain.ChannelFallback, attempt.Channel)
	assert.Equal(t, chargedomain.AttemptStatusPending, attempt.Status)
	assert.Equal(t, 1, attempt.AttemptNo)
	require.NotNil(t, attempt.ScheduledFor)
	assert.True(t, attempt.ScheduledFor.Equal(f.fake.Now()))

	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentCreated))
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventAttemptScheduled))
}

func TestCreateIntentIdempotency(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-002", chargedomain.StatusPending)

	first := f.createIntent(t, charge.ID, "key-dup")
	again := f.createIntent(t, charge.ID, "key-dup")
	assert.Equal(t, first.ID, again.ID)
	// The replay returned early, before any provider call.
	assert.Equal(t, 1, f.provider.createCalls)
	assert.Equal(t, int64(1), f.countRows(t, &paymentdomain.FallbackIntent{}))

	// A fresh key makes a new intent but reuses the still-open fallback
	// attempt instead of stacking a second one.
	second := f.createIntent(t, charge.ID, "key-new")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, *first.AttemptID, *second.AttemptID)
	assert.Equal(t, int64(1), f.countRows(t, &chargedomain.Attempt{}))
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventAttemptScheduled))
	assert.Equal(t, int64(2), f.eventCount(t, billingeventdomain.EventIntentCreated))
}

func TestCreateIntentValidation(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-003", chargedomain.StatusPending)

	_, err := f.svc.CreateIntentForCharge(context.Background(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID: charge.ID, IdempotencyKey: "key-x",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidTenant)

	_, err = f.svc.CreateIntentForCharge(f.ctx(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID: charge.ID, IdempotencyKey: "   ",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidIdempotencyKey)

	_, err = f.svc.CreateIntentForCharge(f.ctx(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID: f.node.Generate(), IdempotencyKey: "key-x",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrChargeNotFound)

	paid := f.seedCharge(t, "REF-FB-004", chargedomain.StatusPaid)
	_, err = f.svc.CreateIntentForCharge(f.ctx(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID: paid.ID, IdempotencyKey: "key-x",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrChargeNotPayable)

	// A charge sitting at the bank is not payable through fallback.
	presented := f.seedCharge(t, "REF-FB-005", chargedomain.StatusPresented)
	_, err = f.svc.CreateIntentForCharge(f.ctx(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID: presented.ID, IdempotencyKey: "key-x",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrChargeNotPayable)

	// A rejected debit is exactly what fallback is for.
	rejected := f.seedCharge(t, "REF-FB-006", chargedomain.StatusRejected)
	_, err = f.svc.CreateIntentForCharge(f.ctx(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID: rejected.ID, IdempotencyKey: "key-ok",
	})
	assert.NoError(t, err)
}

func TestCreateIntentProviderFailureLeavesNoRow(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-010", chargedomain.StatusPending)
	f.provider.createErr = &paymentdomain.ProviderError{
		Provider: "scripted", StatusCode: 503, Transient: true, Detail: "status 503",
	}

	_, err := f.svc.CreateIntentForCharge(f.ctx(), paymentdomain.CreateIntentForChargeRequest{
		ChargeID: charge.ID, Provider: "scripted", IdempotencyKey: "key-fail",
	})
	require.Error(t, err)
	assert.True(t, paymentdomain.IsTransientProviderError(err))

	assert.Equal(t, int64(0), f.countRows(t, &paymentdomain.FallbackIntent{}))
	assert.Equal(t, int64(0), f.countRows(t, &chargedomain.Attempt{}))
}

func TestPollIntentSettlesPaid(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-020", chargedomain.StatusPending)
	intent := f.createIntent(t, charge.ID, "key-20")

	paidAt := time.Date(2024, 5, 6, 11, 30, 0, 0, time.UTC)
	f.provider.statusResult = &paymentdomain.StatusResult{
		Status: paymentdomain.IntentStatusPaid,
		PaidAt: &paidAt,
	}

	polled, err := f.svc.PollIntent(f.ctx(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusPaid, polled.Status)
	require.NotNil(t, polled.PaidAt)
	assert.True(t, polled.PaidAt.Equal(paidAt))

	settled := f.reloadCharge(t, charge.ID)
	assert.Equal(t, chargedomain.StatusPaid, settled.Status)
	require.NotNil(t, settled.AmountPaidCents)
	assert.Equal(t, int64(2126250), *settled.AmountPaidCents)
	require.NotNil(t, settled.PaidAt)
	assert.True(t, settled.PaidAt.Equal(paidAt))
	assert.Equal(t, chargedomain.ReconciliationMatched, settled.ReconciliationStatus)

	attempt := f.reloadAttempt(t, *intent.AttemptID)
	assert.Equal(t, chargedomain.AttemptStatusPaid, attempt.Status)
	require.NotNil(t, attempt.ResultCode)
	assert.Equal(t, "scripted", *attempt.ResultCode)
	assert.Nil(t, attempt.ResultReason)
	require.NotNil(t, attempt.ProcessedAt)

	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentPaid))
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventChargePaid))
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventAttemptSettled))

	// Terminal intents answer from the local row; the poll is a no-op.
	f.provider.statusResult = &paymentdomain.StatusResult{Status: paymentdomain.IntentStatusFailed}
	again, err := f.svc.PollIntent(f.ctx(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusPaid, again.Status)
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentPaid))
}

func TestPollIntentExpiresOverdue(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-021", chargedomain.StatusPending)
	intent := f.createIntent(t, charge.ID, "key-21")

	f.provider.statusResult = &paymentdomain.StatusResult{Status: paymentdomain.IntentStatusPending}

	// Still inside the TTL nothing moves.
	polled, err := f.svc.PollIntent(f.ctx(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusCreated, polled.Status)

	f.fake.Advance(25 * time.Hour)
	polled, err = f.svc.PollIntent(f.ctx(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusExpired, polled.Status)

	attempt := f.reloadAttempt(t, *intent.AttemptID)
	assert.Equal(t, chargedomain.AttemptStatusExpired, attempt.Status)
	require.NotNil(t, attempt.ResultReason)
	assert.Equal(t, "intent_expired", *attempt.ResultReason)

	// Expiry abandons the fallback try without touching the charge.
	assert.Equal(t, chargedomain.StatusPending, f.reloadCharge(t, charge.ID).Status)
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentExpired))
}

func TestPollIntentFailureRejectsCharge(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-022", chargedomain.StatusPending)
	intent := f.createIntent(t, charge.ID, "key-22")

	f.provider.statusResult = &paymentdomain.StatusResult{Status: paymentdomain.IntentStatusFailed}

	polled, err := f.svc.PollIntent(f.ctx(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusFailed, polled.Status)

	assert.Equal(t, chargedomain.StatusRejected, f.reloadCharge(t, charge.ID).Status)

	attempt := f.reloadAttempt(t, *intent.AttemptID)
	assert.Equal(t, chargedomain.AttemptStatusRejected, attempt.Status)
	require.NotNil(t, attempt.ResultReason)
	assert.Equal(t, "provider_rejected", *attempt.ResultReason)

	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentFailed))
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventChargeRejected))
}

func TestCancelIntent(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-030", chargedomain.StatusPending)
	intent := f.createIntent(t, charge.ID, "key-30")

	f.provider.cancelResult = &paymentdomain.CancelResult{FinalStatus: paymentdomain.IntentStatusCanceled}

	canceled, err := f.svc.CancelIntent(f.ctx(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusCanceled, canceled.Status)

	attempt := f.reloadAttempt(t, *intent.AttemptID)
	assert.Equal(t, chargedomain.AttemptStatusCanceled, attempt.Status)
	require.NotNil(t, attempt.ResultReason)
	assert.Equal(t, "intent_canceled", *attempt.ResultReason)

	assert.Equal(t, chargedomain.StatusPending, f.reloadCharge(t, charge.ID).Status)
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentCanceled))
}

func TestCancelIntentReportsConcurrentCompletion(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-031", chargedomain.StatusPending)
	intent := f.createIntent(t, charge.ID, "key-31")

	// The payer finished paying while the cancel was in flight.
	f.provider.cancelResult = &paymentdomain.CancelResult{FinalStatus: paymentdomain.IntentStatusPaid}

	result, err := f.svc.CancelIntent(f.ctx(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusPaid, result.Status)

	assert.Equal(t, chargedomain.StatusPaid, f.reloadCharge(t, charge.ID).Status)
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentPaid))
	assert.Equal(t, int64(0), f.eventCount(t, billingeventdomain.EventIntentCanceled))
}

func TestExpireStaleIntents(t *testing.T) {
	f := newFixture(t)
	first := f.seedCharge(t, "REF-FB-040", chargedomain.StatusPending)
	second := f.seedCharge(t, "REF-FB-041", chargedomain.StatusPending)

	staleA := f.createIntent(t, first.ID, "key-40")
	staleB := f.createIntent(t, second.ID, "key-41")

	f.fake.Advance(25 * time.Hour)
	fresh := f.seedCharge(t, "REF-FB-042", chargedomain.StatusPending)
	open := f.createIntent(t, fresh.ID, "key-42")

	expired, err := f.svc.ExpireStaleIntents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	assert.Equal(t, paymentdomain.IntentStatusExpired, f.reloadIntent(t, staleA.ID).Status)
	assert.Equal(t, paymentdomain.IntentStatusExpired, f.reloadIntent(t, staleB.ID).Status)
	assert.True(t, f.reloadIntent(t, open.ID).Status.Open())
	assert.Equal(t, int64(2), f.eventCount(t, billingeventdomain.EventIntentExpired))

	again, err := f.svc.ExpireStaleIntents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestHandleWebhookReReadsState(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-050", chargedomain.StatusPending)
	intent := f.createIntent(t, charge.ID, "key-50")

	paidAt := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	f.provider.statusResult = &paymentdomain.StatusResult{
		Status: paymentdomain.IntentStatusPaid,
		PaidAt: &paidAt,
	}
	// Notification payment ids never match the stored checkout handle;
	// the external reference is what joins them.
	f.provider.parseEvent = &paymentdomain.WebhookEvent{
		EventID:           "evt-1",
		ProviderPaymentID: "payment-998877",
		ExternalReference: "REF-FB-050",
	}

	err := f.svc.HandleWebhook(context.Background(), "scripted", []byte(`{}`), http.Header{})
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.IntentStatusPaid, f.reloadIntent(t, intent.ID).Status)
	assert.Equal(t, chargedomain.StatusPaid, f.reloadCharge(t, charge.ID).Status)

	// Replay of the same notification is a no-op on a settled intent.
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "scripted", []byte(`{}`), http.Header{}))
	assert.Equal(t, int64(1), f.eventCount(t, billingeventdomain.EventIntentPaid))
}

func TestHandleWebhookRejectsAndIgnores(t *testing.T) {
	f := newFixture(t)
	charge := f.seedCharge(t, "REF-FB-051", chargedomain.StatusPending)
	intent := f.createIntent(t, charge.ID, "key-51")

	err := f.svc.HandleWebhook(context.Background(), "nobody", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	// Registered, but without a webhook surface.
	err = f.svc.HandleWebhook(context.Background(), "mute", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrWebhookUnsupported)

	f.provider.verifyErr = paymentdomain.ErrInvalidSignature
	err = f.svc.HandleWebhook(context.Background(), "scripted", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	f.provider.verifyErr = nil

	// Irrelevant event types are acked without touching anything.
	f.provider.parseErr = paymentdomain.ErrEventIgnored
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "scripted", []byte(`{}`), http.Header{}))
	f.provider.parseErr = nil

	// A notification that matches nothing is acked so the provider stops
	// retrying.
	f.provider.parseEvent = &paymentdomain.WebhookEvent{
		EventID:           "evt-9",
		ProviderPaymentID: "payment-000",
		ExternalReference: "REF-NOBODY",
	}
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "scripted", []byte(`{}`), http.Header{}))

	assert.Equal(t, paymentdomain.IntentStatusCreated, f.reloadIntent(t, intent.ID).Status)
	assert.Equal(t, chargedomain.StatusPending, f.reloadCharge(t, charge.ID).Status)
}
