// Package mercadopago integrates the Mercado Pago checkout API as a
// fallback payment provider: a preference is opened per charge and the
// payer follows either the init_point URL or the QR payload.
package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rumbosoft/rumbo/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	ProviderKey = "mercadopago"

	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

type Config struct {
	BaseURL     string
	AccessToken string
	// WebhookKey signs push notifications; webhooks are rejected when it
	// is unset.
	WebhookKey string
	Timeout    time.Duration
}

type Provider struct {
	cfg    Config
	log    *zap.Logger
	client *http.Client
}

func NewProvider(cfg Config, log *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Provider{
		cfg:    cfg,
		log:    log.Named("payment.mercadopago"),
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Key() string { return ProviderKey }

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	ExternalReference string           `json:"external_reference"`
	Items             []preferenceItem `json:"items"`
	Expires           bool             `json:"expires"`
	ExpirationDateTo  string           `json:"expiration_date_to"`
}

type preferenceResponse struct {
	ID                 string `json:"id"`
	InitPoint          string `json:"init_point"`
	SandboxInitPoint   string `json:"sandbox_init_point"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode string `json:"qr_code"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (p *Provider) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.IntentResult, error) {
	title := strings.TrimSpace(req.ExternalReference)
	if req.Charge != nil && req.Charge.Description != nil && strings.TrimSpace(*req.Charge.Description) != "" {
		title = strings.TrimSpace(*req.Charge.Description)
	}

	body := preferenceRequest{
		ExternalReference: req.ExternalReference,
		Items: []preferenceItem{{
			Title:      title,
			Quantity:   1,
			UnitPrice:  float64(req.AmountCents) / 100,
			CurrencyID: req.Currency,
		}},
		Expires:          true,
		ExpirationDateTo: req.ExpiresAt.UTC().Format(time.RFC3339),
	}

	data, status, err := p.do(ctx, http.MethodPost, "/checkout/preferences", body, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, p.apiError(status, data)
	}

	var pref preferenceResponse
	if err := json.Unmarshal(data, &pref); err != nil {
		return nil, p.malformed(data)
	}
	if strings.TrimSpace(pref.ID) == "" {
		return nil, p.malformed(data)
	}

	result := &domain.IntentResult{
		ProviderPaymentID: pref.ID,
		Status:            domain.IntentStatusCreated,
	}
	if u := strings.TrimSpace(pref.InitPoint); u != "" {
		result.PaymentURL = &u
	}
	if qr := strings.TrimSpace(pref.PointOfInteraction.TransactionData.QRCode); qr != "" {
		result.QRPayload = &qr
	}
	return result, nil
}

type paymentSearchResponse struct {
	Results []paymentResult `json:"results"`
}

type paymentResult struct {
	ID           json.Number `json:"id"`
	Status       string      `json:"status"`
	StatusDetail string      `json:"status_detail"`
	DateApproved string      `json:"date_approved"`
}

func (p *Provider) GetStatus(ctx context.Context, snap domain.IntentSnapshot) (*domain.StatusResult, error) {
	path := "/v1/payments/search?sort=date_created&criteria=desc&external_reference=" +
		url.QueryEscape(snap.ExternalReference)
	data, status, err := p.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, p.apiError(status, data)
	}

	var search paymentSearchResponse
	if err := json.Unmarshal(data, &search); err != nil {
		return nil, p.malformed(data)
	}

	// A preference can accumulate several payment tries; one approval
	// settles the intent regardless of earlier rejections.
	out := &domain.StatusResult{Status: domain.IntentStatusPending}
	sawTerminalFailure := false
	for _, payment := range search.Results {
		switch mapPaymentStatus(payment.Status) {
		case domain.IntentStatusPaid:
			out.Status = domain.IntentStatusPaid
			if at, err := time.Parse(time.RFC3339, payment.DateApproved); err == nil {
				utc := at.UTC()
				out.PaidAt = &utc
			}
			return out, nil
		case domain.IntentStatusFailed:
			sawTerminalFailure = true
		}
	}
	if sawTerminalFailure {
		out.Status = domain.IntentStatusFailed
	}
	return out, nil
}

func (p *Provider) Cancel(ctx context.Context, snap domain.IntentSnapshot) (*domain.CancelResult, error) {
	// Expire the preference first, then re-read payments: a payment that
	// completed while the cancel was in flight must surface as PAID.
	expireBody := map[string]any{
		"expires":            true,
		"expiration_date_to": time.Now().UTC().Format(time.RFC3339),
	}
	data, status, expireErr := p.do(ctx, http.MethodPut,
		"/checkout/preferences/"+url.PathEscape(snap.ProviderPaymentID), expireBody, "")
	if expireErr == nil && (status < 200 || status >= 300) {
		expireErr = p.apiError(status, data)
	}

	current, statusErr := p.GetStatus(ctx, snap)
	if statusErr == nil && current.Status == domain.IntentStatusPaid {
		return &domain.CancelResult{FinalStatus: domain.IntentStatusPaid}, nil
	}
	if expireErr != nil {
		return nil, expireErr
	}
	if statusErr != nil {
		return nil, statusErr
	}
	return &domain.CancelResult{FinalStatus: domain.IntentStatusCanceled}, nil
}

// VerifyWebhook checks the x-signature header: HMAC-SHA256 over
// "{ts}.{body}" with the webhook key, hex-encoded in the v1 fields.
func (p *Provider) VerifyWebhook(payload []byte, headers http.Header) error {
	if strings.TrimSpace(p.cfg.WebhookKey) == "" {
		return domain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("X-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	ts, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signed := fmt.Sprintf("%s.%s", ts, string(payload))
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookKey))
	_, _ = mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

type webhookPayload struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID                json.Number `json:"id"`
		ExternalReference string      `json:"external_reference"`
	} `json:"data"`
}

// ParseWebhook extracts the identifiers from a payment notification.
// Notifications carry no trustworthy state; callers re-read it through
// GetStatus.
func (p *Provider) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Type) != "payment" {
		return nil, domain.ErrEventIgnored
	}
	paymentID := strings.TrimSpace(event.Data.ID.String())
	reference := strings.TrimSpace(event.Data.ExternalReference)
	if paymentID == "" && reference == "" {
		return nil, domain.ErrInvalidPayload
	}
	return &domain.WebhookEvent{
		EventID:           event.ID.String(),
		ProviderPaymentID: paymentID,
		ExternalReference: reference,
	}, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body any, idempotencyKey string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, &domain.ProviderError{
			Provider:  ProviderKey,
			Transient: true,
			Detail:    domain.SanitizeProviderDetail(err.Error(), p.cfg.AccessToken, p.cfg.WebhookKey),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, &domain.ProviderError{
			Provider:   ProviderKey,
			StatusCode: resp.StatusCode,
			Transient:  true,
			Detail:     domain.SanitizeProviderDetail(err.Error(), p.cfg.AccessToken, p.cfg.WebhookKey),
		}
	}
	return data, resp.StatusCode, nil
}

func (p *Provider) apiError(status int, body []byte) error {
	detail := domain.SanitizeProviderDetail(string(body), p.cfg.AccessToken, p.cfg.WebhookKey)
	transient := status >= 500 || status == http.StatusTooManyRequests
	p.log.Warn("mercadopago api error",
		zap.Int("status", status),
		zap.Bool("transient", transient),
		zap.String("detail", detail),
	)
	return &domain.ProviderError{
		Provider:   ProviderKey,
		StatusCode: status,
		Transient:  transient,
		Detail:     fmt.Sprintf("status %d: %s", status, detail),
	}
}

func (p *Provider) malformed(body []byte) error {
	return &domain.ProviderError{
		Provider:  ProviderKey,
		Transient: true,
		Detail: "malformed response: " +
			domain.SanitizeProviderDetail(string(body), p.cfg.AccessToken, p.cfg.WebhookKey),
	}
}

func mapPaymentStatus(status string) domain.IntentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return domain.IntentStatusPaid
	case "rejected", "cancelled", "refunded", "charged_back":
		return domain.IntentStatusFailed
	default:
		// pending, in_process, in_mediation, authorized
		return domain.IntentStatusPending
	}
}

func parseSignatureHeader(header string) (string, []string, error) {
	var ts string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "ts" {
			ts = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
}
