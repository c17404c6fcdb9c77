package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authorizationdomain "github.com/rumbosoft/rumbo/internal/authorization"
	bankfiledomain "github.com/rumbosoft/rumbo/internal/bankfile/domain"
	billingeventdomain "github.com/rumbosoft/rumbo/internal/billingevent/domain"
	chargedomain "github.com/rumbosoft/rumbo/internal/charge/domain"
	collectionsdomain "github.com/rumbosoft/rumbo/internal/collections/domain"
	mandatedomain "github.com/rumbosoft/rumbo/internal/mandate/domain"
	modifierdomain "github.com/rumbosoft/rumbo/internal/modifier/domain"
	paymentdomain "github.com/rumbosoft/rumbo/internal/payment/domain"
	subscriptiondomain "github.com/rumbosoft/rumbo/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// ErrorHandlingMiddleware turns the last gin error into the JSON error
// envelope. Handlers never write error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorizationdomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, bankfiledomain.ErrControlTotalsMismatch):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "control_totals_mismatch",
			Message: "declared control totals do not match file contents",
		}
	case errors.Is(err, bankfiledomain.ErrArtifactUnavailable),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, mandatedomain.ErrInvalidAccountNumber),
		errors.Is(err, mandatedomain.ErrInvalidHolderName),
		errors.Is(err, mandatedomain.ErrInvalidTaxID),
		errors.Is(err, mandatedomain.ErrConsentRequired):
		return true
	case errors.Is(err, modifierdomain.ErrInvalidID),
		errors.Is(err, modifierdomain.ErrInvalidKind),
		errors.Is(err, modifierdomain.ErrInvalidLabel),
		errors.Is(err, modifierdomain.ErrInvalidPct),
		errors.Is(err, modifierdomain.ErrInvalidEffectiveRange):
		return true
	case errors.Is(err, paymentdomain.ErrInvalidIdempotencyKey),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrWebhookUnsupported):
		return true
	case errors.Is(err, billingeventdomain.ErrInvalidPageToken),
		errors.Is(err, billingeventdomain.ErrInvalidTimeRange),
		errors.Is(err, billingeventdomain.ErrInvalidEventType):
		return true
	case errors.Is(err, subscriptiondomain.ErrInvalidAnchorDay),
		errors.Is(err, subscriptiondomain.ErrInvalidTimezone):
		return true
	case errors.Is(err, chargedomain.ErrInvalidID),
		errors.Is(err, chargedomain.ErrInvalidAmount),
		errors.Is(err, chargedomain.ErrInvalidDescription):
		return true
	case errors.Is(err, bankfiledomain.ErrEmptyFile),
		errors.Is(err, bankfiledomain.ErrMalformedFile),
		errors.Is(err, bankfiledomain.ErrInvalidHeader),
		errors.Is(err, bankfiledomain.ErrInvalidRow):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, mandatedomain.ErrMandateNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, paymentdomain.ErrChargeNotFound),
		errors.Is(err, paymentdomain.ErrIntentNotFound),
		errors.Is(err, chargedomain.ErrChargeNotFound),
		errors.Is(err, bankfiledomain.ErrBatchNotFound),
		errors.Is(err, modifierdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, mandatedomain.ErrMandateRevoked),
		errors.Is(err, subscriptiondomain.ErrSubscriptionCanceled),
		errors.Is(err, paymentdomain.ErrChargeNotPayable),
		errors.Is(err, chargedomain.ErrChargeImmutable),
		errors.Is(err, chargedomain.ErrInvalidTransition),
		errors.Is(err, bankfiledomain.ErrDuplicateImport),
		errors.Is(err, gorm.ErrDuplicatedKey):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, mandatedomain.ErrInvalidTenant),
		errors.Is(err, subscriptiondomain.ErrInvalidTenant),
		errors.Is(err, paymentdomain.ErrInvalidTenant),
		errors.Is(err, collectionsdomain.ErrInvalidTenant),
		errors.Is(err, modifierdomain.ErrInvalidTenant),
		errors.Is(err, billingeventdomain.ErrInvalidTenant),
		errors.Is(err, chargedomain.ErrInvalidTenant),
		errors.Is(err, authorizationdomain.ErrInvalidActor),
		errors.Is(err, authorizationdomain.ErrInvalidTenant),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	switch code {
	case "consent_required":
		return "consent_accepted"
	case "empty_file", "bankfile_malformed", "bankfile_invalid_header", "bankfile_invalid_row":
		return "file"
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_account_number":
		return "account number is not a valid CBU"
	case "consent_required":
		return "direct debit consent must be accepted"
	case "invalid_idempotency_key":
		return "idempotency key must be 1-128 printable characters"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger; it reuses the response
// mapping so log labels and wire payloads never disagree.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
