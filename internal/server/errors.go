package server

import (
	"errors"
	"net/http"

	authdomain "github.com/courtierpro/billing/internal/auth/domain"
	clientdomain "github.com/courtierpro/billing/internal/client/domain"
	featuredomain "github.com/courtierpro/billing/internal/feature/domain"
	invoicedomain "github.com/courtierpro/billing/internal/invoice/domain"
	"github.com/courtierpro/billing/internal/money"
	quotedomain "github.com/courtierpro/billing/internal/quote/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
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
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

// ErrorHandlingMiddleware turns errors recorded on the gin context into
// the stable error envelope. Store failures are logged and reported
// generically; internal errors never reach the caller verbatim.
func ErrorHandlingMiddleware(log *zap.Logger) gin.HandlerFunc {
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
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(lastErr.Err),
			)
		}

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
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, featuredomain.ErrFeatureDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "feature_disabled",
			Message: "feature not available on current plan",
		}
	case errors.Is(err, featuredomain.ErrQuotaExceeded):
		return http.StatusForbidden, errorPayload{
			Type:    "quota_exceeded",
			Message: "plan quota reached for this year",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
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
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, money.ErrNoLineItems),
		errors.Is(err, money.ErrEmptyDescription),
		errors.Is(err, money.ErrInvalidQuantity),
		errors.Is(err, money.ErrInvalidUnitPrice),
		errors.Is(err, money.ErrInvalidTaxRate),
		errors.Is(err, quotedomain.ErrInvalidClient),
		errors.Is(err, quotedomain.ErrInvalidPageToken),
		errors.Is(err, invoicedomain.ErrInvalidClient),
		errors.Is(err, invoicedomain.ErrInvalidPageToken),
		errors.Is(err, invoicedomain.ErrInvalidAmount),
		errors.Is(err, invoicedomain.ErrInvalidMethod),
		errors.Is(err, invoicedomain.ErrPaymentExceeds),
		errors.Is(err, clientdomain.ErrInvalidName):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenRevoked),
		errors.Is(err, quotedomain.ErrInvalidTenant),
		errors.Is(err, invoicedomain.ErrInvalidTenant),
		errors.Is(err, clientdomain.ErrInvalidTenant),
		errors.Is(err, featuredomain.ErrInvalidTenant):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, quotedomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, clientdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, quotedomain.ErrNotEditable),
		errors.Is(err, quotedomain.ErrAlreadySent),
		errors.Is(err, quotedomain.ErrNotSent),
		errors.Is(err, quotedomain.ErrAlreadyDecided),
		errors.Is(err, quotedomain.ErrExpired),
		errors.Is(err, quotedomain.ErrNotAccepted),
		errors.Is(err, quotedomain.ErrConverted),
		errors.Is(err, invoicedomain.ErrNotEditable),
		errors.Is(err, invoicedomain.ErrAlreadySent),
		errors.Is(err, invoicedomain.ErrCancelled),
		errors.Is(err, invoicedomain.ErrHasPayments),
		errors.Is(err, invoicedomain.ErrConcurrentUpdate),
		errors.Is(err, invoicedomain.ErrAlreadyPaid),
		errors.Is(err, clientdomain.ErrHasDocuments):
		return true
	default:
		return false
	}
}
