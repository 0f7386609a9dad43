package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/trustledger/internal/audit/domain"
	retainerdomain "github.com/smallbiznis/trustledger/internal/retainer/domain"
)

// retryAfterSeconds is advertised on transient ledger failures.
const retryAfterSeconds = 1

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
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
	ErrInternal     = errors.New("internal_error")
)

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
		if payload.Retryable {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
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

	var ledgerErr *retainerdomain.Error
	if errors.As(err, &ledgerErr) && ledgerErr != nil {
		return mapLedgerError(ledgerErr)
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidOrganization):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func mapLedgerError(err *retainerdomain.Error) (int, errorPayload) {
	payload := errorPayload{
		Type:      string(err.Kind),
		Message:   err.Reason,
		Retryable: err.Kind.Transient(),
	}
	if payload.Message == "" {
		payload.Message = string(err.Kind)
	}

	switch err.Kind {
	case retainerdomain.KindInvalidAmount,
		retainerdomain.KindInvalidRequest,
		retainerdomain.KindInvalidOrganization:
		return http.StatusBadRequest, payload
	case retainerdomain.KindRetainerNotFound:
		return http.StatusNotFound, payload
	case retainerdomain.KindRetainerNotActive,
		retainerdomain.KindAlreadyRefunded,
		retainerdomain.KindBalanceNotZero,
		retainerdomain.KindReferenceInUse:
		return http.StatusConflict, payload
	case retainerdomain.KindInsufficientBalance,
		retainerdomain.KindReferenceNotFound:
		return http.StatusUnprocessableEntity, payload
	case retainerdomain.KindTransactionConflict,
		retainerdomain.KindCommitTimeout:
		return http.StatusServiceUnavailable, payload
	default:
		// internal and invariant failures never leak their reason
		payload.Message = "internal server error"
		return http.StatusInternalServerError, payload
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// classifyErrorForLog returns the error type and a stable code for request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	var ledgerErr *retainerdomain.Error
	if errors.As(err, &ledgerErr) && ledgerErr != nil {
		return "ledger", ledgerErr.Code()
	}
	if asValidationErrors(err) != nil {
		return "validation", "validation_error"
	}
	_, payload := mapError(err)
	return "http", payload.Type
}
