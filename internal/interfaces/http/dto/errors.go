package dto

import (
	"net/http"
	"strings"
)

// Transport error codes. Domain errors keep the code they were raised with.
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeInvalidJSON  = "INVALID_JSON"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeTokenExpired = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "INVALID_TOKEN"
	ErrCodeTokenRevoked = "TOKEN_REVOKED"
	ErrCodeMissingScope = "MISSING_COMPANY"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeTooLarge     = "REQUEST_TOO_LARGE"
	ErrCodeUnavailable  = "SERVICE_UNAVAILABLE"
)

// Domain error codes with a status other than the INVALID_ prefix default
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeLockNotObtained     = "LOCK_NOT_OBTAINED"
	ErrCodeRecognitionClosed   = "RECOGNITION_CLOSED"
	ErrCodeRecognitionNotOpen  = "RECOGNITION_NOT_OPEN"
	ErrCodeDateResolution      = "DATE_RESOLUTION_FAILED"
	ErrCodePolicyScopeConflict = "POLICY_SCOPE_CONFLICT"
	ErrCodeOverAdjustment      = "OVER_ADJUSTMENT"
	ErrCodeSideNotConfigured   = "SIDE_NOT_CONFIGURED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeTokenRevoked: http.StatusUnauthorized,
	ErrCodeMissingScope: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeLockNotObtained:     http.StatusConflict,
	ErrCodeRecognitionClosed:   http.StatusConflict,
	ErrCodePolicyScopeConflict: http.StatusConflict,

	ErrCodeInvalidState:       http.StatusUnprocessableEntity,
	ErrCodeRecognitionNotOpen: http.StatusUnprocessableEntity,
	ErrCodeDateResolution:     http.StatusUnprocessableEntity,
	ErrCodeOverAdjustment:     http.StatusUnprocessableEntity,
	ErrCodeSideNotConfigured:  http.StatusUnprocessableEntity,

	ErrCodeTooLarge:    http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited: http.StatusTooManyRequests,
	ErrCodeUnavailable: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unlisted INVALID_* codes are input errors (400); anything else is 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	if strings.HasPrefix(code, "INVALID_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
