package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

// レスポンスの code
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeInvalidCredential   = "INVALID_CREDENTIAL"
	CodeForbidden           = "FORBIDDEN"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidStatus       = "INVALID_STATUS"
	CodePriceMismatch       = "PRICE_MISMATCH"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeGatewayError        = "GATEWAY_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	CodeCheckoutInProgress  = "CHECKOUT_IN_PROGRESS"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeInternal            = "INTERNAL_ERROR"
)

type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func NewHTTPError(status int, code string, message string) error {
	return &HTTPError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// よく使うもの
func errValidation(msg string) error {
	return NewHTTPError(http.StatusBadRequest, CodeValidation, msg)
}

func errNotFound() error {
	return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
}

func errUnauthenticated() error {
	return NewHTTPError(http.StatusUnauthorized, CodeUnauthenticated, "unauthorized")
}

func errDB() error {
	return NewHTTPError(http.StatusInternalServerError, CodeInternal, "db error")
}
