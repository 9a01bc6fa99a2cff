// Package errorx defines the service-wide error taxonomy.
// Every classifiable failure carries a business code that maps to an HTTP
// status; unclassified errors surface as internal server errors.
package errorx

import (
	"errors"
	"fmt"
	"net/http"
)

// CodeError is an error with a business code attached.
// It supports %w wrapping, so errors.Is/errors.As can traverse the cause.
type CodeError struct {
	Code  int
	Msg   string
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *CodeError) Unwrap() error {
	return e.cause
}

// New creates a CodeError with the default message for the code.
func New(code int) *CodeError {
	return &CodeError{Code: code, Msg: Message(code)}
}

// Newf creates a CodeError with a formatted message.
func Newf(code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a business code to an underlying error.
func Wrap(err error, code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code int, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...), cause: err}
}

// GetCode extracts the business code from an error chain.
// Unclassified errors report CodeInternalServerError.
func GetCode(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return CodeInternalServerError
}

// Business codes.
const (
	CodeOK                  = 0
	CodeInvalid             = 4000
	CodeInvalidJSONFormat   = 4001
	CodeInvalidUID          = 4002
	CodeInvalidUserName     = 4003
	CodeInvalidMobile       = 4004
	CodeInvalidPassword     = 4005
	CodeAlreadySignedUp     = 4006
	CodeUnauthorized        = 4010
	CodeInvalidToken        = 4011
	CodeTokenExpired        = 4012
	CodePermissionDenied    = 4030
	CodeNotFound            = 4040
	CodeMethodNotAllowed    = 4050
	CodeNotAllowed          = 4051
	CodeInternalServerError = 5000
)

var messages = map[int]string{
	CodeOK:                  "success",
	CodeInvalid:             "invalid request",
	CodeInvalidJSONFormat:   "invalid json format",
	CodeInvalidUID:          "invalid uid",
	CodeInvalidUserName:     "invalid user name",
	CodeInvalidMobile:       "invalid mobile number",
	CodeInvalidPassword:     "invalid password",
	CodeAlreadySignedUp:     "already signed up",
	CodeUnauthorized:        "unauthorized",
	CodeInvalidToken:        "invalid token",
	CodeTokenExpired:        "token expired",
	CodePermissionDenied:    "permission denied",
	CodeNotFound:            "not found",
	CodeMethodNotAllowed:    "method not allowed",
	CodeNotAllowed:          "not allowed",
	CodeInternalServerError: "internal server error",
}

// Message returns the default user message for a code.
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[CodeInternalServerError]
}

// HTTPStatus maps a business code to an HTTP status code.
func HTTPStatus(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalid, CodeInvalidJSONFormat, CodeInvalidUID, CodeInvalidUserName,
		CodeInvalidMobile, CodeInvalidPassword, CodeAlreadySignedUp:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidToken, CodeTokenExpired:
		return http.StatusUnauthorized
	case CodePermissionDenied, CodeNotAllowed:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Predefined instances for direct returns and errors.Is comparisons.
var (
	ErrInvalid      = New(CodeInvalid)
	ErrUnauthorized = New(CodeUnauthorized)
	ErrNotFound     = New(CodeNotFound)
	ErrServerError  = New(CodeInternalServerError)
)

// IsNotFound reports whether the error chain carries CodeNotFound,
// including gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	var codeErr *CodeError
	if errors.As(err, &codeErr) && codeErr.Code == CodeNotFound {
		return true
	}
	return err != nil && err.Error() == "record not found"
}
