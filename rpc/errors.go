package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrDuplicateRoute is returned when a route is registered twice.
	ErrDuplicateRoute = errors.New("rpc: duplicate route")

	// ErrUnknownRoute is returned for calls and invalidations naming no procedure.
	ErrUnknownRoute = errors.New("rpc: unknown route")

	// ErrNotCached is returned when a mutation invalidates an uncached query.
	ErrNotCached = errors.New("rpc: query is not cached")

	// ErrInvalidRoute is returned for empty routes or routes containing '/'.
	ErrInvalidRoute = errors.New("rpc: invalid route")
)

// Error codes carried in error responses.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotSupported = "METHOD_NOT_SUPPORTED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

var codeStatus = map[string]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeMethodNotSupported: http.StatusMethodNotAllowed,
	CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is a procedure error with a wire code. Handlers return it to choose
// the response status; other errors are reported as INTERNAL_SERVER_ERROR.
type Error struct {
	Code    string
	Message string
	Err     error
}

// NewError creates an Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error wrapping err.
func Errorf(code string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error's code.
func (e *Error) Status() int {
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// codeFor maps an HTTP status to its code.
func codeFor(status int) string {
	for code, s := range codeStatus {
		if s == status {
			return code
		}
	}
	if status >= 400 && status < 500 {
		return CodeBadRequest
	}
	return CodeInternal
}

func asError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, ErrUnknownRoute) {
		return &Error{Code: CodeNotFound, Message: err.Error(), Err: err}
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Err: err}
}
