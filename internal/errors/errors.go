package errors

import (
	"fmt"
	"net/http"
)

// GatewayError is an error that maps to a client-facing HTTP status.
// Responses built from it carry no body.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return e.Message
}

// Write writes the status line with an empty body.
func (e *GatewayError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(e.Code)
}

// Response builds a complete, empty-bodied response for the error's status.
// Each call returns a fresh value so callers may mutate its headers.
func (e *GatewayError) Response() *http.Response {
	return StatusResponse(e.Code)
}

// StatusResponse builds an HTTP/1.1 response with the given status and no body.
func StatusResponse(code int) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", code, http.StatusText(code)),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          http.NoBody,
		ContentLength: 0,
	}
}

// Common errors
var (
	ErrNotFound = &GatewayError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrUnauthorized = &GatewayError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
	}

	ErrForbidden = &GatewayError{
		Code:    http.StatusForbidden,
		Message: "Forbidden",
	}

	ErrTooManyRequests = &GatewayError{
		Code:    http.StatusTooManyRequests,
		Message: "Too Many Requests",
	}

	ErrBadGateway = &GatewayError{
		Code:    http.StatusBadGateway,
		Message: "Bad Gateway",
	}

	ErrBadRequest = &GatewayError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrInternalServer = &GatewayError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)
